package rewards

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
)

var (
	// ErrRecordNotFound is returned when no record has been calculated for the
	// requested identity and epoch.
	ErrRecordNotFound = errors.New("reward record not found")

	// ErrRecordMismatch is returned when a record file's contents disagree
	// with the identity and epoch it was looked up under. Stale or copied
	// files must never silently serve another calculation's result.
	ErrRecordMismatch = errors.New("reward record does not match requested identity and epoch")
)

const (
	recordDirPerm  = 0o700
	recordFilePerm = 0o600
)

type StoreConfig struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	// Dir is the directory reward record files are kept in. Created on first
	// save if missing.
	Dir string
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Dir == "" {
		return errors.New("dir is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Store persists reward records as one JSON document per (identity, epoch)
// pair under a local directory.
type Store struct {
	log *slog.Logger
	cfg StoreConfig
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Store{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// DefaultDir returns the default record directory, ~/.local/rewardshare.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".local", "rewardshare"), nil
}

// Path returns the record file path for an identity and epoch.
func (s *Store) Path(identity solana.PublicKey, epoch uint64) string {
	return filepath.Join(s.cfg.Dir, fmt.Sprintf("rewards_%s_%d.json", identity, epoch))
}

// Save writes the record, overwriting any previous calculation for the same
// identity and epoch.
func (s *Store) Save(record *Record) error {
	if record == nil {
		return errors.New("record is required")
	}
	identity, err := solana.PublicKeyFromBase58(record.ValidatorIdentity)
	if err != nil {
		return fmt.Errorf("invalid validator identity %q: %w", record.ValidatorIdentity, err)
	}

	if err := os.MkdirAll(s.cfg.Dir, recordDirPerm); err != nil {
		return fmt.Errorf("failed to create record directory %s: %w", s.cfg.Dir, err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal reward record: %w", err)
	}

	path := s.Path(identity, record.Epoch)
	if err := os.WriteFile(path, data, recordFilePerm); err != nil {
		return fmt.Errorf("failed to write reward record %s: %w", path, err)
	}

	s.log.Debug("rewards: saved record",
		"path", path,
		"identity", record.ValidatorIdentity,
		"epoch", record.Epoch,
		"totalBlockRewards", record.TotalBlockRewards,
	)
	return nil
}

// Load reads the record for an identity and epoch. Absent files return
// ErrRecordNotFound; a file whose embedded identity or epoch disagrees with
// the request returns ErrRecordMismatch.
func (s *Store) Load(identity solana.PublicKey, epoch uint64) (*Record, error) {
	path := s.Path(identity, epoch)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no reward record for identity %s epoch %d: %w", identity, epoch, ErrRecordNotFound)
		}
		return nil, fmt.Errorf("failed to read reward record %s: %w", path, err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to parse reward record %s: %w", path, err)
	}
	if record.ValidatorIdentity != identity.String() || record.Epoch != epoch {
		return nil, fmt.Errorf("record %s holds identity %s epoch %d: %w",
			path, record.ValidatorIdentity, record.Epoch, ErrRecordMismatch)
	}
	return &record, nil
}

// MarkTransferred stamps the record with the confirmed transfer's signature
// and amount and writes it back.
func (s *Store) MarkTransferred(identity solana.PublicKey, epoch uint64, signature solana.Signature, amount uint64) (*Record, error) {
	record, err := s.Load(identity, epoch)
	if err != nil {
		return nil, err
	}

	now := s.cfg.Clock.Now().UTC()
	record.TransferredAt = &now
	record.TransferSignature = signature.String()
	record.TransferredAmount = amount

	if err := s.Save(record); err != nil {
		return nil, err
	}
	s.log.Info("rewards: marked record transferred",
		"identity", record.ValidatorIdentity,
		"epoch", record.Epoch,
		"amount", amount,
		"signature", signature.String(),
	)
	return record, nil
}
