// Package signer endorses and verifies a reward sharing message under a
// validator identity keypair. It is stateless and never touches the chain.
package signer

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// DefaultMessage is the endorsement message signed when no override is given.
// Verifiers must use the exact same bytes.
const DefaultMessage = "I endorse sharing validator block rewards with this stake pool."

var (
	// ErrInvalidKeypairFile is returned when a keypair file cannot be read or
	// does not hold a 64 byte ed25519 secret key.
	ErrInvalidKeypairFile = errors.New("invalid keypair file")

	// ErrInvalidSignature is returned when a signature string is not base58
	// or has the wrong length.
	ErrInvalidSignature = errors.New("invalid signature")
)

// signatureLength is the ed25519 signature size in bytes.
const signatureLength = 64

// LoadKeypair reads a Solana keygen JSON file (an array of 64 byte values)
// into a private key.
func LoadKeypair(path string) (solana.PrivateKey, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load keypair from %s: %w: %w", path, ErrInvalidKeypairFile, err)
	}
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keypair file %s holds a %d byte key, want %d: %w",
			path, len(key), ed25519.PrivateKeySize, ErrInvalidKeypairFile)
	}
	return key, nil
}

// Sign signs the message with the identity keypair.
func Sign(keypair solana.PrivateKey, message string) (solana.Signature, error) {
	if len(keypair) != ed25519.PrivateKeySize {
		return solana.Signature{}, errors.New("keypair is required")
	}
	if message == "" {
		return solana.Signature{}, errors.New("message is required")
	}
	sig, err := keypair.Sign([]byte(message))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign message: %w", err)
	}
	return sig, nil
}

// ParseSignature decodes a base58 signature string.
func ParseSignature(s string) (solana.Signature, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("signature is not valid base58: %w", ErrInvalidSignature)
	}
	if len(raw) != signatureLength {
		return solana.Signature{}, fmt.Errorf("signature is %d bytes, want %d: %w", len(raw), signatureLength, ErrInvalidSignature)
	}
	var sig solana.Signature
	copy(sig[:], raw)
	return sig, nil
}

// Verify reports whether the signature was produced over the message by the
// identity's secret key.
func Verify(identity solana.PublicKey, message string, sig solana.Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(identity.Bytes()), []byte(message), sig[:])
}
