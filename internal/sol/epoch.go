package sol

import (
	solanarpc "github.com/gagliardetto/solana-go/rpc"
)

// minimumSlotsPerEpoch is the length of epoch 0 on clusters that boot with
// epoch warmup enabled.
const minimumSlotsPerEpoch = 32

// FirstSlotOfEpoch returns the first absolute slot of an epoch under the
// given schedule. Epochs up to FirstNormalEpoch double in length starting at
// minimumSlotsPerEpoch, so their first slot is (2^epoch - 1) * 32; epochs
// after that are fixed at SlotsPerEpoch.
func FirstSlotOfEpoch(schedule *solanarpc.GetEpochScheduleResult, epoch uint64) uint64 {
	if epoch <= schedule.FirstNormalEpoch {
		return ((uint64(1) << epoch) - 1) * minimumSlotsPerEpoch
	}
	return (epoch-schedule.FirstNormalEpoch)*schedule.SlotsPerEpoch + schedule.FirstNormalSlot
}
