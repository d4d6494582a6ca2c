package rollouts

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
)

// percentTolerance absorbs float summation noise only.
const percentTolerance = 1e-9

var ErrInvalidPercentages = errors.New("invalid phase percentages")

// ValidatePercentages requires every phase percentage in (0, 100] and a total of exactly 100.
func ValidatePercentages(pcts []float64) error {
	if len(pcts) == 0 {
		return fmt.Errorf("%w: at least one phase is required", ErrInvalidPercentages)
	}
	sum := 0.0
	for i, p := range pcts {
		if math.IsNaN(p) || p <= 0 || p > 100 {
			return fmt.Errorf("%w: phase %d percentage %v must be in (0, 100]", ErrInvalidPercentages, i, p)
		}
		sum += p
	}
	if math.Abs(sum-100) > percentTolerance {
		return fmt.Errorf("%w: percentages sum to %v, must sum to 100", ErrInvalidPercentages, sum)
	}
	return nil
}

// PhaseDeviceCounts computes ceil(total * pct / 100) per phase. The sum may
// exceed total; selection clamps later phases to whatever remains.
func PhaseDeviceCounts(total int, pcts []float64) []int {
	out := make([]int, len(pcts))
	if total <= 0 {
		return out
	}
	for i, p := range pcts {
		raw := float64(total) * p / 100
		n := int(math.Ceil(raw - 1e-9))
		if n < 0 {
			n = 0
		}
		out[i] = n
	}
	return out
}

// SortDeviceIDs orders device ids ascending by their string form, the stable
// enumeration order used for phase selection.
func SortDeviceIDs(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// SelectDevices takes up to want devices from group, in stable order,
// skipping any id in exclude.
func SelectDevices(group []uuid.UUID, exclude map[uuid.UUID]struct{}, want int) []uuid.UUID {
	if want <= 0 {
		return nil
	}
	ordered := SortDeviceIDs(group)
	out := make([]uuid.UUID, 0, want)
	for _, id := range ordered {
		if len(out) >= want {
			break
		}
		if _, taken := exclude[id]; taken {
			continue
		}
		out = append(out, id)
	}
	return out
}
