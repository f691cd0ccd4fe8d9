package schedule

import "strings"

// RefillStrategy is how a recurring slot's count is replenished at each
// refill occurrence.
type RefillStrategy string

const (
	// RefillFixed adds the base count on top of whatever is left.
	RefillFixed RefillStrategy = "FIXED"
	// RefillReset discards the leftover and starts from the base count.
	RefillReset RefillStrategy = "RESET"
	// RefillMaxCap behaves like FIXED but never exceeds the cap.
	RefillMaxCap RefillStrategy = "MAX_CAP"
)

// ParseRefillStrategy is lenient; anything unrecognized means RESET.
func ParseRefillStrategy(s string) RefillStrategy {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(RefillFixed):
		return RefillFixed
	case string(RefillMaxCap):
		return RefillMaxCap
	default:
		return RefillReset
	}
}

// NextCount computes the slot count after one refill occurrence. Negative
// leftovers count as zero; a MAX_CAP cap of zero or less means uncapped.
func NextCount(strategy RefillStrategy, leftover, base, cap int) int {
	if leftover < 0 {
		leftover = 0
	}
	switch strategy {
	case RefillFixed:
		return leftover + base
	case RefillMaxCap:
		n := leftover + base
		if cap > 0 && n > cap {
			return cap
		}
		return n
	default:
		return base
	}
}
