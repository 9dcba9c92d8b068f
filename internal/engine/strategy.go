package engine

import (
	"fmt"
	"strings"
)

// Strategy is the conflict policy of a provider accepting changes.
type Strategy int

const (
	// StrategyFail rejects the whole delta when any entity changed on both
	// sides. Nothing is applied.
	StrategyFail Strategy = iota

	// StrategyWinner keeps the local value. Conflicting remote entries are
	// absorbed into the ledger so they are not offered again.
	StrategyWinner

	// StrategyLoser applies every remote change, overwriting local edits.
	StrategyLoser
)

// String returns "fail", "winner" or "loser".
func (s Strategy) String() string {
	switch s {
	case StrategyFail:
		return "fail"
	case StrategyWinner:
		return "winner"
	case StrategyLoser:
		return "loser"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy is the inverse of Strategy.String. Matching ignores case.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fail":
		return StrategyFail, nil
	case "winner":
		return StrategyWinner, nil
	case "loser":
		return StrategyLoser, nil
	}
	return 0, fmt.Errorf("unknown conflict strategy %q (want fail, winner or loser)", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strategy) UnmarshalText(data []byte) error {
	parsed, err := ParseStrategy(string(data))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
