package probe

import (
	"fmt"
	"strings"
)

// Verdict is the classification a probe returns for a packet. Its values are
// the XDP action codes, so uint32(v) can be handed to the kernel unchanged.
type Verdict uint32

const (
	Drop Verdict = 1 // XDP_DROP
	Pass Verdict = 2 // XDP_PASS
)

func (v Verdict) Valid() bool {
	return v == Drop || v == Pass
}

func (v Verdict) String() string {
	switch v {
	case Drop:
		return "drop"
	case Pass:
		return "pass"
	default:
		return fmt.Sprintf("verdict(%d)", uint32(v))
	}
}

// ParseVerdict accepts "pass" or "drop", case-insensitively.
func ParseVerdict(s string) (Verdict, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pass":
		return Pass, nil
	case "drop":
		return Drop, nil
	default:
		return 0, fmt.Errorf("%w: %q (expected pass or drop)", ErrBadVerdict, s)
	}
}

func (v Verdict) MarshalText() ([]byte, error) {
	if !v.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrBadVerdict, uint32(v))
	}

	return []byte(v.String()), nil
}

func (v *Verdict) UnmarshalText(text []byte) error {
	parsed, err := ParseVerdict(string(text))
	if err != nil {
		return err
	}

	*v = parsed

	return nil
}
