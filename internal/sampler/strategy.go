package sampler

import "fmt"

// Strategy selects how the receive loop addresses and completes each read.
type Strategy int

const (
	// FixedLength reads exactly data_len bytes at offset 0.
	FixedLength Strategy = iota
	// UntilIdle reads into the whole buffer until it is full or the line idles.
	UntilIdle
	// AlternatingFixed reads exactly data_len bytes, at the alternate offset
	// on every fourth cycle and at offset 0 otherwise.
	AlternatingFixed
	// AlternatingUntilIdle reads until full or idle, from the alternate
	// offset on every fourth cycle and from offset 0 otherwise.
	AlternatingUntilIdle
)

// StrategyFor maps the two build switches onto a Strategy.
func StrategyFor(alternate, untilIdle bool) Strategy {
	switch {
	case alternate && untilIdle:
		return AlternatingUntilIdle
	case alternate:
		return AlternatingFixed
	case untilIdle:
		return UntilIdle
	default:
		return FixedLength
	}
}

// Alternates reports whether the strategy moves its destination on a
// four-cycle cadence.
func (s Strategy) Alternates() bool {
	return s == AlternatingFixed || s == AlternatingUntilIdle
}

// IdleTerminated reports whether reads complete on line idle.
func (s Strategy) IdleTerminated() bool {
	return s == UntilIdle || s == AlternatingUntilIdle
}

func (s Strategy) String() string {
	switch s {
	case FixedLength:
		return "fixed-length"
	case UntilIdle:
		return "until-idle"
	case AlternatingFixed:
		return "alternating-fixed"
	case AlternatingUntilIdle:
		return "alternating-until-idle"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// MarshalText renders the strategy name in JSON and YAML output.
func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
