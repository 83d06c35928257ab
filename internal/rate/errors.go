package rate

import "errors"

var (
	// ErrInvalidConfig is returned by [Config.Validate] and [New].
	ErrInvalidConfig = errors.New("invalid rate limit config")
)

// Reason classifies a denial.
type Reason uint8

const (
	ReasonNone Reason = iota
	// ReasonMainWindow is a per-IP or per-user main window denial.
	ReasonMainWindow
	// ReasonBurst is a short burst window denial.
	ReasonBurst
)

func (r Reason) String() string {
	switch r {
	case ReasonMainWindow:
		return "main_window"
	case ReasonBurst:
		return "burst"
	default:
		return "none"
	}
}
