package reliability

import "errors"

type FailureStrategy string

const (
	FailOpen   FailureStrategy = "fail_open"
	FailClosed FailureStrategy = "fail_closed"
)

// ShouldAllow decides whether a request proceeds after a guard returned err.
// Errors matching one of verdicts are decisions, not infrastructure failures,
// and are never overridden by the strategy.
func ShouldAllow(strategy FailureStrategy, err error, verdicts ...error) bool {
	if err == nil {
		return true
	}
	for _, v := range verdicts {
		if errors.Is(err, v) {
			return false
		}
	}
	return strategy == FailOpen
}
