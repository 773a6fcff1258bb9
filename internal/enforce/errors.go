package enforce

import (
	"errors"
	"fmt"
	"strings"
)

// ErrPolicyBlocked matches every PolicyBlockedError with errors.Is.
var ErrPolicyBlocked = errors.New("policy blocked")

// PolicyBlockedError is returned in enforce mode when a DENY decision
// blocks the action. It is the only failure a caller should treat as
// "do not execute".
type PolicyBlockedError struct {
	Action string
	Rules  []string
}

func (e *PolicyBlockedError) Error() string {
	if len(e.Rules) == 0 {
		return fmt.Sprintf("policy blocked action %q", e.Action)
	}
	return fmt.Sprintf("policy blocked action %q: violated %s", e.Action, strings.Join(e.Rules, ", "))
}

func (e *PolicyBlockedError) Is(target error) bool { return target == ErrPolicyBlocked }

// IsPolicyBlocked reports whether err is a block and returns it.
func IsPolicyBlocked(err error) (*PolicyBlockedError, bool) {
	var pb *PolicyBlockedError
	if errors.As(err, &pb) {
		return pb, true
	}
	return nil, false
}
