package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/umredir/umredir/internal/rules"
)

// Engine is a declarative rule store: a flat set of integer-identified rules
// that can be listed, removed and added.
type Engine interface {
	RuleIDs(ctx context.Context) ([]int, error)
	// RemoveRules is idempotent: unknown IDs and empty lists are no-ops.
	RemoveRules(ctx context.Context, ids []int) error
	// AddRules installs the whole batch or nothing. Refusals are reported as
	// errors matching ErrRejected.
	AddRules(ctx context.Context, rs []rules.Rule) error
}

var ErrRejected = errors.New("engine rejected rules")

type RejectedError struct {
	RuleID int
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%v: rule %d: %s", ErrRejected, e.RuleID, e.Reason)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

func reject(id int, format string, args ...any) error {
	return &RejectedError{RuleID: id, Reason: fmt.Sprintf(format, args...)}
}
