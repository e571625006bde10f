// Package report implements the report lifecycle: the status transition
// table, the administrator update path, and the citizen-originated
// operations that flip the actionRequired flag and emit notification jobs.
package report

import (
	"fmt"

	"civicwatch/internal/types"
)

// transitions is the fixed reachability table. The self-loop is always
// allowed; everything else only moves the lifecycle forward.
var transitions = map[types.ReportStatus][]types.ReportStatus{
	types.StatusCreated:  {types.StatusCreated, types.StatusOpen, types.StatusClosed},
	types.StatusOpen:     {types.StatusOpen, types.StatusClosed},
	types.StatusClosed:   {types.StatusClosed, types.StatusReopened},
	types.StatusReopened: {types.StatusReopened, types.StatusClosed},
}

// ValidateTransition fails with an invalid_transition AppError unless `to`
// is reachable from `from` per the transition table.
func ValidateTransition(from, to types.ReportStatus) error {
	allowed, ok := transitions[from]
	if !ok {
		return types.NewAppError(types.ErrCodeInvalidTransition,
			fmt.Sprintf("unknown status %q", from), nil)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return types.NewAppError(types.ErrCodeInvalidTransition,
		fmt.Sprintf("invalid state transition from %s to %s", from, to), nil)
}
