package statecraft

import (
	"fmt"

	"github.com/avigley/statecraft/internal/ir"
)

// runActions executes a blocking action batch strictly sequentially. On the
// first failure the batch halts: later actions never run, the error is
// returned to the caller, and context mutations already applied by earlier
// actions remain in place.
func runActions[C any](refs []ir.ActionRef[C], ctx *C, event Event) ([]ActionResult, error) {
	var results []ActionResult
	for i, ref := range refs {
		value, err := callAction(ref, ctx, event)
		if err != nil {
			return results, &ActionError{Name: string(ref.Name), Index: i, Err: err}
		}
		if ref.Kind == ir.ActionKindAssign {
			value = nil // assigns never contribute a value
		}
		results = append(results, ActionResult{Name: string(ref.Name), Value: value})
	}
	return results, nil
}

// callAction invokes one action, converting a panic into an error so that a
// misbehaving action fails its batch instead of tearing down the caller.
func callAction[C any](ref ir.ActionRef[C], ctx *C, event Event) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panicked: %v", r)
		}
	}()
	return ref.Fn(ctx, event)
}
