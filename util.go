package kernelz

import (
	"errors"
	"fmt"
)

// errIntervalNonPositive is returned by Clock.Interval for d <= 0
// (spec.md B2).
var errIntervalNonPositive = errors.New("kernelz: interval duration must be positive")

// recoverToString renders a recovered panic value for inclusion in an
// interval:error / msg:error event field.
func recoverToString(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	return fmt.Sprintf("%v", r)
}
