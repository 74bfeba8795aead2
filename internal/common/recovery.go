package common

import (
	"fmt"
	"runtime/debug"
)

// PanicError converts a value recovered from a panic into an error with the
// captured stack trace. recover must run directly in the deferred function,
// so callers pass its result in rather than letting a helper call it.
func PanicError(r interface{}) error {
	if r == nil {
		return nil
	}
	stack := debug.Stack()

	var err error
	switch v := r.(type) {
	case error:
		err = v
	case string:
		err = fmt.Errorf("%s", v)
	default:
		err = fmt.Errorf("panic: %v", v)
	}

	return fmt.Errorf("%w\nStack trace:\n%s", err, stack)
}

// SafeFunc wraps a function with panic recovery. The returned error is
// either the function's own error or the recovered panic.
func SafeFunc(fn func() error) error {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = PanicError(r)
			}
		}()
		err = fn()
	}()
	return err
}
