package schemas

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the browser, executor and oracle layers. Browser
// implementations wrap these so callers can classify with errors.Is.
var (
	ErrLocatorNotFound        = errors.New("locator not found")
	ErrElementNotInteractable = errors.New("element not interactable")
	ErrOracleUnreachable      = errors.New("oracle unreachable")
	ErrOracleMalformed        = errors.New("oracle response malformed")
	ErrMissingFile            = errors.New("upload file missing")
	ErrBrowserUnavailable     = errors.New("browser unavailable")
)

// EnvironmentFailure is the only error the navigation loop propagates: the
// browser could not be started or died in a way a restart cannot repair.
type EnvironmentFailure struct {
	Op  string
	Err error
}

func (e *EnvironmentFailure) Error() string {
	return fmt.Sprintf("environment failure during %s: %v", e.Op, e.Err)
}

func (e *EnvironmentFailure) Unwrap() error { return e.Err }

// IsEnvironmentFailure reports whether err is, or wraps, an EnvironmentFailure.
func IsEnvironmentFailure(err error) bool {
	var ef *EnvironmentFailure
	return errors.As(err, &ef)
}
