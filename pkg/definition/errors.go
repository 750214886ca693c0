package definition

import "fmt"

// Error is returned for any problem with the definition document itself, as
// opposed to problems staging files or writing output.
type Error struct {
	Msg string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(format string, v ...interface{}) *Error {
	return &Error{Msg: fmt.Sprintf(format, v...)}
}
