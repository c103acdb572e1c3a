package transport

import (
	"errors"
	"fmt"
)

// ErrConnectionLost is reported when an established connection drops.
var ErrConnectionLost = errors.New("connection lost")

// ErrClosed is returned when using a connection after Close.
var ErrClosed = errors.New("connection closed")

// ConnectionError is a connection level failure. It ends the current
// connection epoch but is never fatal to the process.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func connectionError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return err
	}
	return &ConnectionError{Op: op, Err: err}
}

// IsConnectionError reports whether err is a connection level failure.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
