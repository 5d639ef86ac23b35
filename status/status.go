// Package status defines the kernel's result codes and the sentinel errors
// that mirror them at Go API boundaries.
package status

import "errors"

// Code is written into a thread's result field by the scheduler.
type Code uint8

const (
	OK Code = iota
	Timeout
	Aborted
	BadArgument
	BadToken
	NotFound
	AlreadyExists
	Closed
	OutOfMemory
)

var (
	ErrTimeout       = errors.New("timeout")
	ErrAborted       = errors.New("aborted")
	ErrBadArgument   = errors.New("bad argument")
	ErrBadToken      = errors.New("bad token")
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrClosed        = errors.New("closed")
	ErrOutOfMemory   = errors.New("out of memory")
)

var names = [...]string{
	OK:            "ok",
	Timeout:       "timeout",
	Aborted:       "aborted",
	BadArgument:   "bad-argument",
	BadToken:      "bad-token",
	NotFound:      "not-found",
	AlreadyExists: "already-exists",
	Closed:        "closed",
	OutOfMemory:   "out-of-memory",
}

func (c Code) String() string {
	if int(c) < len(names) {
		return names[c]
	}
	return "unknown"
}

// Err returns the sentinel error for c, or nil for OK.
func (c Code) Err() error {
	switch c {
	case OK:
		return nil
	case Timeout:
		return ErrTimeout
	case Aborted:
		return ErrAborted
	case BadArgument:
		return ErrBadArgument
	case BadToken:
		return ErrBadToken
	case NotFound:
		return ErrNotFound
	case AlreadyExists:
		return ErrAlreadyExists
	case Closed:
		return ErrClosed
	case OutOfMemory:
		return ErrOutOfMemory
	}
	return errors.New("status: unknown code " + c.String())
}

// FromError maps a sentinel error (possibly wrapped) back to its code.
// Unrecognised errors map to BadArgument.
func FromError(err error) Code {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, ErrTimeout):
		return Timeout
	case errors.Is(err, ErrAborted):
		return Aborted
	case errors.Is(err, ErrBadToken):
		return BadToken
	case errors.Is(err, ErrNotFound):
		return NotFound
	case errors.Is(err, ErrAlreadyExists):
		return AlreadyExists
	case errors.Is(err, ErrClosed):
		return Closed
	case errors.Is(err, ErrOutOfMemory):
		return OutOfMemory
	}
	return BadArgument
}
