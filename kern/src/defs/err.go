// Package defs holds the small set of types every other package needs to
// speak the same language: error codes and thread identifiers. Nothing here
// is specific to memory management, scheduling, or any one subsystem.
package defs

import "fmt"

// Err_t is the kernel's own error-code type. Zero means success; everything
// else identifies a specific failure the way errno does. Packages that need
// a Go error value can call Err_t.Error(), but most internal call sites pass
// Err_t around directly, matching how the rest of this tree threads error
// codes through return values rather than wrapping them.
type Err_t int

const (
	// 0 reports success.
	EFAULT        Err_t = 1  // bad address passed across a user/kernel boundary
	ENOMEM        Err_t = 2  // no memory available to satisfy a request
	ENOHEAP       Err_t = 3  // kernel heap arena exhausted
	EINVAL        Err_t = 4  // invalid argument
	ENAMETOOLONG  Err_t = 5  // supplied string exceeded the maximum length
	EAGAIN        Err_t = 6  // operation would block, retry
	ENOSPC        Err_t = 7  // backing store exhausted
	ESRCH         Err_t = 8  // no such thread or task
	EBUSY         Err_t = 9  // resource already owned
	ETIMEDOUT     Err_t = 10 // wait timed out
	EINTR         Err_t = 11 // wait was interrupted
)

var names = map[Err_t]string{
	EFAULT:       "bad address",
	ENOMEM:       "out of memory",
	ENOHEAP:      "heap arena exhausted",
	EINVAL:       "invalid argument",
	ENAMETOOLONG: "name too long",
	EAGAIN:       "resource temporarily unavailable",
	ENOSPC:       "no space left",
	ESRCH:        "no such thread",
	EBUSY:        "resource busy",
	ETIMEDOUT:    "timed out",
	EINTR:        "interrupted",
}

// Error implements the error interface so an Err_t can be returned anywhere
// Go code expects one, without giving up the zero-value-is-success
// convention used internally.
func (e Err_t) Error() string {
	if e == 0 {
		return "success"
	}
	if s, ok := names[e]; ok {
		return s
	}
	return fmt.Sprintf("err_t(%d)", int(e))
}

// Ok reports whether e represents success.
func (e Err_t) Ok() bool {
	return e == 0
}
