//go:build windows

package endpoint

import "syscall"

// reuseControl is a no-op on Windows, which has no SO_REUSEPORT equivalent
// that matches the Linux/BSD multi-bind semantics.
func reuseControl(_, _ string, _ syscall.RawConn) error {
	return nil
}
