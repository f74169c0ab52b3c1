package main

import (
	"errors"
	"syscall"
)

// FormatUserError renders an error for terminal display, replacing the
// failure modes users hit most with actionable messages.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, syscall.EADDRINUSE):
		return "listen address already in use (is another ptymux running?): " + err.Error()
	case errors.Is(err, syscall.ECONNREFUSED):
		return "could not reach the ptymux service (is it running?): " + err.Error()
	default:
		return err.Error()
	}
}
