// Package log provides the default logger used across praefectus when an
// embedder does not supply its own github.com/luxfi/log.Logger.
package log

import (
	"github.com/luxfi/log"
)

// Logger is the structured logger interface used throughout this module.
type Logger = log.Logger

// NewNoOp returns a logger that discards all output, for use whenever a
// subsystem is constructed without an explicit logger.
func NewNoOp() log.Logger {
	return log.NewNoOpLogger()
}

// OrNoOp returns l if non-nil, otherwise a discarding logger.
func OrNoOp(l log.Logger) log.Logger {
	if l == nil {
		return NewNoOp()
	}
	return l
}
