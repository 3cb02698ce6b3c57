package syncer

import (
	"context"
	"errors"

	"github.com/proeugene/field-syncer/internal/fc"
	"github.com/proeugene/field-syncer/internal/metrics"
	"github.com/proeugene/field-syncer/internal/session"
	"github.com/proeugene/field-syncer/internal/transport"
)

// Sentinel errors owned by the orchestrator. Lower layers contribute their
// own kinds (transport.ErrTimeout, fc.ErrSDCardBacked, session.VerifyError,
// ...); everything is classified via errors.Is/As.
var (
	// ErrSerialOpen wraps a failure to open the port at all.
	ErrSerialOpen = errors.New("serial port open failed")
	// ErrEraseTimeout means the FC still reported data after the erase
	// deadline. The dump is safe on disk; the FC may hold fragments.
	ErrEraseTimeout = errors.New("erase timeout: fc still reports used flash")
	// ErrCancelled is an externally asserted cancel.
	ErrCancelled = errors.New("cancelled")
)

// Exit codes, one per error category, for the invocation surface.
const (
	ExitOK                = 0
	ExitFailure           = 1
	ExitSerialOpen        = 2
	ExitSerialIO          = 3
	ExitTimeout           = 4
	ExitProtocol          = 5
	ExitUnsupportedFC     = 6
	ExitSDCardBacked      = 7
	ExitInsufficientSpace = 8
	ExitVerifyMismatch    = 9
	ExitEraseTimeout      = 10
	ExitCancelled         = 11
)

// ExitCode maps an error to its process exit code.
func ExitCode(err error) int {
	var verify *session.VerifyError
	var space *session.InsufficientSpaceError
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrSerialOpen):
		return ExitSerialOpen
	case errors.As(err, &verify):
		return ExitVerifyMismatch
	case errors.As(err, &space):
		return ExitInsufficientSpace
	case errors.Is(err, ErrEraseTimeout):
		return ExitEraseTimeout
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return ExitCancelled
	case errors.Is(err, fc.ErrSDCardBacked):
		return ExitSDCardBacked
	case errors.Is(err, fc.ErrUnsupportedAPI),
		errors.Is(err, fc.ErrUnsupportedVariant),
		errors.Is(err, fc.ErrUnsupportedDevice),
		errors.Is(err, fc.ErrNoFlash),
		errors.Is(err, fc.ErrFlashNotReady):
		return ExitUnsupportedFC
	case errors.Is(err, transport.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ExitTimeout
	case errors.Is(err, transport.ErrProtocol), errors.Is(err, fc.ErrBadResponse):
		return ExitProtocol
	case errors.Is(err, transport.ErrSerialIO), errors.Is(err, transport.ErrClosed):
		return ExitSerialIO
	default:
		return ExitFailure
	}
}

// mapErrToMetric maps error kinds to metrics labels.
func mapErrToMetric(err error) string {
	var verify *session.VerifyError
	var space *session.InsufficientSpaceError
	switch {
	case errors.As(err, &verify):
		return metrics.ErrVerify
	case errors.As(err, &space):
		return metrics.ErrDisk
	case errors.Is(err, ErrEraseTimeout):
		return metrics.ErrErase
	case errors.Is(err, fc.ErrSDCardBacked),
		errors.Is(err, fc.ErrUnsupportedAPI),
		errors.Is(err, fc.ErrUnsupportedVariant),
		errors.Is(err, fc.ErrUnsupportedDevice),
		errors.Is(err, fc.ErrNoFlash),
		errors.Is(err, fc.ErrFlashNotReady):
		return metrics.ErrHandshake
	case errors.Is(err, transport.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return metrics.ErrTimeout
	case errors.Is(err, transport.ErrProtocol), errors.Is(err, fc.ErrBadResponse):
		return metrics.ErrProtocol
	case errors.Is(err, transport.ErrSerialIO):
		return metrics.ErrSerialWrite
	default:
		return metrics.ErrSession
	}
}
