// Package errs holds the error taxonomy shared by the sync engine, the
// remote adapters and the gateway.
package errs

import (
	"context"

	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind is the coarse class of an error, used to decide how it is surfaced.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuth
	KindNotFound
	KindNetwork
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindNetwork:
		return "network"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

var (
	ErrAuth       = errors.New("authentication failed")
	ErrNotFound   = errors.New("not found")
	ErrNetwork    = errors.New("remote unavailable")
	ErrValidation = errors.New("invalid input")

	// ErrDuplicateUsername is an auth error raised before any account is
	// created.
	ErrDuplicateUsername = errors.WithMessage(ErrAuth, "select another username")

	// ErrInvalidTransition is returned by the coordinator when a session
	// transition is not allowed from the current state.
	ErrInvalidTransition = errors.New("invalid session transition")
)

// Auth wraps msg as an AuthError.
func Auth(msg string) error { return errors.WithMessage(ErrAuth, msg) }

// NotFound wraps msg as a NotFoundError.
func NotFound(format string, args ...any) error {
	return errors.WithMessagef(ErrNotFound, format, args...)
}

// Validation wraps msg as a ValidationError.
func Validation(format string, args ...any) error {
	return errors.WithMessagef(ErrValidation, format, args...)
}

// KindOf classifies err. Errors that already carry a sentinel keep it;
// gRPC status codes and context errors from the remote layer are mapped.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrAuth):
		return KindAuth
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, context.DeadlineExceeded):
		return KindNetwork
	}
	if st, ok := status.FromError(errors.Cause(err)); ok {
		switch st.Code() {
		case codes.NotFound:
			return KindNotFound
		case codes.Unauthenticated, codes.PermissionDenied:
			return KindAuth
		case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted,
			codes.ResourceExhausted, codes.Canceled:
			return KindNetwork
		case codes.InvalidArgument, codes.FailedPrecondition:
			return KindValidation
		}
	}
	return KindUnknown
}

// Classify attaches the taxonomy sentinel matching err's kind so callers
// can use errors.Is regardless of which adapter produced it. Unknown
// remote failures are treated as network errors.
func Classify(err error, op string) error {
	if err == nil {
		return nil
	}
	var sentinel error
	switch KindOf(err) {
	case KindAuth:
		sentinel = ErrAuth
	case KindNotFound:
		sentinel = ErrNotFound
	case KindValidation:
		sentinel = ErrValidation
	default:
		sentinel = ErrNetwork
	}
	if errors.Is(err, sentinel) {
		return errors.WithMessage(err, op)
	}
	return &classified{sentinel: sentinel, cause: err, op: op}
}

// IsRecoverable reports whether the operation may be retried by the user.
// Nothing in this layer is fatal; only validation and auth errors need
// different input first.
func IsRecoverable(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindAuth:
		return false
	default:
		return true
	}
}

type classified struct {
	sentinel error
	cause    error
	op       string
}

func (c *classified) Error() string {
	return c.op + ": " + c.sentinel.Error() + ": " + c.cause.Error()
}

func (c *classified) Is(target error) bool { return target == c.sentinel }

func (c *classified) Unwrap() error { return c.cause }

func (c *classified) Cause() error { return c.cause }
