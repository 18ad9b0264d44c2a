// Package syncerr defines the error taxonomy shared by every sync-core
// component. Errors carry a Kind so callers can dispatch with errors.Is /
// errors.As the way the teacher's handlers do with ouroboros.ErrNotStarted.
package syncerr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error by what went wrong, independent of message text.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnauthorized
	KindNotFound
	KindPushRequiresBranch
	KindPushAttemptedOnNonRemote
	KindPushHasNoRepositoryHead
	KindRemoteNotEmptyOnLocalEmpty
	KindRemoteDiverged
	KindNoCommonHistory
	KindNetworkError
	KindRemoteConnectionFailure
	KindRemotePackFailed
	KindRemotePackUnexpectedFailure
	KindRemoteUnpackFailed
	KindChecksumMismatch
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindPushRequiresBranch:
		return "push_requires_branch"
	case KindPushAttemptedOnNonRemote:
		return "push_attempted_on_non_remote"
	case KindPushHasNoRepositoryHead:
		return "push_has_no_repository_head"
	case KindRemoteNotEmptyOnLocalEmpty:
		return "remote_not_empty_on_local_empty"
	case KindRemoteDiverged:
		return "remote_diverged"
	case KindNoCommonHistory:
		return "no_common_history"
	case KindNetworkError:
		return "network_error"
	case KindRemoteConnectionFailure:
		return "remote_connection_failure"
	case KindRemotePackFailed:
		return "remote_pack_failed"
	case KindRemotePackUnexpectedFailure:
		return "remote_pack_unexpected_failure"
	case KindRemoteUnpackFailed:
		return "remote_unpack_failed"
	case KindChecksumMismatch:
		return "checksum_mismatch"
	case KindInternal:
		return "internal_error"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned by every sync-core operation
// that can fail for a reason the caller should be able to branch on.
type Error struct {
	Kind    Kind
	Message string
	// Fields carries structured diagnostic context, e.g. the diverged commit
	// path or the do_or_die assertion that failed.
	Fields map[string]any
	Err    error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Err.Error())
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, syncerr.New(KindX, "")) to match purely on Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an *Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind wrapping an underlying error.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithField returns a copy of e with an additional diagnostic field set.
func (e *Error) WithField(key string, value any) *Error {
	cp := *e
	cp.Fields = make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		cp.Fields[k] = v
	}
	cp.Fields[key] = value
	return &cp
}

// KindOf extracts the Kind from err, or KindUnknown if err is not (or does
// not wrap) a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Internal builds a do_or_die assertion failure: a post-condition that
// should never fail by design, carrying diagnostic context.
func Internal(context string, fields map[string]any) *Error {
	return &Error{Kind: KindInternal, Message: context, Fields: fields}
}
