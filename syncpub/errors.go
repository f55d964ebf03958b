package syncpub

import (
	"errors"
)

// ErrorKind classifies a sync failure so callers can react to it
// (prompt for a password, retry later, report verbatim) without string matching.
type ErrorKind string

const (
	KindMalformedManifest        ErrorKind = "malformed_manifest"
	KindNetworkTimeout           ErrorKind = "network_timeout"
	KindNetworkUnreachable       ErrorKind = "network_unreachable"
	KindAuthenticationFailed     ErrorKind = "authentication_failed"
	KindHashMismatch             ErrorKind = "hash_mismatch"
	KindEntityConflict           ErrorKind = "entity_conflict" // reserved; conflicts are auto-resolved
	KindStorageTransactionFailed ErrorKind = "storage_transaction_failed"
	KindUploadFailed             ErrorKind = "upload_failed"
)

// Error is the typed error returned by sync operations.
// Path is set for per-file failures.
type Error struct {
	Kind ErrorKind
	Path string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := string(e.Kind)
	if e.Path != "" {
		s += " [" + e.Path + "]"
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Path == "" || t.Path == e.Path)
}

// NewError builds a typed sync error.
func NewError(kind ErrorKind, path, msg string, cause error) *Error {
	return &Error{Kind: kind, Path: path, Msg: msg, Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
