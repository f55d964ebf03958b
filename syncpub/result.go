package syncpub

import (
	"fmt"
	"strings"
)

// SyncResult reports the outcome of a pull. A non-nil SyncResult means the
// operation as a whole succeeded; per-file failures are listed in Errors.
type SyncResult struct {
	BlogID string `json:"blogId"`
	// Version is the remote syncVersion that was pulled.
	Version int64 `json:"version"`
	// UpToDate is set when the remote version matched and nothing was fetched.
	UpToDate bool       `json:"upToDate"`
	Changes  *ChangeSet `json:"changes,omitempty"`
	Applied  int        `json:"applied"`
	Skipped  int        `json:"skipped"` // local copy was newer or equal
	Deleted  int        `json:"deleted"`
	Errors   []*Error   `json:"-"`
}

// Summary is a human readable one-liner.
func (r *SyncResult) Summary() string {
	if r.UpToDate {
		return "Already up to date"
	}
	s := fmt.Sprintf("Applied %d, kept %d local, deleted %d", r.Applied, r.Skipped, r.Deleted)
	if len(r.Errors) > 0 {
		s += fmt.Sprintf("; %d file(s) failed", len(r.Errors))
		if r.NeedsPassword() {
			s += " (sync password required)"
		}
	}
	return s
}

// NeedsPassword reports whether any file failed authentication, which
// means the user should re-enter the sync password.
func (r *SyncResult) NeedsPassword() bool {
	for _, e := range r.Errors {
		if e.Kind == KindAuthenticationFailed {
			return true
		}
	}
	return false
}

// ErrorMessages renders per-file errors for display.
func (r *SyncResult) ErrorMessages() []string {
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return msgs
}

// Err folds per-file errors into one error, or nil when there were none.
func (r *SyncResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	first := r.Errors[0]
	if len(r.Errors) == 1 {
		return first
	}
	kind := first.Kind
	if r.NeedsPassword() {
		kind = KindAuthenticationFailed
	}
	return &Error{
		Kind: kind,
		Msg:  fmt.Sprintf("%d files failed: %s", len(r.Errors), strings.Join(r.ErrorMessages(), "; ")),
	}
}

// ImportResult reports the outcome of a first-time import.
type ImportResult struct {
	BlogID   string         `json:"blogId"`
	BlogName string         `json:"blogName"`
	Version  int64          `json:"version"`
	Counts   map[string]int `json:"counts"` // entities imported per collection
	Errors   []*Error       `json:"-"`
}

// NeedsPassword reports whether any draft could not be decrypted.
func (r *ImportResult) NeedsPassword() bool {
	for _, e := range r.Errors {
		if e.Kind == KindAuthenticationFailed {
			return true
		}
	}
	return false
}
