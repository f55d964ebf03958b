package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"

	"postalgic/models"
	"postalgic/publish"
	"postalgic/syncpub"
)

// ============================================================================
// Sync API Handlers
//
// These endpoints drive sync from the UI: a status indicator per blog, an
// update check, "Pull" and "Publish" buttons, first-time import and the
// sync toggle. Reads are open; anything that changes local or remote state
// requires a bearer token.
//
// A 401 with code sync_password_required means the request was
// authenticated but the sync password was missing or wrong, and the UI
// should prompt for it and retry.
// ============================================================================

// SyncAPI serves the sync endpoints.
type SyncAPI struct {
	Store *models.Store
	Orch  *publish.Orchestrator
	// Notify, if set, receives progress events for the /events stream.
	Notify func(event any)
}

// SyncStatus is the sync state of one blog as shown in the UI.
type SyncStatus struct {
	BlogID            string        `json:"blogId"`
	BlogName          string        `json:"blogName,omitempty"`
	SyncEnabled       bool          `json:"syncEnabled"`
	RemoteURL         string        `json:"remoteUrl,omitempty"`
	LastSyncedVersion int64         `json:"lastSyncedVersion"`
	LastSyncedAt      *time.Time    `json:"lastSyncedAt,omitempty"`
	LastPublishedAt   *time.Time    `json:"lastPublishedAt,omitempty"`
	Phase             publish.Phase `json:"phase"`
}

// ProgressEvent is sent on the /events stream.
type ProgressEvent struct {
	Type    string        `json:"type"`
	BlogID  string        `json:"blogId"`
	Phase   publish.Phase `json:"phase"`
	Message string        `json:"message"`
}

func (a *SyncAPI) progress(blogID string) publish.ProgressFunc {
	return func(phase publish.Phase, msg string) {
		if a.Notify != nil {
			a.Notify(ProgressEvent{Type: "sync-progress", BlogID: blogID, Phase: phase, Message: msg})
		}
	}
}

// Status returns the sync state of one blog.
func (a *SyncAPI) Status(ctx context.Context, blogID string) (*SyncStatus, error) {
	state, err := a.Store.SyncState(ctx, blogID)
	if err != nil {
		return nil, err
	}
	st := &SyncStatus{
		BlogID:            blogID,
		SyncEnabled:       state.SyncEnabled,
		RemoteURL:         state.RemoteURL,
		LastSyncedVersion: state.LastSyncedVersion,
		LastSyncedAt:      optionalTime(state.LastSyncedAt),
		LastPublishedAt:   optionalTime(state.LastPublishedAt),
		Phase:             a.Orch.Phase(blogID),
	}
	blog := &models.Blog{}
	if found, err := a.Store.Get(ctx, blogID, models.KindBlog, blogID, blog); err == nil && found {
		st.BlogName = blog.Name
	}
	return st, nil
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// blogExists writes a 404 and returns false when the blog is unknown.
func (a *SyncAPI) blogExists(ctx rweb.Context, blogID string) bool {
	reqCtx, cancel := requestContext(readTimeout)
	defer cancel()
	found, err := a.Store.Get(reqCtx, blogID, models.KindBlog, blogID, &models.Blog{})
	if err != nil {
		writeSyncError(ctx, err)
		return false
	}
	if !found {
		writeError(ctx, http.StatusNotFound, CodeNotFound, "blog not found")
		return false
	}
	return true
}

// ListBlogs handles GET /api/v1/blogs
func (a *SyncAPI) ListBlogs(ctx rweb.Context) error {
	reqCtx, cancel := requestContext(readTimeout)
	defer cancel()
	blogs, err := a.Store.Blogs(reqCtx)
	if err != nil {
		return writeSyncError(ctx, err)
	}
	out := make([]*SyncStatus, 0, len(blogs))
	for _, b := range blogs {
		st, err := a.Status(reqCtx, b.ID)
		if err != nil {
			return writeSyncError(ctx, err)
		}
		out = append(out, st)
	}
	return writeSuccess(ctx, http.StatusOK, out)
}

// GetStatus handles GET /api/v1/blogs/:id/sync/status
func (a *SyncAPI) GetStatus(ctx rweb.Context) error {
	reqCtx, cancel := requestContext(readTimeout)
	defer cancel()
	blogID := ctx.Request().Param("id")
	if !a.blogExists(ctx, blogID) {
		return nil
	}
	st, err := a.Status(reqCtx, blogID)
	if err != nil {
		return writeSyncError(ctx, err)
	}
	return writeSuccess(ctx, http.StatusOK, st)
}

// CheckForUpdates handles GET /api/v1/blogs/:id/sync/check
// Only the manifest is downloaded.
func (a *SyncAPI) CheckForUpdates(ctx rweb.Context) error {
	reqCtx, cancel := requestContext(readTimeout)
	defer cancel()
	blogID := ctx.Request().Param("id")
	if !a.blogExists(ctx, blogID) {
		return nil
	}
	check, err := a.Orch.CheckForUpdates(reqCtx, blogID)
	if err != nil {
		return writeSyncError(ctx, err)
	}
	return writeSuccess(ctx, http.StatusOK, check)
}

type passwordInput struct {
	Password string `json:"password"`
}

// PullResponse carries a pull result with its per-file failures.
type PullResponse struct {
	*syncpub.SyncResult
	Summary string   `json:"summary"`
	Errors  []string `json:"errors,omitempty"`
}

// Pull handles POST /api/v1/blogs/:id/sync/pull
//
// Request body (optional): {"password": "..."}
func (a *SyncAPI) Pull(ctx rweb.Context) error {
	reqCtx, cancel := requestContext(operationTimeout)
	defer cancel()
	if !requireAuth(ctx) {
		return nil
	}
	blogID := ctx.Request().Param("id")
	if !a.blogExists(ctx, blogID) {
		return nil
	}
	var in passwordInput
	if body := ctx.Request().Body(); len(body) > 0 {
		if err := json.Unmarshal(body, &in); err != nil {
			return writeError(ctx, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		}
	}

	res, err := a.Orch.Pull(reqCtx, blogID, publish.PullOptions{
		Password:   in.Password,
		OnProgress: a.progress(blogID),
	})
	if err != nil {
		return writeSyncError(ctx, err)
	}
	if res.NeedsPassword() {
		// The rest of the pull was committed; the drafts wait for the password
		return writeError(ctx, http.StatusUnauthorized, CodeSyncPasswordRequired, res.Summary())
	}

	logger.Info("Pull via API", "blog_id", blogID, "summary", res.Summary())
	return writeSuccess(ctx, http.StatusOK, PullResponse{SyncResult: res, Summary: res.Summary(), Errors: res.ErrorMessages()})
}

// Publish handles POST /api/v1/blogs/:id/publish
//
// Request body (optional): {"force": false, "password": "..."}
func (a *SyncAPI) Publish(ctx rweb.Context) error {
	reqCtx, cancel := requestContext(operationTimeout)
	defer cancel()
	if !requireAuth(ctx) {
		return nil
	}
	blogID := ctx.Request().Param("id")
	if !a.blogExists(ctx, blogID) {
		return nil
	}
	var in struct {
		Force    bool   `json:"force"`
		Password string `json:"password"`
	}
	if body := ctx.Request().Body(); len(body) > 0 {
		if err := json.Unmarshal(body, &in); err != nil {
			return writeError(ctx, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		}
	}

	res, err := a.Orch.Publish(reqCtx, blogID, publish.PublishOptions{
		Force:      in.Force,
		Password:   in.Password,
		OnProgress: a.progress(blogID),
	})
	if err != nil {
		return writeSyncError(ctx, err)
	}
	return writeSuccess(ctx, http.StatusOK, res)
}

// ImportResponse carries an import result with its per-file failures.
type ImportResponse struct {
	*syncpub.ImportResult
	NeedsPassword bool     `json:"needsPassword"`
	Errors        []string `json:"errors,omitempty"`
}

// Import handles POST /api/v1/sync/import
//
// Request body: {"url": "https://blog.example.com", "password": "..."}
func (a *SyncAPI) Import(ctx rweb.Context) error {
	reqCtx, cancel := requestContext(operationTimeout)
	defer cancel()
	if !requireAuth(ctx) {
		return nil
	}
	var in struct {
		URL      string `json:"url"`
		Password string `json:"password"`
	}
	if err := json.Unmarshal(ctx.Request().Body(), &in); err != nil {
		return writeError(ctx, http.StatusBadRequest, CodeBadRequest, "invalid request body")
	}
	if in.URL == "" {
		return writeError(ctx, http.StatusBadRequest, CodeBadRequest, "url is required")
	}

	res, err := a.Orch.Import(reqCtx, in.URL, publish.PullOptions{
		Password:   in.Password,
		OnProgress: a.progress(""),
	})
	if err != nil {
		return writeSyncError(ctx, err)
	}

	msgs := make([]string, 0, len(res.Errors))
	for _, e := range res.Errors {
		msgs = append(msgs, e.Error())
	}
	return writeSuccess(ctx, http.StatusCreated, ImportResponse{ImportResult: res, NeedsPassword: res.NeedsPassword(), Errors: msgs})
}

// SetSyncEnabled handles PUT /api/v1/blogs/:id/sync/enabled
//
// Request body: {"enabled": true, "remoteUrl": "https://blog.example.com"}
func (a *SyncAPI) SetSyncEnabled(ctx rweb.Context) error {
	reqCtx, cancel := requestContext(readTimeout)
	defer cancel()
	if !requireAuth(ctx) {
		return nil
	}
	blogID := ctx.Request().Param("id")
	if !a.blogExists(ctx, blogID) {
		return nil
	}
	var in struct {
		Enabled   bool   `json:"enabled"`
		RemoteURL string `json:"remoteUrl"`
	}
	if err := json.Unmarshal(ctx.Request().Body(), &in); err != nil {
		return writeError(ctx, http.StatusBadRequest, CodeBadRequest, "invalid request body")
	}

	if _, err := a.Store.SetSyncEnabled(reqCtx, blogID, in.Enabled, in.RemoteURL); err != nil {
		return writeSyncError(ctx, err)
	}
	st, err := a.Status(reqCtx, blogID)
	if err != nil {
		return writeSyncError(ctx, err)
	}
	return writeSuccess(ctx, http.StatusOK, st)
}

// Health handles GET /api/v1/health
func Health(ctx rweb.Context) error {
	return writeSuccess(ctx, http.StatusOK, map[string]string{"status": "ok", "service": "postalgic"})
}
