package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"

	"postalgic/publish"
	"postalgic/syncpub"
)

// APIResponse provides a consistent JSON response structure for all API endpoints.
// Code is a machine readable error code the UI can branch on.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// Error codes
const (
	CodeUnauthorized         = "unauthorized"
	CodeBadRequest           = "bad_request"
	CodeNotFound             = "not_found"
	CodeSyncPasswordRequired = "sync_password_required"
	CodeSyncInProgress       = "sync_in_progress"
	CodeSyncDisabled         = "sync_disabled"
	CodeMalformedManifest    = "malformed_manifest"
	CodeHashMismatch         = "hash_mismatch"
	CodeNetworkTimeout       = "network_timeout"
	CodeNetworkUnreachable   = "network_unreachable"
	CodeUploadFailed         = "upload_failed"
	CodeStorageFailed        = "storage_failed"
	CodeCanceled             = "canceled"
	CodeInternal             = "internal"
)

// rweb requests carry no context.Context, so handlers bound their own work.
const (
	readTimeout      = 30 * time.Second
	operationTimeout = 15 * time.Minute
)

func requestContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// RequestContext returns a context for page handlers outside this package.
func RequestContext() (context.Context, context.CancelFunc) {
	return requestContext(readTimeout)
}

func writeSuccess(ctx rweb.Context, status int, data interface{}) error {
	ctx.SetStatus(status)
	return ctx.WriteJSON(APIResponse{Success: true, Data: data})
}

func writeError(ctx rweb.Context, status int, code, message string) error {
	ctx.SetStatus(status)
	return ctx.WriteJSON(APIResponse{Success: false, Error: message, Code: code})
}

// writeSyncError maps a pull, publish or import failure to a status and code.
func writeSyncError(ctx rweb.Context, err error) error {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		logger.LogErr(err, "sync request failed", "path", ctx.Request().Path())
	}
	return writeError(ctx, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, publish.ErrSyncInProgress):
		return http.StatusConflict, CodeSyncInProgress
	case errors.Is(err, publish.ErrSyncDisabled):
		return http.StatusConflict, CodeSyncDisabled
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, CodeCanceled
	}

	switch syncpub.KindOf(err) {
	case syncpub.KindAuthenticationFailed:
		return http.StatusUnauthorized, CodeSyncPasswordRequired
	case syncpub.KindMalformedManifest:
		return http.StatusBadGateway, CodeMalformedManifest
	case syncpub.KindHashMismatch:
		return http.StatusBadGateway, CodeHashMismatch
	case syncpub.KindNetworkTimeout:
		return http.StatusGatewayTimeout, CodeNetworkTimeout
	case syncpub.KindNetworkUnreachable:
		return http.StatusBadGateway, CodeNetworkUnreachable
	case syncpub.KindUploadFailed:
		return http.StatusBadGateway, CodeUploadFailed
	case syncpub.KindStorageTransactionFailed:
		return http.StatusInternalServerError, CodeStorageFailed
	}
	return http.StatusInternalServerError, CodeInternal
}

// IsAuthenticated checks if the request carried a valid bearer token.
func IsAuthenticated(ctx rweb.Context) bool {
	auth, _ := ctx.Get("authenticated").(bool)
	return auth
}

func requireAuth(ctx rweb.Context) bool {
	if IsAuthenticated(ctx) {
		return true
	}
	writeError(ctx, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
	return false
}
