package common

import (
	"errors"
	"net/http"
)

// Kind groups catalog errors by how callers are expected to react to them.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindAuthorization
	KindConflict
	KindTransfer
	KindInconsistent
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindAuthorization:
		return "authorization"
	case KindConflict:
		return "conflict"
	case KindTransfer:
		return "transfer"
	case KindInconsistent:
		return "inconsistent_state"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// Error is a catalog error: a stable Code, the HTTP Status it maps to and a
// message that is safe to show to callers. Err optionally carries the
// underlying cause for logging; it is never rendered to clients.
type Error struct {
	Kind    Kind
	Code    string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches catalog errors by Code so that wrapped copies still satisfy
// errors.Is against the sentinel.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func newError(kind Kind, code string, status int, msg string) *Error {
	return &Error{Kind: kind, Code: code, Status: status, Message: msg}
}

// Wrap returns a copy of the sentinel carrying cause.
func Wrap(sentinel *Error, cause error) *Error {
	e := *sentinel
	e.Err = cause
	return &e
}

// AsError resolves err to a catalog error. Anything outside the catalog is
// reported as ErrInternal with the original error kept as its cause.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(ErrInternal, err)
}

// KindOf reports the Kind of err, KindInternal for unknown errors.
func KindOf(err error) Kind {
	return AsError(err).Kind
}

var (
	// posts
	ErrPostNotFound         = newError(KindNotFound, "POST_NOT_FOUND", http.StatusNotFound, "post not found")
	ErrPostAlreadyDeleted   = newError(KindNotFound, "POST_ALREADY_DELETED", http.StatusNotFound, "post has been deleted")
	ErrPostTitleRequired    = newError(KindValidation, "POST_TITLE_REQUIRED", http.StatusBadRequest, "title is required")
	ErrPostContentRequired  = newError(KindValidation, "POST_CONTENT_REQUIRED", http.StatusBadRequest, "content is required")
	ErrPostPasswordRequired = newError(KindValidation, "POST_PASSWORD_REQUIRED", http.StatusBadRequest, "post password is required")
	ErrPostPasswordMismatch = newError(KindAuthorization, "POST_PASSWORD_MISMATCH", http.StatusForbidden, "post password does not match")
	ErrPostPasswordTooLong  = newError(KindValidation, "POST_PASSWORD_TOO_LONG", http.StatusBadRequest, "post password must be at most 72 bytes")

	// files
	ErrFileNotFound          = newError(KindNotFound, "FILE_NOT_FOUND", http.StatusNotFound, "file not found")
	ErrFileAlreadyDeleted    = newError(KindNotFound, "FILE_ALREADY_DELETED", http.StatusNotFound, "file has been deleted")
	ErrFileNotReady          = newError(KindConflict, "FILE_NOT_READY", http.StatusConflict, "file is not ready for download")
	ErrUploadEmpty           = newError(KindValidation, "FILE_UPLOAD_EMPTY", http.StatusBadRequest, "no files to upload")
	ErrUploadTooLarge        = newError(KindValidation, "FILE_UPLOAD_TOO_LARGE", http.StatusRequestEntityTooLarge, "file exceeds the maximum allowed size")
	ErrContentTypeNotAllowed = newError(KindValidation, "FILE_CONTENT_TYPE_NOT_ALLOWED", http.StatusUnsupportedMediaType, "file content type is not allowed")
	ErrFileInconsistentState = newError(KindInconsistent, "FILE_INCONSISTENT_STATE", http.StatusInternalServerError, "file is marked ready but its content is missing")
	ErrStorageDownloadFailed = newError(KindTransfer, "STORAGE_DOWNLOAD_FAILED", http.StatusBadGateway, "failed to read file from storage")
	ErrStorageDeleteFailed   = newError(KindTransfer, "STORAGE_DELETE_FAILED", http.StatusBadGateway, "failed to delete file from storage")

	// admin
	ErrAdminInvalidCredentials = newError(KindAuthorization, "ADMIN_INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid username or password")
	ErrAdminAccountLocked      = newError(KindAuthorization, "ADMIN_ACCOUNT_LOCKED", http.StatusForbidden, "account is locked")

	// generic
	ErrUnauthorized   = newError(KindAuthorization, "UNAUTHORIZED", http.StatusUnauthorized, "authentication required")
	ErrRateLimited    = newError(KindRateLimited, "RATE_LIMITED", http.StatusTooManyRequests, "too many requests")
	ErrInvalidRequest = newError(KindValidation, "INVALID_REQUEST", http.StatusBadRequest, "invalid request")
	ErrInternal       = newError(KindInternal, "INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
)
