package services

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	maxFilenameLen     = 100
	defaultFilename    = "file"
	defaultContentType = "application/octet-stream"
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SanitizeFilename reduces a client-supplied name to a safe basename of at
// most 100 characters from [A-Za-z0-9._-], keeping the extension when the
// name has to be shortened.
func SanitizeFilename(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	if name == "" || name == "." || name == ".." {
		return defaultFilename
	}
	if len(name) <= maxFilenameLen {
		return name
	}

	ext := ""
	if dot := strings.LastIndex(name, "."); dot > 0 {
		ext = name[dot:]
	}
	if len(ext) >= maxFilenameLen {
		return name[:maxFilenameLen]
	}
	return name[:maxFilenameLen-len(ext)] + ext
}

// NormalizeContentType lowercases a media type and strips its parameters.
// A blank value becomes application/octet-stream.
func NormalizeContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	ct = strings.ToLower(strings.TrimSpace(ct))
	if ct == "" {
		return defaultContentType
	}
	return ct
}

// StorageKey returns a fresh blob key for a file of the given post. Keys
// are never reused.
func StorageKey(postID int64, sanitizedName string) string {
	return fmt.Sprintf("posts/%d/%s_%s", postID, uuid.New(), sanitizedName)
}
