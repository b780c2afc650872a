// Package filemeta parses, sanitizes, and validates the file metadata a
// sender declares for a transfer: name, size, and content type.
package filemeta

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/marmos91/transit/pkg/transiterr"
)

const (
	minNameLength = 2
	maxNameLength = 255
	defaultType   = "application/octet-stream"
)

// disallowedNameChars mirrors the original implementation's filename
// escaping: characters that are awkward or unsafe in a Content-Disposition
// header or on common filesystems are replaced with a space rather than
// rejected outright.
var disallowedNameChars = []string{":", ";", "|", "*", "@", "/", "\\"}

// FileMetadata describes the file being transferred, as declared by the
// sender and echoed back to the receiver.
type FileMetadata struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

// FromHTTPHeaders builds a FileMetadata for an HTTP PUT /<uid>/<filename>
// upload: name comes from the URL path segment, size and type from the
// Content-Length and Content-Type request headers.
func FromHTTPHeaders(name, sizeHeader, contentType string) (*FileMetadata, error) {
	size, err := parseSize(sizeHeader)
	if err != nil {
		return nil, err
	}
	return New(name, size, contentType)
}

// FromJSON builds a FileMetadata from the first WebSocket frame of a
// /send/<uid> session, which carries {"file_name":..., "file_size":..., "file_type":...}.
func FromJSON(data []byte) (*FileMetadata, error) {
	var raw struct {
		Name string `json:"file_name"`
		Size int64  `json:"file_size"`
		Type string `json:"file_type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, transiterr.NewInvalidInputError("", "malformed metadata json: %v", err)
	}
	return New(raw.Name, raw.Size, raw.Type)
}

// New sanitizes and validates name/size/type, returning a ready-to-use
// FileMetadata or an invalid-input error describing the first problem found.
func New(name string, size int64, contentType string) (*FileMetadata, error) {
	name = EscapeFilename(name)
	if len(strings.TrimSpace(name)) < minNameLength || len(name) > maxNameLength {
		return nil, transiterr.NewInvalidInputError("", "filename must be between %d and %d characters", minNameLength, maxNameLength)
	}

	if size <= 0 {
		return nil, transiterr.NewInvalidInputError("", "size must be a positive integer")
	}

	if contentType == "" {
		contentType = defaultType
	}

	return &FileMetadata{Name: name, Size: size, Type: contentType}, nil
}

// EscapeFilename replaces characters that are unsafe in Content-Disposition
// headers or on common filesystems with a space, and drops anything a
// latin-1 round-trip can't represent cleanly — the same normalization the
// original escape_filename applied by encoding to latin-1 and decoding back,
// discarding whatever didn't survive.
func EscapeFilename(name string) string {
	name = strings.TrimSpace(name)
	for _, c := range disallowedNameChars {
		name = strings.ReplaceAll(name, c, " ")
	}
	return sanitizeToLatin1RoundTrip(name)
}

// sanitizeToLatin1RoundTrip drops runes outside the Latin-1 range (0-255),
// matching the original's ignore-on-encode/ignore-on-decode behavior.
func sanitizeToLatin1RoundTrip(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r <= 0xFF {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func parseSize(header string) (int64, error) {
	if header == "" {
		return 0, transiterr.NewInvalidInputError("", "missing size header")
	}
	size, err := strconv.ParseInt(header, 10, 64)
	if err != nil {
		return 0, transiterr.NewInvalidInputError("", "size header %q is not an integer", header)
	}
	return size, nil
}

// FormatSize renders a byte count the way a human-facing preview page would:
// bytes for small files, otherwise the largest whole unit with one decimal.
func FormatSize(size int64) string {
	const unit = 1024.0
	units := []string{"B", "KB", "MB", "GB", "TB"}

	f := float64(size)
	i := 0
	for f >= unit && i < len(units)-1 {
		f /= unit
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%d %s", size, units[0])
	}
	return fmt.Sprintf("%.1f %s", f, units[i])
}

// FormatType renders a MIME type's general category (e.g. "image", "video",
// "archive") for the preview page, falling back to "file".
func FormatType(mimeType string) string {
	if mimeType == "" {
		return "file"
	}
	if idx := strings.Index(mimeType, "/"); idx > 0 {
		category := mimeType[:idx]
		switch category {
		case "image", "video", "audio", "text":
			return category
		}
	}
	switch mimeType {
	case "application/zip", "application/x-tar", "application/gzip", "application/x-7z-compressed":
		return "archive"
	case "application/pdf":
		return "pdf"
	}
	return "file"
}
