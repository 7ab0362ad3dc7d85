package transfer

import (
	"fmt"
	"path"
	"strings"

	"github.com/rescale/rescale-drive/internal/apperrors"
	"github.com/rescale/rescale-drive/internal/constants"
	"github.com/rescale/rescale-drive/internal/view"
)

// Policy is the local upload gate. It runs before any remote call.
type Policy struct {
	// MaxFileSize in bytes; 0 disables the cap.
	MaxFileSize int64
	// AllowedMIMETypes accepts exact types ("application/pdf") and
	// wildcards ("image/*"). Empty allows every type.
	AllowedMIMETypes []string
}

// DefaultPolicy caps files at DefaultMaxUploadBytes and allows any type.
func DefaultPolicy() Policy {
	return Policy{MaxFileSize: constants.DefaultMaxUploadBytes}
}

// Check validates one file.
func (p Policy) Check(name, mimeType string, size int64) error {
	if p.MaxFileSize > 0 && size > p.MaxFileSize {
		return &apperrors.ValidationError{
			Field:  "file size",
			Value:  name,
			Reason: fmt.Sprintf("%s exceeds the %s limit", view.FormatSize(size), view.FormatSize(p.MaxFileSize)),
		}
	}
	if len(p.AllowedMIMETypes) > 0 && !matchMIME(p.AllowedMIMETypes, mimeType) {
		return &apperrors.ValidationError{
			Field:  "MIME type",
			Value:  mimeType,
			Reason: fmt.Sprintf("%s is not an allowed upload type", name),
		}
	}
	return nil
}

func matchMIME(patterns []string, mimeType string) bool {
	mt := baseMIME(mimeType)
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "*" || p == "*/*" || p == mt {
			return true
		}
		if strings.HasSuffix(p, "/*") && strings.HasPrefix(mt, strings.TrimSuffix(p, "*")) {
			return true
		}
	}
	return false
}

// baseMIME lowercases a MIME type and drops parameters such as charset.
func baseMIME(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// PreviewPolicy decides which files may be fetched as text previews.
type PreviewPolicy struct {
	MIMETypes  []string
	Extensions []string // used when the MIME type is empty or generic
}

// DefaultPreviewPolicy returns the text-like types accepted for preview.
func DefaultPreviewPolicy() PreviewPolicy {
	return PreviewPolicy{
		MIMETypes: []string{
			"text/plain",
			"text/html",
			"text/css",
			"text/javascript",
			"application/json",
			"application/xml",
			"text/xml",
			"text/markdown",
			"text/x-python",
			"text/x-java",
			"text/x-c",
			"text/x-cpp",
		},
		Extensions: []string{
			"txt", "html", "css", "js", "json", "xml", "md", "py", "java",
			"c", "cpp", "h", "hpp", "ts", "tsx", "jsx", "php", "rb", "sh",
			"yaml", "yml", "ini", "conf", "env",
		},
	}
}

// Allows reports whether a file with this name and MIME type is previewable.
func (p PreviewPolicy) Allows(name, mimeType string) bool {
	mt := baseMIME(mimeType)
	if mt != "" && mt != "application/octet-stream" {
		return matchMIME(p.MIMETypes, mt)
	}
	ext := view.Extension(path.Base(name))
	if ext == "" {
		return false
	}
	for _, e := range p.Extensions {
		if view.NormalizeExtension(e) == ext {
			return true
		}
	}
	return false
}
