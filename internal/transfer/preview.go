package transfer

import (
	"context"
	"unicode/utf8"

	"github.com/rescale/rescale-drive/internal/apperrors"
	"github.com/rescale/rescale-drive/internal/constants"
	"github.com/rescale/rescale-drive/internal/models"
	"github.com/rescale/rescale-drive/internal/store"
)

// Previewer fetches text previews for allow-listed files.
type Previewer struct {
	store    store.Store
	policy   PreviewPolicy
	maxBytes int
}

// NewPreviewer creates a Previewer. maxBytes <= 0 uses MaxPreviewBytes.
func NewPreviewer(s store.Store, policy PreviewPolicy, maxBytes int) *Previewer {
	if maxBytes <= 0 {
		maxBytes = constants.MaxPreviewBytes
	}
	return &Previewer{store: s, policy: policy, maxBytes: maxBytes}
}

// Preview returns the text content of item, truncated to the size limit.
// Folders and non-previewable types are rejected without a store call.
func (p *Previewer) Preview(ctx context.Context, item models.Item) (text string, truncated bool, err error) {
	if item.IsFolder {
		return "", false, &apperrors.ValidationError{Field: "preview type", Value: item.Name, Reason: "folders cannot be previewed"}
	}
	if !p.policy.Allows(item.Name, item.MimeType) {
		mt := item.MimeType
		if mt == "" {
			mt = item.Name
		}
		return "", false, &apperrors.ValidationError{Field: "preview type", Value: mt, Reason: "file type is not previewable"}
	}

	text, err = p.store.FetchFileTextPreview(ctx, item.ID)
	if err != nil {
		return "", false, apperrors.NewTransient("preview", err)
	}
	if len(text) > p.maxBytes {
		cut := p.maxBytes
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		return text[:cut], true, nil
	}
	return text, false, nil
}
