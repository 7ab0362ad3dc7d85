package api

import (
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"strings"

	"github.com/rescale/rescale-drive/internal/apperrors"
)

// ErrFileAlreadyExists indicates an item with the same name already exists in the folder.
var ErrFileAlreadyExists = errors.New("file already exists")

// maxErrorBody caps how much of an error response is kept in the message.
const maxErrorBody = 4096

// IsFileExistsError checks if an error indicates a duplicate item, either a
// wrapped ErrFileAlreadyExists or a message with a common conflict phrase.
func IsFileExistsError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrFileAlreadyExists) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	conflictIndicators := []string{
		"already exists",
		"duplicate",
		"file exists",
		"name already in use",
	}
	for _, indicator := range conflictIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

// checkResponse maps a non-2xx response onto the error taxonomy:
//   - 404 wraps apperrors.ErrNotFound
//   - 409, or 400 with a conflict message, wraps ErrFileAlreadyExists
//   - anything else is a TransientNetworkError carrying the status
//
// The response body is read and included in the message.
func checkResponse(resp *nethttp.Response, op string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	bodyStr := strings.TrimSpace(string(body))

	switch resp.StatusCode {
	case nethttp.StatusNotFound:
		return fmt.Errorf("%s: %w: %s", op, apperrors.ErrNotFound, bodyStr)
	case nethttp.StatusConflict, nethttp.StatusBadRequest:
		if resp.StatusCode == nethttp.StatusConflict || IsFileExistsError(errors.New(bodyStr)) {
			return fmt.Errorf("%s: %w: %s", op, ErrFileAlreadyExists, bodyStr)
		}
	}
	return &apperrors.TransientNetworkError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Err:        errors.New(bodyStr),
	}
}
