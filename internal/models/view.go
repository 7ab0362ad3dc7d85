package models

import (
	"fmt"
	"strings"
)

// SortBy selects the ordering applied by the view pipeline.
type SortBy string

const (
	SortDefault SortBy = "default"
	SortName    SortBy = "name"
	SortSize    SortBy = "size"
	SortDate    SortBy = "date"
)

// ParseSortBy accepts the CLI/config spelling of a sort criterion.
func ParseSortBy(s string) (SortBy, error) {
	switch SortBy(strings.ToLower(strings.TrimSpace(s))) {
	case "", SortDefault:
		return SortDefault, nil
	case SortName:
		return SortName, nil
	case SortSize:
		return SortSize, nil
	case SortDate:
		return SortDate, nil
	default:
		return "", fmt.Errorf("unknown sort %q (want default, name, size or date)", s)
	}
}

// ViewFilter is client-side view state; it is never sent to the store.
// An empty Extension means no extension filter.
type ViewFilter struct {
	SortBy      SortBy `json:"sortBy"`
	Extension   string `json:"extension,omitempty"`
	ShowFolders bool   `json:"showFolders"`
}

// DefaultViewFilter shows folders with the default ordering.
func DefaultViewFilter() ViewFilter {
	return ViewFilter{SortBy: SortDefault, ShowFolders: true}
}
