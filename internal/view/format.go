package view

import (
	"fmt"

	"github.com/rescale/rescale-drive/internal/models"
)

// Classify maps a file name to a coarse document type label.
func Classify(name string) string {
	switch Extension(name) {
	case "pdf":
		return "PDF"
	case "doc", "docx":
		return "Word"
	case "xls", "xlsx":
		return "Excel"
	case "ppt", "pptx":
		return "PowerPoint"
	case "jpg", "jpeg", "png", "gif":
		return "Image"
	case "zip", "rar":
		return "Archive"
	default:
		return "Other"
	}
}

// TypeLabel is Classify for files and "Folder" for folders.
func TypeLabel(it models.Item) string {
	if it.IsFolder {
		return "Folder"
	}
	return Classify(it.Name)
}

// FormatSize renders a byte count with B/KB/MB/GB units (1024 steps).
func FormatSize(n int64) string {
	const unit = 1024
	switch {
	case n < unit:
		return fmt.Sprintf("%d B", n)
	case n < unit*unit:
		return fmt.Sprintf("%.2f KB", float64(n)/unit)
	case n < unit*unit*unit:
		return fmt.Sprintf("%.2f MB", float64(n)/(unit*unit))
	default:
		return fmt.Sprintf("%.2f GB", float64(n)/(unit*unit*unit))
	}
}

// TotalPages returns how many pages of pageSize cover total items.
func TotalPages(total, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 1
	}
	return (total + pageSize - 1) / pageSize
}

// PageWindow returns up to width consecutive page numbers around current,
// clamped to [1, totalPages].
func PageWindow(current, totalPages, width int) []int {
	if totalPages < 1 {
		totalPages = 1
	}
	if width < 1 {
		width = 1
	}
	if current < 1 {
		current = 1
	}
	if current > totalPages {
		current = totalPages
	}
	start := current - width/2
	if start < 1 {
		start = 1
	}
	end := start + width - 1
	if end > totalPages {
		end = totalPages
		start = end - width + 1
		if start < 1 {
			start = 1
		}
	}
	pages := make([]int, 0, end-start+1)
	for p := start; p <= end; p++ {
		pages = append(pages, p)
	}
	return pages
}
