package output

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rescale/rescale-drive/internal/constants"
	"github.com/rescale/rescale-drive/internal/models"
	"github.com/rescale/rescale-drive/internal/view"
)

const timeLayout = "2006-01-02 15:04"

// WriteItems prints items as an aligned table.
func WriteItems(w io.Writer, items []models.Item) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tSIZE\tCREATED")
	for _, it := range items {
		size := "-"
		if !it.IsFolder && it.Size != nil {
			size = view.FormatSize(*it.Size)
		}
		name := it.Name
		if it.IsFolder {
			name += "/"
		}
		created := "-"
		if !it.CreatedAt.IsZero() {
			created = it.CreatedAt.Local().Format(timeLayout)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", it.ID, name, view.TypeLabel(it), size, created)
	}
	return tw.Flush()
}

// WriteItem prints the details of a single item.
func WriteItem(w io.Writer, it models.Item) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", it.ID)
	fmt.Fprintf(tw, "Name:\t%s\n", it.Name)
	fmt.Fprintf(tw, "Type:\t%s\n", view.TypeLabel(it))
	if !it.IsFolder {
		fmt.Fprintf(tw, "MIME type:\t%s\n", it.MimeType)
		fmt.Fprintf(tw, "Size:\t%s\n", view.FormatSize(it.SizeOrZero()))
	}
	if !it.CreatedAt.IsZero() {
		fmt.Fprintf(tw, "Created:\t%s\n", it.CreatedAt.Local().Format(timeLayout))
	}
	if it.UpdatedAt != nil {
		fmt.Fprintf(tw, "Updated:\t%s\n", it.UpdatedAt.Local().Format(timeLayout))
	}
	return tw.Flush()
}

// WriteQuota prints storage usage.
func WriteQuota(w io.Writer, q models.StorageQuota) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Total:\t%s\n", view.FormatSize(q.Total))
	fmt.Fprintf(tw, "Used:\t%s\n", view.FormatSize(q.Used))
	fmt.Fprintf(tw, "Remaining:\t%s\n", view.FormatSize(q.Remaining))
	return tw.Flush()
}

// Breadcrumb renders the navigation path, root first.
func Breadcrumb(frames []models.NavigationFrame) string {
	parts := []string{"root"}
	for _, f := range frames {
		parts = append(parts, f.FolderName)
	}
	return strings.Join(parts, " > ")
}

// PageBar renders the pagination line. With a known total the current page
// is bracketed inside a window of page numbers; otherwise only the page
// number and whether more pages follow are shown.
func PageBar(page, totalCount, pageSize int, hasMore bool) string {
	if totalCount < 0 {
		s := "page " + strconv.Itoa(page)
		if hasMore {
			s += " (more)"
		}
		return s
	}
	total := view.TotalPages(totalCount, pageSize)
	var b strings.Builder
	for i, p := range view.PageWindow(page, total, constants.PaginationWindow) {
		if i > 0 {
			b.WriteByte(' ')
		}
		if p == page {
			fmt.Fprintf(&b, "[%d]", p)
		} else {
			b.WriteString(strconv.Itoa(p))
		}
	}
	fmt.Fprintf(&b, " of %d (%d items)", total, totalCount)
	return b.String()
}
