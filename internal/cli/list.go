package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rescale/rescale-drive/internal/config"
	"github.com/rescale/rescale-drive/internal/models"
	"github.com/rescale/rescale-drive/internal/output"
	"github.com/rescale/rescale-drive/internal/state"
	"github.com/rescale/rescale-drive/internal/view"
)

// viewFlags are the listing flags shared by ls and browse.
type viewFlags struct {
	pageSize  int
	sort      string
	ext       string
	noFolders bool
}

func (f *viewFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.pageSize, "page-size", 0, "Items per page (0 = use config)")
	cmd.Flags().StringVar(&f.sort, "sort", "", "Sort order: default, name, size or date (default from config)")
	cmd.Flags().StringVar(&f.ext, "ext", "", "Only show files with this extension (folders always pass)")
	cmd.Flags().BoolVar(&f.noFolders, "no-folders", false, "Hide folders")
}

func (f *viewFlags) adjust(cfg *config.Config) {
	if f.pageSize > 0 {
		cfg.View.PageSize = f.pageSize
	}
	if f.sort != "" {
		cfg.View.Sort = f.sort
	}
}

func (f *viewFlags) filter(cfg *config.Config) (models.ViewFilter, error) {
	sortBy, err := models.ParseSortBy(cfg.View.Sort)
	if err != nil {
		return models.ViewFilter{}, err
	}
	return models.ViewFilter{
		SortBy:      sortBy,
		Extension:   view.NormalizeExtension(f.ext),
		ShowFolders: cfg.View.ShowFolders && !f.noFolders,
	}, nil
}

func newListCmd() *cobra.Command {
	var (
		page  int
		flags viewFlags
	)

	cmd := &cobra.Command{
		Use:   "ls [folder-id]",
		Short: "List one page of a folder",
		Long: `List one page of a folder. Without a folder ID the configured root is
listed. Sorting and filtering apply to the displayed page only.

Examples:
  rescale-drive ls
  rescale-drive ls 3f2a --page 2 --sort size
  rescale-drive ls --ext pdf --no-folders`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg *config.Config
			drive, err := openDrive(cmd, func(c *config.Config) {
				flags.adjust(c)
				cfg = c
			})
			if err != nil {
				return err
			}
			filter, err := flags.filter(cfg)
			if err != nil {
				return err
			}

			var folderID string
			if len(args) == 1 {
				folderID = args[0]
			}
			snap, err := drive.ListPage(commandContext(cmd), folderID, page, filter)
			if err != nil {
				return err
			}

			crumb := "root"
			if folderID != "" && folderID != drive.RootFolderID() {
				crumb = "root > " + folderID
			}
			return renderListing(cmd.OutOrStdout(), crumb, snap, cfg.View.PageSize)
		},
	}

	cmd.Flags().IntVarP(&page, "page", "p", 1, "Page number (1-based)")
	flags.register(cmd)
	return cmd
}

// renderListing prints a breadcrumb, the rendered page and the page bar.
func renderListing(w io.Writer, crumb string, snap *state.Snapshot, pageSize int) error {
	fmt.Fprintln(w, crumb)
	if len(snap.Rendered) == 0 {
		fmt.Fprintln(w, "(empty)")
	} else if err := output.WriteItems(w, snap.Rendered); err != nil {
		return err
	}
	fmt.Fprintln(w, output.PageBar(snap.Page, snap.TotalCount, pageSize, snap.HasMore))
	if len(snap.Extensions) > 0 {
		fmt.Fprintf(w, "extensions: %s\n", strings.Join(snap.Extensions, ", "))
	}
	return nil
}
