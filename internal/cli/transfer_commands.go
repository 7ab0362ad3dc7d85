package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rescale/rescale-drive/internal/pathutil"
	"github.com/rescale/rescale-drive/internal/progress"
	"github.com/rescale/rescale-drive/internal/services"
	"github.com/rescale/rescale-drive/internal/validation"
	"github.com/rescale/rescale-drive/internal/view"
)

func newDownloadCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "download <file-id>",
		Short: "Download a file",
		Long: `Download a single file. The file is written under its remote name in the
current directory unless -o names a file or an existing directory.

Examples:
  rescale-drive download 9c1e
  rescale-drive download 9c1e -o ./inputs/`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			drive, err := openDrive(cmd, nil)
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			fileID := args[0]

			name := fileID
			if item, err := drive.Item(ctx, fileID); err == nil {
				if item.IsFolder {
					return fmt.Errorf("%s is a folder; use archive to download folders", item.Name)
				}
				name = item.Name
			} else if !errors.Is(err, services.ErrUnsupported) {
				return err
			}

			dest, err := resolveDest(outPath, name, fileID)
			if err != nil {
				return err
			}
			n, err := drive.Download(ctx, fileID, dest, progress.New(os.Stderr, true))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Downloaded %s (%s) to %s\n", name, view.FormatSize(n), dest)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "output", "o", "", "Output file or directory")
	return cmd
}

func newArchiveCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "archive [folder-id]",
		Short: "Download a folder as a zip archive",
		Long: `Download the files directly inside a folder as one zip archive. Files
that cannot be fetched are left out and reported.

Known limitation: sub-folders are not included. Their count is reported so
you can archive them separately.

Examples:
  rescale-drive archive 3f2a
  rescale-drive archive 3f2a -o reports.zip`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			drive, err := openDrive(cmd, nil)
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			out := cmd.OutOrStdout()

			var folderID string
			name := "drive"
			if len(args) == 1 {
				folderID = args[0]
				name = folderID
				if item, err := drive.Item(ctx, folderID); err == nil {
					if !item.IsFolder {
						return fmt.Errorf("%s is a file; use download for single files", item.Name)
					}
					name = item.Name
				} else if !errors.Is(err, services.ErrUnsupported) {
					return err
				}
			}

			dest, err := resolveDest(outPath, name+".zip", "archive.zip")
			if err != nil {
				return err
			}
			if !strings.EqualFold(filepath.Ext(dest), ".zip") {
				dest += ".zip"
			}

			rep := progress.New(os.Stderr, false)
			rep.Start(100, "Archiving "+name)
			res, err := drive.Archive(ctx, folderID, progress.Percent(rep))
			if err != nil {
				rep.Error(err)
				return err
			}
			rep.Finish()

			if err := drive.SaveArchive(res, dest); err != nil {
				return err
			}
			fmt.Fprintf(out, "Wrote %d files (%s) to %s\n", res.Files, view.FormatSize(int64(len(res.Data))), dest)
			for _, f := range res.Failed {
				fmt.Fprintf(out, "  not included: %v\n", f)
			}
			if res.SkippedFolders > 0 {
				fmt.Fprintf(out, "Note: %d sub-folders were not included (sub-folders are not archived)\n", res.SkippedFolders)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "output", "o", "", "Output file or directory")
	return cmd
}

// resolveDest picks the local path for a remote item: outPath as given,
// inside outPath when it is a directory (or ends in a separator), or the
// item's name in the working directory.
func resolveDest(outPath, remoteName, fallback string) (string, error) {
	name := validation.LocalName(remoteName, fallback)
	if outPath == "" {
		return name, nil
	}
	trailing := strings.HasSuffix(outPath, "/") || strings.HasSuffix(outPath, string(os.PathSeparator))
	dest, err := pathutil.ResolveAbsolutePath(outPath)
	if err != nil {
		return "", err
	}
	if fi, err := os.Stat(dest); trailing || (err == nil && fi.IsDir()) {
		joined := filepath.Join(dest, name)
		if !validation.WithinDir(joined, dest) {
			return "", fmt.Errorf("refusing to write %q outside %s", remoteName, dest)
		}
		return joined, nil
	}
	return dest, nil
}
