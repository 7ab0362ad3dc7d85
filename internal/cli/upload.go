package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rescale/rescale-drive/internal/apperrors"
	"github.com/rescale/rescale-drive/internal/output"
	"github.com/rescale/rescale-drive/internal/pathutil"
	"github.com/rescale/rescale-drive/internal/progress"
	"github.com/rescale/rescale-drive/internal/transfer"
	"github.com/rescale/rescale-drive/internal/view"
)

func newUploadCmd() *cobra.Command {
	var (
		target        string
		flat          bool
		dryRun        bool
		includeHidden bool
	)

	cmd := &cobra.Command{
		Use:   "upload <path>...",
		Short: "Upload files and directories",
		Long: `Upload local files and directories into a remote folder. Directories
are flattened into their files; the directory structure is recreated under
the target folder unless --flat is given. Each file is uploaded on its own
and a failed file does not stop the batch.

Examples:
  rescale-drive upload report.pdf
  rescale-drive upload ./results --to 3f2a
  rescale-drive upload ./results --dry-run`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			drive, err := openDrive(cmd, nil)
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			out := cmd.OutOrStdout()

			paths := make([]string, len(args))
			for i, a := range args {
				if paths[i], err = pathutil.ExpandHome(a); err != nil {
					return err
				}
			}
			prepared, err := drive.PrepareUpload(ctx, paths, includeHidden)
			if err != nil {
				return err
			}
			for _, s := range prepared.Skipped {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipped %s: %v\n", s.Path, s.Err)
			}
			if len(prepared.Entries) == 0 {
				fmt.Fprintln(out, "Nothing to upload")
				return nil
			}

			if dryRun {
				label := target
				if label == "" {
					label = "root"
				}
				tree := output.NewUploadTree(label)
				for _, e := range prepared.Entries {
					tree.Insert(e.RelativePath, view.FormatSize(e.Content.Size()))
				}
				fmt.Fprint(out, tree.Render())
				fmt.Fprintf(out, "%d files, %s (dry run, nothing uploaded)\n", len(prepared.Entries), view.FormatSize(prepared.TotalBytes()))
				return nil
			}

			ui := progress.NewBatchUI(len(prepared.Entries), os.Stderr)
			log := GetLogger()
			if ui.IsTerminal() {
				log.SetOutput(ui.Writer())
				defer log.SetOutput(logOutput())
			}

			res, err := drive.Upload(ctx, target, prepared.Entries, transfer.BatchOptions{
				CreateFolders: !flat,
				OnEntry:       ui.Entry,
			})
			ui.Wait()
			if res != nil {
				fmt.Fprintf(out, "Uploaded %d of %d files (%s)\n", res.Succeeded, len(prepared.Entries), view.FormatSize(prepared.TotalBytes()))
			}
			if err != nil && apperrors.IsPartial(err) {
				return fmt.Errorf("%d files failed to upload", res.Failed)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&target, "to", "", "Target folder ID (default: root)")
	cmd.Flags().BoolVar(&flat, "flat", false, "Upload every file directly into the target folder")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be uploaded")
	cmd.Flags().BoolVar(&includeHidden, "hidden", false, "Include hidden files and directories")
	return cmd
}
