package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rescale/rescale-drive/internal/output"
	"github.com/rescale/rescale-drive/internal/services"
	"github.com/rescale/rescale-drive/internal/version"
)

func newMkdirCmd() *cobra.Command {
	var parentID string

	cmd := &cobra.Command{
		Use:   "mkdir <name>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			drive, err := openDrive(cmd, nil)
			if err != nil {
				return err
			}
			item, err := drive.CreateFolder(commandContext(cmd), args[0], parentID)
			if err != nil {
				return err
			}
			return output.WriteItem(cmd.OutOrStdout(), *item)
		},
	}

	cmd.Flags().StringVar(&parentID, "parent", "", "Parent folder ID (default: root)")
	return cmd
}

func newPreviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preview <file-id>",
		Short: "Print the start of a text file",
		Long: `Print the start of a text file. Only text-like types (plain text,
Markdown, CSV, JSON, XML, YAML, source code) can be previewed; large files are
cut off.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			drive, err := openDrive(cmd, nil)
			if err != nil {
				return err
			}
			text, truncated, err := drive.Preview(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), text)
			if truncated {
				fmt.Fprintln(cmd.ErrOrStderr(), "\n... (preview truncated)")
			}
			return nil
		},
	}
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info [item-id]",
		Short: "Show item details, or storage usage without an ID",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			drive, err := openDrive(cmd, nil)
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				item, err := drive.Item(ctx, args[0])
				if err != nil {
					return err
				}
				return output.WriteItem(out, *item)
			}

			q, err := drive.Quota(ctx)
			if errors.Is(err, services.ErrUnsupported) {
				fmt.Fprintln(out, "This backend does not report storage usage")
				return nil
			}
			if err != nil {
				return err
			}
			return output.WriteQuota(out, *q)
		},
	}
}

func newRemoveCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "rm <item-id>",
		Short: "Delete a file or folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			drive, err := openDrive(cmd, nil)
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			id := args[0]

			label := id
			if item, err := drive.Item(ctx, id); err == nil {
				label = item.Name
				if item.IsFolder {
					label += "/"
				}
			}
			if !yes && !newPrompter(cmd).confirm(fmt.Sprintf("Delete %s?", label)) {
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
				return nil
			}
			if err := drive.Delete(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", label)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rescale-drive %s (built %s)\n", version.Version, version.BuildTime)
		},
	}
}
