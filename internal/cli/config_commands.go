package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rescale/rescale-drive/internal/config"
	"github.com/rescale/rescale-drive/internal/models"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage rescale-drive configuration",
		Long: `Configuration management commands for rescale-drive.

Commands:
  init  - Interactive configuration setup
  show  - Display current configuration
  test  - Test the store connection
  path  - Show configuration file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigTestCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.DefaultConfigPath()
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Interactive configuration setup. The file is written with owner-only
permissions to ~/.config/rescale-drive/config.ini unless --config is given.

Use --force to overwrite an existing configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Fprintf(out, "Configuration already exists at: %s\n", path)
					fmt.Fprintln(out, "Use --force to overwrite or run 'config show' to view it.")
					return nil
				}
			}

			fmt.Fprintln(out, "rescale-drive configuration")
			fmt.Fprintln(out, "===========================")

			p := newPrompter(cmd)
			cfg := config.NewConfig()

			backend, err := p.ask("Backend (http, s3, azure, oss)", config.BackendHTTP)
			if err != nil {
				return err
			}
			cfg.Store.Backend = strings.ToLower(backend)

			switch cfg.Store.Backend {
			case config.BackendHTTP:
				if cfg.Store.BaseURL, err = p.ask("API base URL", ""); err != nil {
					return err
				}
				if cfg.Store.APIKey, err = p.secret("API key"); err != nil {
					return err
				}
			case config.BackendS3:
				if cfg.S3.Bucket, err = p.ask("Bucket", ""); err != nil {
					return err
				}
				if cfg.S3.Region, err = p.ask("Region", cfg.S3.Region); err != nil {
					return err
				}
				if cfg.S3.Endpoint, err = p.ask("Endpoint (empty for AWS)", ""); err != nil {
					return err
				}
				if cfg.S3.Prefix, err = p.ask("Key prefix", ""); err != nil {
					return err
				}
				if cfg.S3.AccessKeyID, err = p.ask("Access key ID (empty for the default credential chain)", ""); err != nil {
					return err
				}
				if cfg.S3.AccessKeyID != "" {
					if cfg.S3.SecretAccessKey, err = p.secret("Secret access key"); err != nil {
						return err
					}
				}
			case config.BackendAzure:
				if cfg.Azure.ConnectionString, err = p.secret("Connection string"); err != nil {
					return err
				}
				if cfg.Azure.Container, err = p.ask("Container", ""); err != nil {
					return err
				}
				if cfg.Azure.Prefix, err = p.ask("Blob prefix", ""); err != nil {
					return err
				}
			case config.BackendOSS:
				if cfg.OSS.Endpoint, err = p.ask("Endpoint", ""); err != nil {
					return err
				}
				if cfg.OSS.Bucket, err = p.ask("Bucket", ""); err != nil {
					return err
				}
				if cfg.OSS.AccessKeyID, err = p.ask("Access key ID", ""); err != nil {
					return err
				}
				if cfg.OSS.AccessKeySecret, err = p.secret("Access key secret"); err != nil {
					return err
				}
				if cfg.OSS.Prefix, err = p.ask("Object prefix", ""); err != nil {
					return err
				}
			default:
				return fmt.Errorf("%w: %q", config.ErrUnknownBackend, backend)
			}

			pageSize, err := p.ask("Items per page", strconv.Itoa(cfg.View.PageSize))
			if err != nil {
				return err
			}
			if v, err := strconv.Atoi(pageSize); err == nil && v > 0 {
				cfg.View.PageSize = v
			}

			if p.confirm("Configure proxy?") {
				if cfg.Proxy.Mode, err = p.ask("Proxy mode (system, basic, ntlm)", "system"); err != nil {
					return err
				}
				if cfg.Proxy.Mode == "basic" || cfg.Proxy.Mode == "ntlm" {
					if cfg.Proxy.Host, err = p.ask("Proxy host", ""); err != nil {
						return err
					}
					port, err := p.ask("Proxy port", strconv.Itoa(cfg.Proxy.Port))
					if err != nil {
						return err
					}
					if v, err := strconv.Atoi(port); err == nil && v > 0 {
						cfg.Proxy.Port = v
					}
					if cfg.Proxy.User, err = p.ask("Proxy user", ""); err != nil {
						return err
					}
				}
			}

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if err := config.Save(cfg, path); err != nil {
				return err
			}
			GetLogger().Info().Str("path", path).Msg("configuration saved")

			fmt.Fprintf(out, "\nConfiguration saved to: %s\n", path)
			if cfg.Proxy.User != "" {
				fmt.Fprintln(out, "The proxy password is not stored; you will be asked for it when needed.")
			}
			fmt.Fprintln(out, "Test it with: rescale-drive config test")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")
	return cmd
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the merged configuration with secrets masked.

Priority: flags > environment (RESCALE_DRIVE_*) > config file > defaults`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			r := cfg.Redacted()
			out := cmd.OutOrStdout()

			fmt.Fprintln(out, "Store:")
			fmt.Fprintf(out, "  Backend:        %s\n", r.Store.Backend)
			switch r.Store.Backend {
			case config.BackendHTTP:
				fmt.Fprintf(out, "  Base URL:       %s\n", r.Store.BaseURL)
				fmt.Fprintf(out, "  API key:        %s\n", orUnset(r.Store.APIKey))
			case config.BackendS3:
				fmt.Fprintf(out, "  Bucket:         %s\n", r.S3.Bucket)
				fmt.Fprintf(out, "  Region:         %s\n", r.S3.Region)
				if r.S3.Endpoint != "" {
					fmt.Fprintf(out, "  Endpoint:       %s\n", r.S3.Endpoint)
				}
				fmt.Fprintf(out, "  Prefix:         %s\n", r.S3.Prefix)
				fmt.Fprintf(out, "  Secret key:     %s\n", orUnset(r.S3.SecretAccessKey))
			case config.BackendAzure:
				fmt.Fprintf(out, "  Container:      %s\n", r.Azure.Container)
				fmt.Fprintf(out, "  Prefix:         %s\n", r.Azure.Prefix)
				fmt.Fprintf(out, "  Connection:     %s\n", orUnset(r.Azure.ConnectionString))
			case config.BackendOSS:
				fmt.Fprintf(out, "  Endpoint:       %s\n", r.OSS.Endpoint)
				fmt.Fprintf(out, "  Bucket:         %s\n", r.OSS.Bucket)
				fmt.Fprintf(out, "  Prefix:         %s\n", r.OSS.Prefix)
				fmt.Fprintf(out, "  Secret:         %s\n", orUnset(r.OSS.AccessKeySecret))
			}
			if r.Store.RootFolderID != "" {
				fmt.Fprintf(out, "  Root folder:    %s\n", r.Store.RootFolderID)
			}
			fmt.Fprintf(out, "  Requests/sec:   %g\n", r.Store.RequestsPerSecond)
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Transfer:")
			fmt.Fprintf(out, "  Max upload:     %d MB\n", r.Transfer.MaxUploadMB)
			if len(r.Transfer.AllowedMIMETypes) > 0 {
				fmt.Fprintf(out, "  Allowed types:  %s\n", strings.Join(r.Transfer.AllowedMIMETypes, ", "))
			}
			fmt.Fprintf(out, "  Archive workers: %d\n", r.Transfer.ArchiveConcurrency)
			fmt.Fprintf(out, "  HTTP retries:   %d\n", r.Transfer.HTTPRetries)
			fmt.Fprintln(out)

			fmt.Fprintln(out, "View:")
			fmt.Fprintf(out, "  Page size:      %d\n", r.View.PageSize)
			fmt.Fprintf(out, "  Sort:           %s\n", r.View.Sort)
			fmt.Fprintf(out, "  Show folders:   %t\n", r.View.ShowFolders)
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Proxy:")
			fmt.Fprintf(out, "  Mode:           %s\n", r.Proxy.Mode)
			if r.Proxy.Host != "" {
				fmt.Fprintf(out, "  Host:           %s:%d\n", r.Proxy.Host, r.Proxy.Port)
			}
			if r.Proxy.User != "" {
				fmt.Fprintf(out, "  User:           %s\n", r.Proxy.User)
			}

			if path, err := configPath(); err == nil {
				fmt.Fprintf(out, "\nConfiguration file: %s\n", path)
				if _, err := os.Stat(path); os.IsNotExist(err) {
					fmt.Fprintln(out, "  (file does not exist - using defaults)")
				}
			}
			return nil
		},
	}
}

// newConfigTestCmd creates the 'config test' command.
func newConfigTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Test the store connection",
		Long:  `Open the configured store and list the first page of the root folder.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			drive, err := openDrive(cmd, nil)
			if err != nil {
				return err
			}
			snap, err := drive.ListPage(commandContext(cmd), "", 1, models.DefaultViewFilter())
			if err != nil {
				return fmt.Errorf("connection test failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Connected: %d items on the first page of the root folder\n", len(snap.Items))
			return nil
		},
	}
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, path)
			if _, err := os.Stat(path); err != nil {
				fmt.Fprintln(out, "Status: file does not exist (create it with: rescale-drive config init)")
			}
			return nil
		},
	}
}

func orUnset(s string) string {
	if s == "" {
		return "<not set>"
	}
	return s
}
