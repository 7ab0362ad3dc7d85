// Package cli provides the command-line interface for rescale-drive.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rescale/rescale-drive/internal/config"
	"github.com/rescale/rescale-drive/internal/events"
	"github.com/rescale/rescale-drive/internal/http"
	"github.com/rescale/rescale-drive/internal/logging"
	"github.com/rescale/rescale-drive/internal/metrics"
	"github.com/rescale/rescale-drive/internal/services"
	"github.com/rescale/rescale-drive/internal/version"
)

var (
	// Global flags
	cfgFile     string
	backendName string
	apiKey      string
	apiBaseURL  string
	retries     int
	metricsAddr string
	verbose     bool
	debug       bool

	logger   *logging.Logger
	eventBus *events.EventBus

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc

	logFile *os.File
)

// openStore is replaced in tests to share one in-memory store across
// commands.
var openStore = services.OpenStore

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rescale-drive",
		Short: "Browse and transfer files in a hierarchical remote store",
		Long: `rescale-drive ` + version.Version + ` - Built: ` + version.BuildTime + `
Browse folders page by page, upload local trees, download files and
assemble folder archives against a drive REST API or an object store
(S3, Azure Blob Storage, Aliyun OSS).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			eventBus = events.NewEventBus(0)
			logger = logging.NewLogger(logging.ModeCLI, eventBus)
			if verbose || debug {
				logging.SetGlobalLevel(zerolog.DebugLevel)
			}
			if debug {
				if err := openDebugLog(); err != nil {
					logger.Warn().Err(err).Msg("debug log file unavailable")
				}
				go traceEvents(logger, eventBus.SubscribeAll())
			}
			if metricsAddr != "" {
				go serveMetrics(metricsAddr)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if eventBus != nil {
				eventBus.Close()
				eventBus = nil
			}
			if logFile != nil {
				logFile.Close()
				logFile = nil
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&backendName, "backend", "", "Store backend: http, s3, azure, oss or memory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Drive API key (overrides config and environment)")
	rootCmd.PersistentFlags().StringVar(&apiBaseURL, "api-url", "", "Drive API base URL (overrides config)")
	rootCmd.PersistentFlags().IntVar(&retries, "retries", -1, "Whole-action retries for read operations (-1 = use config)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Debug output, also written to a log file")

	rootCmd.Version = version.Version + " (" + version.BuildTime + ")"
	rootCmd.CompletionOptions.HiddenDefaultCmd = true

	return rootCmd
}

// Execute runs the CLI.
func Execute() error {
	rootContext, cancelFunc = context.WithCancel(context.Background())
	defer cancelFunc()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Loop so repeated Ctrl+C does not block the sender.
	go func() {
		for sig := range sigChan {
			if sig != nil {
				fmt.Fprintf(os.Stderr, "\nReceived signal %v, cancelling...\n", sig)
				cancelFunc()
			}
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.ExecuteContext(rootContext)

	signal.Stop(sigChan)
	close(sigChan)

	return err
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newBrowseCmd())
	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newDownloadCmd())
	rootCmd.AddCommand(newArchiveCmd())
	rootCmd.AddCommand(newMkdirCmd())
	rootCmd.AddCommand(newPreviewCmd())
	rootCmd.AddCommand(newInfoCmd())
	rootCmd.AddCommand(newRemoveCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// GetLogger returns the global CLI logger.
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return logger
}

// GetContext returns the global CLI context, cancelled on Ctrl+C.
func GetContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	if backendName != "" {
		cfg.Store.Backend = strings.ToLower(backendName)
	}
	if apiKey != "" {
		cfg.Store.APIKey = apiKey
	}
	if apiBaseURL != "" {
		cfg.Store.BaseURL = apiBaseURL
	}
	if retries >= 0 {
		cfg.Transfer.HTTPRetries = retries
	}

	if http.NeedsProxyPassword(cfg.Proxy) {
		pw, err := readSecret(cmd, fmt.Sprintf("Proxy password for %s@%s: ", cfg.Proxy.User, cfg.Proxy.Host))
		if err != nil {
			return nil, fmt.Errorf("failed to read proxy password: %w", err)
		}
		cfg.Proxy.Password = pw
	}
	return cfg, nil
}

// openDrive loads the configuration, lets adjust change it, validates it and
// opens the configured store.
func openDrive(cmd *cobra.Command, adjust func(*config.Config)) (*services.Drive, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if adjust != nil {
		adjust(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log := GetLogger()
	st, err := openStore(commandContext(cmd), cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Backend, err)
	}
	return services.NewDrive(st, services.Options{Config: cfg, Logger: log, EventBus: eventBus}), nil
}

// commandContext prefers the context cobra was executed with.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return GetContext()
}

func openDebugLog() error {
	dir, err := config.EnsureLogDirectory()
	if err != nil {
		return err
	}
	name := filepath.Join(dir, fmt.Sprintf("rescale-drive-%s.log", time.Now().Format("20060102")))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	logFile = f
	logger.SetOutput(logOutput())
	logger.Debug().Str("path", name).Msg("debug log enabled")
	return nil
}

// logOutput is the default log destination: stderr, plus the debug log file
// when one is open.
func logOutput() io.Writer {
	if logFile != nil {
		return io.MultiWriter(os.Stderr, logFile)
	}
	return os.Stderr
}

func serveMetrics(addr string) {
	GetLogger().Info().Str("addr", addr).Msg("serving metrics")
	if err := metrics.Serve(addr); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		GetLogger().Error().Err(err).Msg("metrics server stopped")
	}
}

// traceEvents writes browsing and transfer events to the debug log until
// the bus is closed. Log events are skipped; they are already in the log.
func traceEvents(log *logging.Logger, ch <-chan events.Event) {
	for ev := range ch {
		if ev.Type() == events.EventLog {
			continue
		}
		e := log.Debug().Str("event", string(ev.Type()))
		switch v := ev.(type) {
		case *events.TransferEvent:
			e = e.Str("task", v.TaskID).Str("kind", v.TaskKind).Int("progress", v.Progress).AnErr("task_error", v.Error)
		case *events.NavigationEvent:
			e = e.Str("folder", v.FolderID).Int("depth", v.Depth).Int("page", v.Page)
		case *events.ListingEvent:
			e = e.Str("folder", v.FolderID).Int("page", v.Page).Int("items", v.ItemCount).Bool("cached", v.FromCache)
		}
		e.Msg("event")
	}
}
