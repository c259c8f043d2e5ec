// Package cli implements the leadsync command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
	"golang.org/x/term"

	"github.com/tOgg1/leadsync/internal/config"
	"github.com/tOgg1/leadsync/internal/logging"
)

// app holds the state shared by every command of one invocation.
type app struct {
	version string

	cfgFile    string
	logLevel   string
	logFormat  string
	jsonOutput bool
	noColor    bool

	cfg     *config.Config
	logFile *os.File

	// httpClient overrides the transport of the CRM client.
	httpClient *fasthttp.Client
}

// Execute runs the root command with signal-aware cancellation.
func Execute(version string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd(version, &app{}).ExecuteContext(ctx)
}

func newRootCmd(version string, a *app) *cobra.Command {
	a.version = version
	cmd := &cobra.Command{
		Use:   "leadsync",
		Short: "Polling sync client for the WhatsApp lead inbox",
		Long: `leadsync keeps a local view of the CRM inbox fresh by polling the
collaborator API: contacts, the open conversation and the lead side panel.

Run without a subcommand to open the terminal inbox.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTUI(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default: ~/.config/leadsync/config.yaml)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	flags.StringVar(&a.logFormat, "log-format", "", "log format override (console, json)")
	flags.BoolVar(&a.jsonOutput, "json", false, "output in JSON format")
	flags.BoolVar(&a.noColor, "no-color", false, "disable colored output")

	cmd.AddCommand(
		newTUICmd(a),
		newPollCmd(a),
		newContactsCmd(a),
		newMessagesCmd(a),
		newSendCmd(a),
		newToggleAICmd(a),
		newLeadCmd(a),
		newUseCmd(a),
	)
	return cmd
}

// setup loads .env, configuration and logging. It runs before every command.
func (a *app) setup(cmd *cobra.Command) error {
	_ = godotenv.Load(".env")

	loader := config.NewLoader()
	if a.cfgFile != "" {
		loader.SetConfigFile(a.cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return &ExitError{Code: ExitCodeUsage, Err: err}
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Logging.Format = a.logFormat
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return Exitf(ExitCodeFailure, "prepare directories: %v", err)
	}
	a.cfg = cfg

	return a.initLogging(cmd)
}

func (a *app) initLogging(cmd *cobra.Command) error {
	var output io.Writer = cmd.ErrOrStderr()
	path := a.cfg.Logging.File
	// The inbox owns the terminal; its logs always go to a file.
	if path == "" && isTUICommand(cmd) {
		path = filepath.Join(a.cfg.Global.DataDir, "leadsync.log")
	}
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return Exitf(ExitCodeFailure, "create log directory: %v", err)
		}
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return Exitf(ExitCodeFailure, "open log file: %v", err)
		}
		a.logFile = file
		output = file
	}

	format := strings.ToLower(strings.TrimSpace(a.cfg.Logging.Format))
	if format == "" {
		format = "console"
	}
	logging.Init(logging.Config{
		Level:        a.cfg.Logging.Level,
		Format:       format,
		Output:       output,
		NoColor:      a.noColor || a.logFile != nil || !term.IsTerminal(int(os.Stderr.Fd())),
		EnableCaller: a.cfg.Logging.EnableCaller,
	})
	return nil
}

func (a *app) close() {
	if a.logFile != nil {
		_ = a.logFile.Close()
		a.logFile = nil
	}
}

func isTUICommand(cmd *cobra.Command) bool {
	return !cmd.HasParent() || cmd.Name() == "tui"
}

func (a *app) contextStore() *config.ContextStore {
	return config.NewContextStore(filepath.Join(a.cfg.Global.ConfigDir, "context.yaml"))
}

func (a *app) loadContext() (*config.Context, error) {
	ctx, err := a.contextStore().Load()
	if err != nil {
		return nil, Exitf(ExitCodeFailure, "load context: %v", err)
	}
	return ctx, nil
}

func (a *app) printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
