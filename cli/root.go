// Package cli is the wa-console command tree.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"wa-console/adminsync"
	"wa-console/backend"
	"wa-console/config"
	"wa-console/statussync"
	"wa-console/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app carries everything a command needs once flags and config are resolved
type app struct {
	in  *bufio.Reader
	out io.Writer

	configPath string
	baseURL    string
	token      string
	logLevel   string
	timeout    time.Duration

	cfg      config.Config
	logger   zerolog.Logger
	logFile  *os.File
	registry *prometheus.Registry
	stats    *utils.RequestStats
	client   *backend.Client

	statusSyncer *statussync.Syncer
}

// NewRootCmd builds the command tree reading prompts from in and writing to out
func NewRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	a := &app{in: bufio.NewReader(in), out: out}

	root := &cobra.Command{
		Use:           "wa-console",
		Short:         "Operator console for the WhatsApp assistant platform",
		Long:          `wa-console watches client pairing state and manages the client fleet of a WhatsApp assistant backend.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}
			return a.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.teardown()
		},
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", config.DefaultConfigPath, "Path to the TOML config file")
	flags.StringVar(&a.baseURL, "base-url", "", "Backend base URL (overrides config and "+config.EnvBaseURL+")")
	flags.StringVar(&a.token, "token", "", "Bearer token (overrides config and "+config.EnvToken+")")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.DurationVar(&a.timeout, "timeout", 0, "Backend request timeout")

	root.SetOut(out)
	root.AddCommand(newClientCmd(a))
	root.AddCommand(newAdminCmd(a))
	root.AddCommand(newVersionCmd())
	return root
}

func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if a.baseURL != "" {
		cfg.Backend.BaseURL = a.baseURL
	}
	if a.token != "" {
		cfg.Backend.Token = a.token
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.timeout > 0 {
		cfg.Backend.Timeout = config.Duration{Duration: a.timeout}
	}
	a.cfg = cfg

	a.logFile, err = utils.SetupLogging(cfg.Log.Dir)
	if err != nil {
		// console logging still works without the file
		fmt.Fprintf(os.Stderr, "log file unavailable: %v\n", err)
		a.logFile = nil
	}
	if a.logFile != nil {
		a.logger = utils.NewLogger(cfg.Log.Level, a.logFile)
	} else {
		a.logger = utils.NewLogger(cfg.Log.Level, nil)
	}

	a.registry = prometheus.NewRegistry()
	a.stats = utils.NewRequestStats()
	a.client, err = backend.New(cfg.Backend.BaseURL,
		backend.WithToken(cfg.Backend.Token),
		backend.WithTimeout(cfg.Backend.Timeout.Duration),
		backend.WithLogger(a.logger),
		backend.WithRegisterer(a.registry),
		backend.WithStats(a.stats),
	)
	if err != nil {
		return fmt.Errorf("invalid backend url: %w", err)
	}
	return nil
}

func (a *app) teardown() {
	if a.logFile != nil {
		a.logFile.Close()
		a.logFile = nil
	}
}

// syncer returns the command's status syncer, registering its metrics once
func (a *app) syncer() *statussync.Syncer {
	if a.statusSyncer == nil {
		a.statusSyncer = statussync.New(a.client,
			statussync.WithLogger(a.logger),
			statussync.WithRegisterer(a.registry),
		)
	}
	return a.statusSyncer
}

// fleet builds a fleet view; one-shot commands leave it unstarted
func (a *app) fleet(opts ...adminsync.Option) *adminsync.Fleet {
	base := []adminsync.Option{
		adminsync.WithLogger(a.logger),
		adminsync.WithSyncer(a.syncer()),
		adminsync.WithDebounce(a.cfg.Sync.Debounce.Duration),
		adminsync.WithNoticeTTL(a.cfg.Sync.NoticeTTL.Duration),
		adminsync.WithPollInterval(a.cfg.Sync.PollInterval.Duration),
		adminsync.WithPanelInterval(a.cfg.Sync.PanelInterval.Duration),
		adminsync.WithConcurrency(a.cfg.Sync.Concurrency),
	}
	return adminsync.NewFleet(a.client, append(base, opts...)...)
}

// confirmer returns the prompt used for destructive actions
func (a *app) confirmer(yes bool) utils.Confirmer {
	if yes {
		return utils.Confirmed
	}
	return utils.ConfirmFunc(func(prompt string) bool {
		fmt.Fprintf(a.out, "%s (yes/no): ", prompt)
		line, err := a.in.ReadString('\n')
		if err != nil && line == "" {
			return false
		}
		response := strings.ToLower(strings.TrimSpace(line))
		return response == "yes" || response == "y"
	})
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// report prints the operator-facing form of err and returns it for the exit code
func (a *app) report(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, utils.ErrNotConfirmed):
		fmt.Fprintln(a.out, "Cancelled.")
		return nil
	case errors.Is(err, adminsync.ErrDebounced):
		return nil
	}
	var be *backend.Error
	if errors.As(err, &be) {
		return errors.New(backend.UserMessage(err))
	}
	return err
}

// Execute runs the command tree against the process stdio
func Execute() int {
	cmd := NewRootCmd(os.Stdin, os.Stdout)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
