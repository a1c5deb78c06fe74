package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	_ "time/tzdata"

	"github.com/asmbly/odvclock/internal/chat"
	"github.com/asmbly/odvclock/internal/config"
	"github.com/asmbly/odvclock/internal/event"
	"github.com/asmbly/odvclock/internal/layout"
	"github.com/asmbly/odvclock/internal/ledger"
	"github.com/asmbly/odvclock/internal/onduty"
	"github.com/asmbly/odvclock/internal/openpath"
	"github.com/asmbly/odvclock/internal/secrets"
	"github.com/asmbly/odvclock/internal/server"
	"github.com/asmbly/odvclock/internal/signage"
	"github.com/asmbly/odvclock/internal/store"
	"github.com/asmbly/odvclock/internal/timesheet"
	"github.com/asmbly/odvclock/internal/workspace"
)

var rootCmd = &cobra.Command{
	Use:          "odvclock",
	Short:        "On-duty volunteer clock-in/clock-out automation",
	Long:         "odvclock records door-controller clock events in volunteer timesheets and the master log, updates the lobby slideshow and announces shifts in Slack.",
	SilenceUsage: true,
}

var lambdaCmd = &cobra.Command{
	Use:   "lambda",
	Short: "Run as an AWS Lambda function",
	RunE:  runLambda,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the webhook over HTTP",
	RunE:  runServe,
}

var replayCmd = &cobra.Command{
	Use:   "replay <file|->",
	Short: "Handle a recorded webhook event",
	Args:  cobra.ExactArgs(1),
	RunE:  runReplay,
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-run failed events from the event log",
	RunE:  runRetry,
}

var shiftsCmd = &cobra.Command{
	Use:   "shifts",
	Short: "List recorded shifts",
	RunE:  runShifts,
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON Schema of the webhook body",
	RunE:  runSchema,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	RunE:  runConfig,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE:  runConfigInit,
}

func init() {
	replayCmd.Flags().Bool("body", false, "Input is the bare webhook body rather than a trigger record")

	shiftsCmd.Flags().String("since", "last week", "Only shifts started after this (e.g. \"yesterday\", \"3 days ago\")")
	shiftsCmd.Flags().Bool("open", false, "Only shifts still waiting for a clock-out")
	shiftsCmd.Flags().String("ics", "", "Also write the shifts to this iCalendar file")

	configCmd.AddCommand(configInitCmd)

	rootCmd.RunE = runRoot
	rootCmd.AddCommand(lambdaCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(shiftsCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// startLambda is swapped out in tests.
var startLambda = runLambda

// runRoot starts the Lambda runtime when the bootstrap runs the binary
// without a subcommand, and prints help anywhere else.
func runRoot(cmd *cobra.Command, args []string) error {
	if onLambda() {
		return startLambda(cmd, args)
	}
	return cmd.Help()
}

func onLambda() bool {
	return os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if onLambda() {
		// Only /tmp is writable.
		if cfg.Store.Path == "" {
			cfg.Store.Path = "/tmp/odvclock.db"
		}
		if cfg.Google.TokenCachePath == "" {
			cfg.Google.TokenCachePath = "/tmp/odvclock-google-token.json"
		}
	} else if cfg.Google.TokenCachePath == "" {
		if dir, err := config.ConfigDir(); err == nil {
			cfg.Google.TokenCachePath = filepath.Join(dir, "google-token.json")
		}
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" || onLambda() {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	st, err := store.New(ctx, store.Options{
		Backend:       cfg.Store.Backend,
		Path:          cfg.Store.Path,
		RedisAddr:     cfg.Store.RedisAddr,
		RedisPassword: cfg.Store.RedisPassword,
		RedisDB:       cfg.Store.RedisDB,
		RedisPrefix:   cfg.Store.RedisPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}
	return st, nil
}

// pipeline is everything a webhook invocation needs, built once per
// process.
type pipeline struct {
	handler  *onduty.Handler
	store    store.Store
	registry *prometheus.Registry
	logger   *slog.Logger
}

func (p *pipeline) Close() error {
	return p.store.Close()
}

func newPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	logger := newLogger(cfg)

	if cfg.Secrets.Source != secrets.SourceNone {
		resolver, err := secrets.NewResolver(ctx, cfg.Secrets.Region, logger)
		if err != nil {
			return nil, err
		}
		if err := resolver.Apply(ctx, cfg.Secrets.Source, cfg.Secrets.SecretID, cfg.Sensitive()); err != nil {
			return nil, fmt.Errorf("resolving secrets: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w (run 'odvclock config' to inspect the effective settings)", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	timeout := cfg.HTTP.Timeout()

	httpClient, err := workspace.HTTPClient(ctx, workspace.Credentials{
		ServiceAccountKey: cfg.Google.ServiceAccountKey,
		Impersonate:       cfg.Google.Impersonate,
		Lifetime:          cfg.Google.TokenLifetime(),
		TokenCachePath:    cfg.Google.TokenCachePath,
		Timeout:           timeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("building google credentials: %w", err)
	}
	google, err := workspace.New(ctx, httpClient, logger)
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	editors := layout.Editors{Users: cfg.Google.Editors, Groups: cfg.Google.EditorGroups}

	handler := onduty.NewHandler(onduty.Deps{
		Decoder: event.NewDecoder(event.Options{
			APIKey:        cfg.Webhook.APIKey,
			ClockInEntry:  cfg.Webhook.ClockInEntry,
			ClockOutEntry: cfg.Webhook.ClockOutEntry,
			Location:      loc,
		}, logger),
		Resolver: openpath.NewClient(openpath.Config{
			BaseURL:  cfg.Openpath.BaseURL,
			OrgID:    cfg.Openpath.OrgID,
			APIUser:  cfg.Openpath.APIUser,
			APIKey:   cfg.Openpath.APIKey,
			Timeout:  timeout,
			CacheTTL: cfg.Openpath.CacheTTL(),
		}, logger),
		Locator: timesheet.NewLocator(google, google, timesheet.Options{
			DriveID:        cfg.Google.OnDutyDriveID,
			ParentFolderID: cfg.Timesheet.ParentFolderID,
			TemplateID:     cfg.Timesheet.TemplateID,
			NamePrefix:     cfg.Timesheet.NamePrefix,
			Editors:        editors,
		}, logger),
		Ledger: ledger.NewWriter(google, st, ledger.Options{
			MasterSpreadsheetID: cfg.Ledger.MasterSpreadsheetID,
			DedupWindow:         cfg.Ledger.DedupWindow(),
			Editors:             editors,
		}, logger),
		Signage: signage.NewUpdater(google, signage.Options{
			SourceDriveID: cfg.Google.OnDutyDriveID,
			SourceFolder:  cfg.Signage.SourceFolder,
			LiveDriveID:   cfg.Google.MainDriveID,
			LiveFolder:    cfg.Signage.LiveFolder,
			SlidePrefix:   cfg.Signage.SlidePrefix,
		}, logger),
		Notifier: chat.NewNotifier(chat.Options{
			Token:           cfg.Slack.Token,
			WebhookURL:      cfg.Slack.WebhookURL,
			OnDutyChannelID: cfg.Slack.OnDutyChannelID,
			Timeout:         timeout,
		}, logger),
		Events:  st,
		Metrics: onduty.NewMetrics(registry),
	}, logger)

	return &pipeline{handler: handler, store: st, registry: registry, logger: logger}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	router := server.NewRouter(p.handler, server.Options{
		Path:          cfg.Server.Path,
		RatePerSecond: cfg.Server.RatePerSecond,
		Burst:         cfg.Server.Burst,
		Gatherer:      p.registry,
		Health:        p.store.PingContext,
	}, p.logger)

	return server.Run(ctx, cfg.Server.Addr, router, cfg.Server.ShutdownTimeout(), p.logger)
}

func runReplay(cmd *cobra.Command, args []string) error {
	bare, _ := cmd.Flags().GetBool("body")

	var (
		data []byte
		err  error
	)
	if args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("reading event: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	p, err := newPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	var resp onduty.Response
	if bare {
		resp, err = p.handler.HandleBody(ctx, data)
	} else {
		resp, err = p.handler.Handle(ctx, data)
	}
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), resp)
}

func runRetry(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	p, err := newPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	sum, err := p.handler.Retry(ctx)
	if err != nil {
		return err
	}
	if sum.Retried == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No failed events.")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Retried %d events: %d succeeded, %d failed\n", sum.Retried, sum.Succeeded, sum.Failed)
	if sum.Failed > 0 {
		return fmt.Errorf("%d events still failing", sum.Failed)
	}
	return nil
}

func runSchema(cmd *cobra.Command, args []string) error {
	return printJSON(cmd.OutOrStdout(), event.Schema())
}

func runConfig(cmd *cobra.Command, args []string) error {
	path, err := config.ConfigPath()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out, err := config.Marshal(cfg.Redacted())
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "# %s\n", path)
	if _, err := w.Write(out); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil && cfg.Secrets.Source == secrets.SourceNone {
		fmt.Fprintf(w, "\n# %s\n", strings.ReplaceAll(err.Error(), "\n", " "))
	}
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path, err := config.ConfigPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := config.Marshal(config.DefaultConfig())
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
