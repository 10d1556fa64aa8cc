package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/wecom-bridge/internal/api"
	"github.com/mattjoyce/wecom-bridge/internal/config"
	"github.com/mattjoyce/wecom-bridge/internal/dedupe"
	"github.com/mattjoyce/wecom-bridge/internal/events"
	"github.com/mattjoyce/wecom-bridge/internal/forward"
	"github.com/mattjoyce/wecom-bridge/internal/lock"
	"github.com/mattjoyce/wecom-bridge/internal/log"
	"github.com/mattjoyce/wecom-bridge/internal/webhook"
	"github.com/mattjoyce/wecom-bridge/internal/wecom"
)

var version = "0.1.0"

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err == nil {
		return 0
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "wecom-bridge",
		Short: "WeCom callback bridge",
		Long: `wecom-bridge verifies and decrypts WeCom (Enterprise WeChat) callbacks
and forwards each message as JSON to a downstream hook.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "Path to configuration file or directory")

	system := &cobra.Command{
		Use:   "system",
		Short: "Bridge lifecycle",
	}
	system.AddCommand(newStartCommand())

	root.AddCommand(system)
	root.AddCommand(newStartCommand())
	root.AddCommand(newConfigCommand())
	root.AddCommand(newWatchCommand())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "wecom-bridge version %s\n", version)
		},
	})

	return root
}

func newStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the bridge in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runStart(ctx, configFlag(cmd), cmd.ErrOrStderr())
		},
	}
}

func configFlag(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}

// loadConfig resolves the config location and loads it.
func loadConfig(configPath string, stderr io.Writer) (*config.Config, error) {
	if configPath == "" {
		discovered, err := config.DiscoverConfigFile()
		if err != nil {
			return nil, fmt.Errorf("failed to discover config: %w", err)
		}
		if discovered != "" {
			fmt.Fprintf(stderr, "Using discovered config: %s\n", discovered)
		}
		configPath = discovered
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// runStart runs the bridge until ctx is cancelled or a server fails.
// Configuration problems are reported before any port is bound.
func runStart(ctx context.Context, configPath string, stderr io.Writer) error {
	cfg, err := loadConfig(configPath, stderr)
	if err != nil {
		return &exitError{code: 1, err: err}
	}
	creds, err := cfg.Credentials()
	if err != nil {
		return &exitError{code: 1, err: fmt.Errorf("invalid configuration: %w", err)}
	}
	whConfig, err := webhook.FromGlobalConfig(cfg)
	if err != nil {
		return &exitError{code: 1, err: err}
	}
	whConfig.Token = creds.Token

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("wecom-bridge starting", "version", version, "config", cfg.SourceFile)

	pidLock, err := lock.AcquirePIDLock(cfg.Service.PIDFile)
	if err != nil {
		logger.Error("failed to acquire PID lock", "path", cfg.Service.PIDFile, "error", err)
		return &exitError{code: 1}
	}
	defer pidLock.Release()

	codec, err := wecom.NewCodec(creds.Key, creds.ReceiverID)
	if err != nil {
		return &exitError{code: 1, err: err}
	}

	fwd := forward.New(forward.Config{
		BaseURL:   cfg.Forward.BaseURL,
		Path:      cfg.Forward.Path,
		Token:     creds.ForwardToken,
		Timeout:   cfg.Forward.Timeout,
		UserAgent: "wecom-bridge/" + version,
	}, nil, log.WithComponent("forward"))

	guard := dedupe.Noop()
	if cfg.Dedupe.Enabled {
		g, err := dedupe.NewRedisGuard(cfg.Dedupe.RedisURL, cfg.Dedupe.TTL)
		if err != nil {
			logger.Warn("replay guard disabled", "error", err)
		} else {
			guard = g
			logger.Info("replay guard enabled", "ttl", cfg.Dedupe.TTL)
		}
	}
	defer guard.Close()

	hub := events.NewHub(256)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	server := webhook.New(whConfig, codec, fwd, guard, hub, log.WithComponent("webhook"))
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("webhook: %w", err)
		}
	}()

	if cfg.Admin.Enabled {
		admin := api.New(api.Config{
			Listen:       cfg.Admin.Listen,
			APIKey:       cfg.Admin.APIKey,
			Version:      version,
			CallbackPath: whConfig.Path,
		}, hub, log.WithComponent("api"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := admin.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
	}

	logger.Info("wecom-bridge listening",
		"listen", whConfig.Listen,
		"path", whConfig.Path,
		"forward", cfg.Forward.BaseURL+cfg.Forward.Path,
	)

	var failure error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		failure = &exitError{code: 1}
	}

	// In-flight callbacks finish their forward before the guard closes.
	cancel()
	wg.Wait()

	logger.Info("wecom-bridge stopped")
	return failure
}
