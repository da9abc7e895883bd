package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"piebrain/internal/agents"
	"piebrain/internal/capability"
	"piebrain/internal/engine"
	"piebrain/internal/governor"
	"piebrain/internal/guardian"
	"piebrain/internal/llm"
	"piebrain/internal/providers"
	"piebrain/internal/registry"
	"piebrain/internal/router"
	"piebrain/internal/store"
	"piebrain/internal/tools"
)

// statusRefreshInterval paces the registry snapshot the CLI reads.
const statusRefreshInterval = 15 * time.Second

// runCmd starts the long-lived orchestrator
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the orchestrator daemon",
	Long: `Starts the task engine and all enabled intake providers.

The daemon recovers any work interrupted by the previous run, then claims
pending tasks, routes them through the configured model, and executes
them until it receives SIGINT or SIGTERM. In-flight local work is drained
before exit; detached agent processes keep running and are reconciled on
the next start.`,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	st, err := store.New(cfg.Store.Path, cfg.Guardian.MaxRequestLen, logger)
	if err != nil {
		return fmt.Errorf("failed to open task store: %w", err)
	}
	defer st.Close()

	artifacts, err := capability.NewArtifactWriter(cfg.Engine.InboxDir)
	if err != nil {
		return err
	}

	gov := governor.New(logger)
	guard := guardian.New(cfg.Guardian.AllowedRoots, cfg.Guardian.MaxRequestLen, logger)

	locals := registry.NewLocals(logger)
	agentReg := registry.NewAgents(logger, gov, cfg.Agents.Active)
	provReg := registry.NewProviders(logger)
	if err := registerBuiltins(ctx, guard, locals, agentReg, provReg); err != nil {
		return err
	}

	watcher, err := guardian.NewWatcher(guard, locals, agentReg,
		cfg.Extensions.ToolsDir, cfg.Extensions.AgentsDir, cfg.GetWatcherInterval(), logger)
	if err != nil {
		return fmt.Errorf("failed to create extension watcher: %w", err)
	}
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start extension watcher: %w", err)
	}
	defer watcher.Stop()

	completer, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to initialize inference: %w", err)
	}

	rt := router.New(completer, gov, locals, agentReg, router.Config{
		Retries:  cfg.Router.Retries,
		Timeout:  cfg.GetRouterTimeout(),
		Preamble: cfg.Router.Preamble,
	}, logger)

	eng := engine.New(st, rt, locals, agentReg, guard, artifacts, engine.Config{
		PollInterval:    cfg.GetPollInterval(),
		Workers:         cfg.Engine.Workers,
		StalenessWindow: cfg.GetStalenessWindow(),
	}, logger)

	enqueue := func(text string) (int64, error) {
		if err := guard.ValidateMessage(text); err != nil {
			return 0, err
		}
		return st.Enqueue(text)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx)
	})
	for _, p := range provReg.All() {
		g.Go(func() error {
			logger.Info("intake provider started", zap.String("provider", p.Name()))
			if err := p.Run(gctx, enqueue); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("provider %s: %w", p.Name(), err)
			}
			return nil
		})
	}
	g.Go(func() error {
		return publishDaemonStatus(gctx, gov, locals, agentReg, provReg)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// registerBuiltins admits and publishes the compiled-in capabilities.
// A builtin failing its probe is a broken install, so it aborts startup
// rather than quarantining silently.
func registerBuiltins(ctx context.Context, guard *guardian.Guardian,
	locals *registry.Locals, agentReg *registry.Agents, provReg *registry.Providers) error {
	mem, err := tools.NewMemory(cfg.Memory, logger)
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}
	builtins := []capability.Local{
		tools.NewArxiv(cfg.Arxiv, logger),
		mem,
		tools.NewGitSync(cfg.GitSync, logger),
	}
	for _, impl := range builtins {
		if err := guard.AdmitLocal(ctx, impl); err != nil {
			return fmt.Errorf("builtin %s rejected: %w", impl.Name(), err)
		}
		if err := locals.Publish(impl.Name(), "builtin", impl); err != nil {
			return err
		}
	}

	claude := agents.NewClaudeCLI()
	if err := guard.AdmitAgent(claude); err != nil {
		return fmt.Errorf("builtin agent %s rejected: %w", claude.Name(), err)
	}
	if err := agentReg.Publish(claude.Name(), "builtin", claude); err != nil {
		return err
	}

	if cfg.Providers.Telegram.Enabled && cfg.Providers.Telegram.Token != "" {
		tg := providers.NewTelegram(cfg.Providers.Telegram, logger)
		if err := guard.AdmitProvider(tg); err != nil {
			return fmt.Errorf("provider %s rejected: %w", tg.Name(), err)
		}
		if err := provReg.Publish(tg.Name(), "builtin", tg); err != nil {
			return err
		}
	}
	if cfg.Providers.Scheduler.Enabled {
		sched := providers.NewScheduler(cfg.Providers.Scheduler, logger)
		if err := guard.AdmitProvider(sched); err != nil {
			return fmt.Errorf("provider %s rejected: %w", sched.Name(), err)
		}
		if err := provReg.Publish(sched.Name(), "builtin", sched); err != nil {
			return err
		}
	}
	return nil
}

// publishDaemonStatus periodically snapshots the registries and live
// leases to a JSON file next to the database so 'piebrain modules' works
// without an RPC surface into the daemon.
func publishDaemonStatus(ctx context.Context, gov *governor.Governor,
	locals *registry.Locals, agentReg *registry.Agents, provReg *registry.Providers) error {
	write := func() {
		var records []registry.ModuleRecord
		records = append(records, locals.Records()...)
		records = append(records, agentReg.Records()...)
		records = append(records, provReg.Records()...)
		if err := registry.WriteStatus(cfg.ModulesStatusPath(), records, gov.Active()); err != nil {
			logger.Warn("failed to write module status", zap.Error(err))
		}
	}

	write()
	ticker := time.NewTicker(statusRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			write()
		}
	}
}
