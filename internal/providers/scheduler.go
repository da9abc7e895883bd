package providers

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"piebrain/internal/capability"
	"piebrain/internal/config"
)

const schedulerName = "scheduler"

// Scheduler enqueues the configured prompts on a cron schedule. A slow
// engine never stacks firings: a tick that lands while the previous one
// is still enqueueing is skipped.
type Scheduler struct {
	spec    string
	prompts []string
	log     *zap.Logger
}

func NewScheduler(cfg config.SchedulerConfig, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	spec := cfg.Spec
	if spec == "" {
		spec = "0 0 * * *"
	}
	return &Scheduler{
		spec:    spec,
		prompts: cfg.Prompts,
		log:     log,
	}
}

func (s *Scheduler) Name() string { return schedulerName }

func (s *Scheduler) Run(ctx context.Context, enqueue capability.EnqueueFunc) error {
	if len(s.prompts) == 0 {
		s.log.Warn("scheduler enabled with no prompts configured")
		<-ctx.Done()
		return ctx.Err()
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.log})),
	)
	if _, err := c.AddFunc(s.spec, func() { s.fire(enqueue) }); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", s.spec, err)
	}

	c.Start()
	s.log.Info("scheduler started", zap.String("spec", s.spec), zap.Int("prompts", len(s.prompts)))

	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

func (s *Scheduler) fire(enqueue capability.EnqueueFunc) {
	for _, prompt := range s.prompts {
		id, err := enqueue(prompt)
		if err != nil {
			s.log.Warn("scheduled enqueue failed", zap.String("prompt", prompt), zap.Error(err))
			continue
		}
		s.log.Info("scheduled task queued", zap.Int64("task", id), zap.String("prompt", prompt))
	}
}

// cronLogger adapts zap to the cron logging interface.
type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Infow(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
