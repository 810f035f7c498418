package workers

import (
	"context"
	"fmt"
	"time"

	"trustwork_backend/internal/logger"
	"trustwork_backend/internal/metrics"

	"github.com/robfig/cron/v3"
)

// Job - один проход фоновой задачи
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler запускает задачи по cron-расписанию. Медленный проход не
// накладывается на следующий: пропущенный тик просто теряется.
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewScheduler(timeout time.Duration) *Scheduler {
	log := cronLogger{}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(log),
			cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
		),
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add регистрирует задачу. spec - выражение cron или "@every 30s".
func (s *Scheduler) Add(spec string, job Job) error {
	if _, err := s.cron.AddFunc(spec, func() { s.runOnce(job) }); err != nil {
		return fmt.Errorf("schedule %s (%q): %w", job.Name(), spec, err)
	}
	logger.Info("Worker scheduled", "worker", job.Name(), "schedule", spec)
	return nil
}

func (s *Scheduler) runOnce(job Job) {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	err := job.Run(ctx)
	metrics.RecordWorkerRun(job.Name(), time.Since(start), err == nil)
	logger.WorkerLog(job.Name(), "run", err, "duration_ms", time.Since(start).Milliseconds())
}

// Run блокирует до отмены ctx, затем ждет завершения идущих проходов
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()

	s.cancel()
	done := s.cron.Stop()
	<-done.Done()
	logger.Info("Workers stopped")
	return nil
}

// cronLogger направляет журнал cron в slog
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Error("cron: "+msg, append(keysAndValues, "error", err.Error())...)
}
