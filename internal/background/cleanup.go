package background

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const taskTimeout = 30 * time.Second

// CleanupTask deletes one kind of expired row and reports how many went.
type CleanupTask struct {
	Name string
	Run  func(ctx context.Context) (int64, error)
}

// CleanupManager runs the cleanup tasks on a cron schedule
type CleanupManager struct {
	cron   *cron.Cron
	tasks  []CleanupTask
	logger *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc

	// initial tracks the run Start kicks off outside the scheduler
	initial sync.WaitGroup
}

// NewCleanupManager parses the schedule (standard cron or a descriptor such
// as "@every 1h") and registers one job that runs every task in order.
func NewCleanupManager(schedule string, tasks []CleanupTask, logger *slog.Logger) (*CleanupManager, error) {
	cm := &CleanupManager{
		cron:   cron.New(),
		tasks:  tasks,
		logger: logger,
	}
	cm.ctx, cm.cancel = context.WithCancel(context.Background())

	if _, err := cm.cron.AddFunc(schedule, func() { cm.RunOnce(cm.context()) }); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	return cm, nil
}

func (cm *CleanupManager) context() context.Context {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.ctx
}

// Start runs the tasks once and then hands them to the scheduler
func (cm *CleanupManager) Start(ctx context.Context) {
	cm.mu.Lock()
	cm.cancel()
	cm.ctx, cm.cancel = context.WithCancel(ctx)
	cm.mu.Unlock()

	runCtx := cm.context()
	cm.initial.Add(1)
	go func() {
		defer cm.initial.Done()
		cm.RunOnce(runCtx)
	}()
	cm.cron.Start()
	cm.logger.Info("cleanup scheduler started", slog.Int("tasks", len(cm.tasks)))
}

// Stop cancels running tasks and waits for the initial run and any scheduled
// job to return
func (cm *CleanupManager) Stop() {
	cm.mu.Lock()
	cm.cancel()
	cm.mu.Unlock()

	<-cm.cron.Stop().Done()
	cm.initial.Wait()
	cm.logger.Info("cleanup scheduler stopped")
}

// RunOnce runs every task. A failing task is logged and does not stop the others.
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	for _, task := range cm.tasks {
		if ctx.Err() != nil {
			return
		}

		taskCtx, cancel := context.WithTimeout(ctx, taskTimeout)
		deleted, err := task.Run(taskCtx)
		cancel()

		if err != nil {
			cm.logger.Error("cleanup task failed", slog.String("task", task.Name), slog.Any("error", err))
			continue
		}
		if deleted > 0 {
			cm.logger.Info("cleanup task completed",
				slog.String("task", task.Name),
				slog.Int64("rows_deleted", deleted))
		}
	}
}
