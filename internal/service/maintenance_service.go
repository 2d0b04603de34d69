package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"todo-miniapp/internal/repository"
)

// MaintenanceService keeps the SQLite file compact between requests.
type MaintenanceService struct {
	repo    *repository.TodoRepository
	logger  *log.Logger
	timeout time.Duration
}

func NewMaintenanceService(repo *repository.TodoRepository, logger *log.Logger) *MaintenanceService {
	return &MaintenanceService{
		repo:    repo,
		logger:  logger.WithPrefix("maintenance"),
		timeout: 30 * time.Second,
	}
}

// Run checkpoints the write-ahead log and logs the table size.
func (m *MaintenanceService) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	started := time.Now()
	if err := m.repo.Checkpoint(ctx); err != nil {
		return err
	}
	count, err := m.repo.Count(ctx)
	if err != nil {
		return err
	}
	m.logger.Info("checkpoint done", "todos", count, "took", time.Since(started).Round(time.Millisecond))
	return nil
}

// Job adapts Run for the scheduler.
func (m *MaintenanceService) Job() func() {
	return func() {
		if err := m.Run(context.Background()); err != nil {
			m.logger.Error("maintenance", "err", err)
		}
	}
}
