package service

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"todo-miniapp/internal/events"
	"todo-miniapp/internal/model"
	"todo-miniapp/internal/repository"
)

// Publisher receives an event after every successful mutation.
type Publisher interface {
	Publish(ev events.TodoEvent) error
}

// UpdateResult is what Update reports back. Affected is zero when no row had
// the requested id; Todo then echoes the payload with that id.
type UpdateResult struct {
	Todo     model.Todo
	Affected int64
}

// TodoService holds no state between requests: every call is a fresh
// statement against the store.
type TodoService struct {
	repo      *repository.TodoRepository
	publisher Publisher
	logger    *log.Logger
	now       func() time.Time
	sf        singleflight.Group
	// writes counts committed mutations. List calls only share a query
	// started after the caller's own last write.
	writes atomic.Uint64
}

// NewTodoService creates a TodoService. publisher may be nil.
func NewTodoService(repo *repository.TodoRepository, publisher Publisher, logger *log.Logger) *TodoService {
	return &TodoService{
		repo:      repo,
		publisher: publisher,
		logger:    logger.WithPrefix("todos"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// List returns every todo, newest first. Rows that cannot be decoded are
// logged and skipped. Concurrent callers share a single query.
func (s *TodoService) List(ctx context.Context) ([]model.Todo, error) {
	v, err, _ := s.sf.Do(s.listKey(), func() (interface{}, error) {
		return s.list(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}
	shared := v.([]model.Todo)
	return append(make([]model.Todo, 0, len(shared)), shared...), nil
}

func (s *TodoService) listKey() string {
	return "list:" + strconv.FormatUint(s.writes.Load(), 10)
}

func (s *TodoService) list(ctx context.Context) ([]model.Todo, error) {
	rows, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	todos := make([]model.Todo, 0, len(rows))
	for _, row := range rows {
		todo, err := row.Todo()
		if err != nil {
			s.logger.Warn("skip malformed row", "id", row.ID, "err", err)
			continue
		}
		todos = append(todos, todo)
	}
	return todos, nil
}

// Create stores a new todo. CreatedAt defaults to now. CompletedAt stays empty
// until an Update moves the todo from open to completed.
func (s *TodoService) Create(ctx context.Context, input model.Todo) (model.Todo, error) {
	if err := input.Validate(); err != nil {
		return model.Todo{}, err
	}

	todo := model.Todo{
		Title:       input.Title,
		Description: input.Description,
		Completed:   input.Completed,
		CreatedAt:   input.CreatedAt,
	}
	if todo.CreatedAt.IsZero() {
		todo.CreatedAt = s.now()
	}

	if err := s.repo.Create(ctx, &todo); err != nil {
		return model.Todo{}, err
	}
	s.writes.Add(1)

	stored, err := s.repo.FindByID(ctx, todo.ID)
	if err != nil {
		return model.Todo{}, err
	}

	s.logger.Info("todo created", "id", stored.ID)
	s.publish(events.TodoEvent{Kind: events.KindCreated, TodoID: stored.ID, Title: stored.Title, Completed: stored.Completed, Affected: 1})
	return stored, nil
}

// Update overwrites title, description and completed of the todo with id.
// An unknown id is not an error: nothing is written, Affected is zero and the
// payload is echoed back.
func (s *TodoService) Update(ctx context.Context, id int64, input model.Todo) (UpdateResult, error) {
	if err := input.Validate(); err != nil {
		return UpdateResult{}, err
	}

	affected, err := s.repo.Update(ctx, id, input, s.now())
	if err != nil {
		return UpdateResult{}, err
	}

	echo := input
	echo.ID = id
	if affected == 0 {
		s.logger.Warn("update matched no todo", "id", id)
		return UpdateResult{Todo: echo}, nil
	}
	s.writes.Add(1)

	stored, err := s.repo.FindByID(ctx, id)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		// Deleted between the two statements.
		stored = echo
	case err != nil:
		return UpdateResult{}, err
	}

	s.logger.Info("todo updated", "id", id, "completed", stored.Completed)
	s.publish(events.TodoEvent{Kind: events.KindUpdated, TodoID: id, Title: stored.Title, Completed: stored.Completed, Affected: affected})
	return UpdateResult{Todo: stored, Affected: affected}, nil
}

// Delete removes the todo with id. Deleting an unknown id succeeds with zero
// rows affected.
func (s *TodoService) Delete(ctx context.Context, id int64) (int64, error) {
	affected, err := s.repo.Delete(ctx, id)
	if err != nil {
		return 0, err
	}
	if affected > 0 {
		s.writes.Add(1)
		s.logger.Info("todo deleted", "id", id)
		s.publish(events.TodoEvent{Kind: events.KindDeleted, TodoID: id, Affected: affected})
	}
	return affected, nil
}

func (s *TodoService) publish(ev events.TodoEvent) {
	if s.publisher == nil {
		return
	}
	ev.At = s.now()
	if err := s.publisher.Publish(ev); err != nil {
		s.logger.Warn("publish event", "kind", ev.Kind, "id", ev.TodoID, "err", err)
	}
}
