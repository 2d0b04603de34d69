package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"todo-miniapp/internal/events"
	"todo-miniapp/internal/logging"
	"todo-miniapp/internal/model"
	"todo-miniapp/internal/repository"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.TodoEvent
}

func (p *recordingPublisher) Publish(ev events.TodoEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) kinds() []events.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Kind, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Kind)
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	db    *gorm.DB
	repo  *repository.TodoRepository
	svc   *TodoService
	pub   *recordingPublisher
	clock *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := repository.NewDB(filepath.Join(t.TempDir(), "todos.db"), repository.Options{BusyTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	repo := repository.NewTodoRepository(db)
	pub := &recordingPublisher{}
	clock := &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	svc := NewTodoService(repo, pub, logging.Discard())
	svc.now = clock.Now
	return &fixture{db: db, repo: repo, svc: svc, pub: pub, clock: clock}
}

func strPtr(s string) *string { return &s }

func TestCreateDefaults(t *testing.T) {
	f := newFixture(t)

	got, err := f.svc.Create(context.Background(), model.Todo{Title: "Buy milk"})
	require.NoError(t, err)

	assert.NotZero(t, got.ID)
	assert.Equal(t, "Buy milk", got.Title)
	assert.False(t, got.Completed)
	assert.Nil(t, got.Description)
	assert.Nil(t, got.CompletedAt)
	assert.True(t, f.clock.Now().Equal(got.CreatedAt))
	assert.Equal(t, []events.Kind{events.KindCreated}, f.pub.kinds())
}

func TestCreateAssignsUniqueIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seen := map[int64]bool{}
	for i := 0; i < 5; i++ {
		got, err := f.svc.Create(ctx, model.Todo{Title: "task"})
		require.NoError(t, err)
		assert.False(t, seen[got.ID], "duplicate id %d", got.ID)
		assert.False(t, got.CreatedAt.IsZero())
		seen[got.ID] = true
	}
}

func TestCreateKeepsProvidedCreatedAt(t *testing.T) {
	f := newFixture(t)
	at := time.Date(2023, 12, 31, 23, 59, 59, 0, time.UTC)

	got, err := f.svc.Create(context.Background(), model.Todo{Title: "party", CreatedAt: at})
	require.NoError(t, err)
	assert.True(t, at.Equal(got.CreatedAt))
}

func TestCreateCompletedLeavesCompletedAtEmpty(t *testing.T) {
	f := newFixture(t)
	stamp := f.clock.Now().Add(-time.Hour)

	got, err := f.svc.Create(context.Background(), model.Todo{Title: "done already", Completed: true, CompletedAt: &stamp})
	require.NoError(t, err)
	assert.True(t, got.Completed)
	assert.Nil(t, got.CompletedAt, "completed_at is only set by an update")
}

func TestCreateRejectsEmptyTitle(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), model.Todo{Title: "  "})
	assert.ErrorIs(t, err, model.ErrTitleRequired)

	todos, err := f.svc.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, todos)
	assert.Empty(t, f.pub.kinds())
}

func TestListNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, title := range []string{"oldest", "middle", "newest"} {
		_, err := f.svc.Create(ctx, model.Todo{Title: title})
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}

	todos, err := f.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, todos, 3)
	assert.Equal(t, []string{"newest", "middle", "oldest"}, []string{todos[0].Title, todos[1].Title, todos[2].Title})
}

func TestListEmptyIsNotNil(t *testing.T) {
	f := newFixture(t)
	todos, err := f.svc.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, todos)
	assert.Empty(t, todos)
}

func TestListSkipsCorruptRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, model.Todo{Title: "good one"})
	require.NoError(t, err)
	require.NoError(t, f.db.Exec(`INSERT INTO todos (title, created_at) VALUES ('bad created', 'garbage')`).Error)
	require.NoError(t, f.db.Exec(`INSERT INTO todos (title, created_at, completed, completed_at) VALUES ('bad completed', '2024-01-01 00:00:00', 1, '??')`).Error)
	_, err = f.svc.Create(ctx, model.Todo{Title: "good two"})
	require.NoError(t, err)

	todos, err := f.svc.List(ctx)
	require.NoError(t, err)

	titles := make([]string, 0, len(todos))
	for _, todo := range todos {
		titles = append(titles, todo.Title)
	}
	assert.ElementsMatch(t, []string{"good one", "good two"}, titles)
}

func TestListConcurrentCallers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Create(ctx, model.Todo{Title: "shared"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([][]model.Todo, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.List(ctx)
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		require.Len(t, results[i], 1)
		assert.Equal(t, "shared", results[i][0].Title)
	}

	// callers get independent slices
	results[0][0].Title = "mutated"
	assert.Equal(t, "shared", results[1][0].Title)
}

func TestUpdateCompletionTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, model.Todo{Title: "walk the dog"})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	firstCompletion := f.clock.Now()
	res, err := f.svc.Update(ctx, created.ID, model.Todo{Title: "walk the dog", Completed: true})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Affected)
	assert.True(t, res.Todo.Completed)
	require.NotNil(t, res.Todo.CompletedAt)
	assert.True(t, firstCompletion.Equal(*res.Todo.CompletedAt))
	assert.True(t, created.CreatedAt.Equal(res.Todo.CreatedAt), "created_at must not change")

	f.clock.Advance(time.Minute)
	res, err = f.svc.Update(ctx, created.ID, model.Todo{Title: "walk the dog twice", Completed: true})
	require.NoError(t, err)
	require.NotNil(t, res.Todo.CompletedAt)
	assert.True(t, firstCompletion.Equal(*res.Todo.CompletedAt), "true -> true keeps completed_at")
	assert.Equal(t, "walk the dog twice", res.Todo.Title)
}

func TestUpdateUncompleteKeepsCompletedAt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, model.Todo{Title: "toggle"})
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, created.ID, model.Todo{Title: "toggle", Completed: true})
	require.NoError(t, err)

	res, err := f.svc.Update(ctx, created.ID, model.Todo{Title: "toggle", Completed: false})
	require.NoError(t, err)
	assert.False(t, res.Todo.Completed)
	assert.NotNil(t, res.Todo.CompletedAt, "completed_at is never cleared")
}

func TestUpdateRecompletionStampsNewTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, model.Todo{Title: "water plants"})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	first := f.clock.Now()
	_, err = f.svc.Update(ctx, created.ID, model.Todo{Title: "water plants", Completed: true})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	res, err := f.svc.Update(ctx, created.ID, model.Todo{Title: "water plants"})
	require.NoError(t, err)
	require.NotNil(t, res.Todo.CompletedAt)
	assert.True(t, first.Equal(*res.Todo.CompletedAt))

	f.clock.Advance(time.Minute)
	again := f.clock.Now()
	res, err = f.svc.Update(ctx, created.ID, model.Todo{Title: "water plants", Completed: true})
	require.NoError(t, err)
	require.NotNil(t, res.Todo.CompletedAt)
	assert.True(t, again.Equal(*res.Todo.CompletedAt), "each false -> true transition stamps the clock")
	assert.True(t, created.CreatedAt.Equal(res.Todo.CreatedAt))
}

func TestUpdateOverwritesDescription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, model.Todo{Title: "note", Description: strPtr("old")})
	require.NoError(t, err)

	res, err := f.svc.Update(ctx, created.ID, model.Todo{Title: "note"})
	require.NoError(t, err)
	assert.Nil(t, res.Todo.Description)
}

func TestUpdateMissingIDEchoesPayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Update(ctx, 404, model.Todo{Title: "nobody home", Completed: true})
	require.NoError(t, err)
	assert.Zero(t, res.Affected)
	assert.EqualValues(t, 404, res.Todo.ID)
	assert.Equal(t, "nobody home", res.Todo.Title)

	todos, err := f.svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, todos, "update must not create a row")
	assert.Empty(t, f.pub.kinds())
}

func TestUpdateRejectsEmptyTitle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.Create(ctx, model.Todo{Title: "keep"})
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, created.ID, model.Todo{Title: ""})
	assert.ErrorIs(t, err, model.ErrTitleRequired)

	stored, err := f.repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "keep", stored.Title)
}

func TestDeleteIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.Create(ctx, model.Todo{Title: "bye"})
	require.NoError(t, err)

	n, err := f.svc.Delete(ctx, created.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = f.svc.Delete(ctx, created.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = f.svc.Delete(ctx, 12345)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Equal(t, []events.Kind{events.KindCreated, events.KindDeleted}, f.pub.kinds())
}

func TestRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := model.Todo{Title: "Read book", Description: strPtr("chapter 3"), Completed: false}
	created, err := f.svc.Create(ctx, in)
	require.NoError(t, err)

	todos, err := f.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, todos, 1)

	got := todos[0]
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, in.Title, got.Title)
	assert.Equal(t, in.Description, got.Description)
	assert.Equal(t, in.Completed, got.Completed)
	assert.Nil(t, got.CompletedAt)
	assert.True(t, created.CreatedAt.Equal(got.CreatedAt))
}

func TestServiceWithoutPublisher(t *testing.T) {
	f := newFixture(t)
	svc := NewTodoService(f.repo, nil, logging.Discard())

	_, err := svc.Create(context.Background(), model.Todo{Title: "quiet"})
	assert.NoError(t, err)
}

func TestListDoesNotShareQueryStartedBeforeWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	go f.svc.sf.Do(f.svc.listKey(), func() (interface{}, error) {
		close(started)
		<-release
		return []model.Todo{}, nil
	})
	<-started

	_, err := f.svc.Create(ctx, model.Todo{Title: "fresh"})
	require.NoError(t, err)

	done := make(chan []model.Todo, 1)
	go func() {
		todos, err := f.svc.List(ctx)
		assert.NoError(t, err)
		done <- todos
	}()

	select {
	case todos := <-done:
		require.Len(t, todos, 1)
		assert.Equal(t, "fresh", todos[0].Title)
	case <-time.After(2 * time.Second):
		t.Fatal("list joined a query that started before the write")
	}
}
