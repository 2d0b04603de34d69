package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"todo-miniapp/internal/model"
)

var ErrNotFound = errors.New("todo not found")

// Timestamps are cast to TEXT so the driver hands back exactly what is stored
// and a corrupted value can be reported per row.
const selectTodos = `
SELECT id, title, description, completed,
	CAST(created_at AS TEXT) AS created_at,
	CAST(completed_at AS TEXT) AS completed_at
FROM todos`

const updateTodo = `
UPDATE todos
SET title = ?, description = ?, completed = ?,
	completed_at = CASE WHEN COALESCE(completed, 0) = 0 AND ? = 1 THEN ? ELSE completed_at END
WHERE id = ?`

// Row is a todos row as stored, before timestamp parsing.
type Row struct {
	ID          int64          `gorm:"column:id;primaryKey"`
	Title       string         `gorm:"column:title"`
	Description sql.NullString `gorm:"column:description"`
	Completed   bool           `gorm:"column:completed"`
	Created     sql.NullString `gorm:"column:created_at"`
	CompletedAt sql.NullString `gorm:"column:completed_at"`
}

func (Row) TableName() string { return "todos" }

// Todo converts the row, failing on missing or unparseable timestamps.
func (r Row) Todo() (model.Todo, error) {
	todo := model.Todo{
		ID:        r.ID,
		Title:     r.Title,
		Completed: r.Completed,
	}
	if r.Description.Valid {
		desc := r.Description.String
		todo.Description = &desc
	}
	if !r.Created.Valid {
		return model.Todo{}, fmt.Errorf("todo %d: created_at is null", r.ID)
	}
	created, err := model.ParseTimestamp(r.Created.String)
	if err != nil {
		return model.Todo{}, fmt.Errorf("todo %d: created_at: %w", r.ID, err)
	}
	todo.CreatedAt = created
	if r.CompletedAt.Valid {
		completedAt, err := model.ParseTimestamp(r.CompletedAt.String)
		if err != nil {
			return model.Todo{}, fmt.Errorf("todo %d: completed_at: %w", r.ID, err)
		}
		todo.CompletedAt = &completedAt
	}
	return todo, nil
}

// TodoRepository runs single statements against the todos table.
type TodoRepository struct {
	db *gorm.DB
}

func NewTodoRepository(db *gorm.DB) *TodoRepository {
	return &TodoRepository{db: db}
}

// List returns raw rows, newest created_at first.
func (r *TodoRepository) List(ctx context.Context) ([]Row, error) {
	var rows []Row
	if err := r.db.WithContext(ctx).
		Raw(selectTodos + " ORDER BY todos.created_at DESC, todos.id DESC").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	return rows, nil
}

func (r *TodoRepository) FindByID(ctx context.Context, id int64) (model.Todo, error) {
	var row Row
	res := r.db.WithContext(ctx).Raw(selectTodos+" WHERE id = ?", id).Scan(&row)
	if res.Error != nil {
		return model.Todo{}, fmt.Errorf("find todo: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return model.Todo{}, ErrNotFound
	}
	return row.Todo()
}

// Create inserts todo and stores the assigned id back into it.
// CreatedAt must already be resolved by the caller.
func (r *TodoRepository) Create(ctx context.Context, todo *model.Todo) error {
	row := Row{
		Title:     todo.Title,
		Completed: todo.Completed,
		Created:   sql.NullString{String: model.FormatTimestamp(todo.CreatedAt), Valid: true},
	}
	if todo.Description != nil {
		row.Description = sql.NullString{String: *todo.Description, Valid: true}
	}
	if todo.CompletedAt != nil {
		row.CompletedAt = sql.NullString{String: model.FormatTimestamp(*todo.CompletedAt), Valid: true}
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("create todo: %w", err)
	}
	todo.ID = row.ID
	return nil
}

// Update overwrites title, description and completed for id. completed_at is
// set to now only when the stored row goes from not completed to completed.
// It reports the number of rows affected.
func (r *TodoRepository) Update(ctx context.Context, id int64, todo model.Todo, now time.Time) (int64, error) {
	var desc sql.NullString
	if todo.Description != nil {
		desc = sql.NullString{String: *todo.Description, Valid: true}
	}
	completed := boolToInt(todo.Completed)
	res := r.db.WithContext(ctx).Exec(updateTodo,
		todo.Title, desc, completed,
		completed, model.FormatTimestamp(now),
		id,
	)
	if res.Error != nil {
		return 0, fmt.Errorf("update todo: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Delete removes the row for id and reports the number of rows affected.
func (r *TodoRepository) Delete(ctx context.Context, id int64) (int64, error) {
	res := r.db.WithContext(ctx).Delete(&Row{}, id)
	if res.Error != nil {
		return 0, fmt.Errorf("delete todo: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *TodoRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&Row{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count todos: %w", err)
	}
	return n, nil
}

// Checkpoint folds the write-ahead log back into the main database file.
func (r *TodoRepository) Checkpoint(ctx context.Context) error {
	if err := r.db.WithContext(ctx).Exec("PRAGMA wal_checkpoint(TRUNCATE)").Error; err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
