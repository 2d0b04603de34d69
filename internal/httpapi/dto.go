package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"todo-miniapp/internal/model"
)

// Timestamp accepts ISO-8601 strings with or without a zone, the SQLite
// "YYYY-MM-DD HH:MM:SS" form, or null.
type Timestamp struct{ t time.Time }

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		ts.t = time.Time{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp must be an ISO-8601 string")
	}
	t, err := model.ParseTimestamp(raw)
	if err != nil {
		return fmt.Errorf("timestamp must be ISO-8601, got %q", raw)
	}
	ts.t = t
	return nil
}

// Time returns the zero time when the field was null or absent.
func (ts *Timestamp) Time() time.Time {
	if ts == nil {
		return time.Time{}
	}
	return ts.t
}

// TodoRequest is the body of POST /todos and PUT /todos/{id}. id and
// completed_at are accepted for shape compatibility and ignored.
type TodoRequest struct {
	ID          *int64     `json:"id"`
	Title       string     `json:"title"`
	Description *string    `json:"description"`
	Completed   bool       `json:"completed"`
	CreatedAt   *Timestamp `json:"created_at"`
	CompletedAt *Timestamp `json:"completed_at"`
}

func (r TodoRequest) toModel() model.Todo {
	return model.Todo{
		Title:       r.Title,
		Description: r.Description,
		Completed:   r.Completed,
		CreatedAt:   r.CreatedAt.Time(),
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// echoResponse is the body of a PUT that matched no row. It repeats the
// payload and leaves created_at null when the client sent none.
type echoResponse struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description *string    `json:"description"`
	Completed   bool       `json:"completed"`
	CreatedAt   *time.Time `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

func newEchoResponse(todo model.Todo) echoResponse {
	resp := echoResponse{
		ID:          todo.ID,
		Title:       todo.Title,
		Description: todo.Description,
		Completed:   todo.Completed,
		CompletedAt: todo.CompletedAt,
	}
	if !todo.CreatedAt.IsZero() {
		createdAt := todo.CreatedAt
		resp.CreatedAt = &createdAt
	}
	return resp
}
