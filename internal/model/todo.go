package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrTitleRequired = errors.New("title is required")

// Todo is a single item of the todo list.
type Todo struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description *string    `json:"description"`
	Completed   bool       `json:"completed"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// Validate checks the fields a client must supply.
func (t *Todo) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return ErrTitleRequired
	}
	return nil
}

// StorageLayout is how timestamps are written to the todos table. Fixed width
// UTC values sort lexicographically in time order.
const StorageLayout = "2006-01-02 15:04:05.000000"

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999Z07:00",
}

// FormatTimestamp renders t in the storage layout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(StorageLayout)
}

// ParseTimestamp accepts the SQLite CURRENT_TIMESTAMP form, the storage layout
// and ISO-8601 with or without a zone. Zoneless values are UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}
