// Package history keeps a bounded log of feedings.
package history

import (
	"context"
	"sort"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// MaxRecords is how many records a store retains. Older ones are dropped.
const MaxRecords = 100

// DateTimeFormat is the layout of Record.DateTime.
const DateTimeFormat = "2006-01-02 15:04:05"

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

type Record struct {
	Dog      string `json:"dog"`
	Time     string `json:"time"`
	Voice    string `json:"voice"`
	Amount   int    `json:"amount"`
	Status   Status `json:"status"`
	DateTime string `json:"datetime"`
}

// NewRecord stamps a record with now, in local time.
func NewRecord(dog, timeOfDay, voice string, amount int, status Status, now time.Time) Record {
	return Record{
		Dog:      dog,
		Time:     timeOfDay,
		Voice:    voice,
		Amount:   amount,
		Status:   status,
		DateTime: now.Local().Format(DateTimeFormat),
	}
}

// Store persists records. List returns them newest first.
type Store interface {
	Append(ctx context.Context, r Record) error
	List(ctx context.Context) ([]Record, error)
	Close() error
}

const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Open returns the store for backend at path.
func Open(backend, path string) (Store, error) {
	switch backend {
	case BackendJSON, "":
		return NewJSONFile(path), nil
	case BackendSQLite:
		return NewSQLite(path)
	default:
		return nil, pkgerrors.Errorf("unknown history backend %q", backend)
	}
}

// newestFirst sorts in place by DateTime, descending. The layout sorts
// lexically. Records with equal timestamps keep their reverse insertion
// order.
func newestFirst(records []Record) {
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].DateTime > records[j].DateTime
	})
}
