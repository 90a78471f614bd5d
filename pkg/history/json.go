package history

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// JSONFile stores records as an indented JSON array, oldest first.
type JSONFile struct {
	mu   sync.Mutex
	path string
}

func NewJSONFile(path string) *JSONFile {
	return &JSONFile{path: path}
}

func (f *JSONFile) load() ([]Record, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrapf(err, "failed to read history file %s", f.path)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		// A corrupt history is not worth failing a feeding over.
		logrus.WithError(err).WithField("path", f.path).Warn("history file is corrupt, starting over")
		return nil, nil
	}
	return records, nil
}

func (f *JSONFile) Append(_ context.Context, r Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, err := f.load()
	if err != nil {
		return err
	}
	records = append(records, r)
	if len(records) > MaxRecords {
		records = records[len(records)-MaxRecords:]
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return pkgerrors.Wrapf(err, "failed to encode history")
	}

	if err := os.WriteFile(f.path, buf.Bytes(), 0o644); err != nil {
		return pkgerrors.Wrapf(err, "failed to write history file %s", f.path)
	}
	return nil
}

func (f *JSONFile) List(_ context.Context) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, err := f.load()
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []Record{}
	}
	newestFirst(records)
	return records, nil
}

func (f *JSONFile) Close() error {
	return nil
}
