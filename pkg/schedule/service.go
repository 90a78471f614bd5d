package schedule

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/feedr/pkg/events"
	"github.com/charlie0129/feedr/pkg/history"
)

type job struct {
	entry Entry
	sched *Scheduler
}

// EntryStatus is an entry together with its next run.
type EntryStatus struct {
	Entry
	NextRun time.Time `json:"nextRun"`
}

// Service owns the schedule list: it persists it, keeps one Scheduler per
// entry and makes sure only one feeding runs at a time.
type Service struct {
	path         string
	store        history.Store
	runner       Runner
	hub          *events.EventHub
	cycleTimeout time.Duration
	now          func() time.Time

	// ctx bounds scheduled feedings; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs []*job
	busy atomic.Bool
}

func NewService(path string, store history.Store, runner Runner, hub *events.EventHub, cycleTimeout time.Duration) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		path:         path,
		store:        store,
		runner:       runner,
		hub:          hub,
		cycleTimeout: cycleTimeout,
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Load restores persisted entries. Entries that no longer validate are
// dropped with a warning.
func (s *Service) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to read schedules from %s", s.path)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return pkgerrors.Wrapf(err, "failed to parse schedules in %s", s.path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		if err := e.Validate(); err != nil {
			logrus.WithError(err).WithField("schedule", e.Key()).Warn("dropping invalid saved schedule")
			continue
		}
		if s.find(e.Key()) >= 0 {
			logrus.WithField("schedule", e.Key()).Warn("dropping duplicate saved schedule")
			continue
		}
		j, err := s.register(e)
		if err != nil {
			return err
		}
		s.jobs = append(s.jobs, j)
	}

	logrus.WithField("count", len(s.jobs)).Info("schedules restored")
	return nil
}

// Add validates, registers and persists e, then records it in history.
func (s *Service) Add(ctx context.Context, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.find(e.Key()) >= 0 {
		s.mu.Unlock()
		return pkgerrors.Wrapf(ErrDuplicate, "%s", e.Key())
	}
	j, err := s.register(e)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.jobs = append(s.jobs, j)
	if err := s.persist(); err != nil {
		j.sched.Stop()
		s.jobs = s.jobs[:len(s.jobs)-1]
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"dog":    e.Dog,
		"time":   e.Time,
		"amount": e.Amount,
	}).Info("schedule added")

	s.hub.Publish(events.ScheduleChanged, events.ScheduleChangedEvent{Action: "add", Dog: e.Dog, Time: e.Time})

	rec := history.NewRecord(e.Dog, e.Time, e.Voice, e.Amount, history.StatusScheduled, s.now())
	if err := s.store.Append(ctx, rec); err != nil {
		logrus.WithError(err).Warn("failed to record schedule in history")
	}
	return nil
}

// Delete cancels and forgets the entry identified by k.
func (s *Service) Delete(k Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.find(k)
	if i < 0 {
		return pkgerrors.Wrapf(ErrNotFound, "%s", k)
	}
	j := s.jobs[i]
	s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
	if err := s.persist(); err != nil {
		s.jobs = append(s.jobs[:i], append([]*job{j}, s.jobs[i:]...)...)
		return err
	}
	j.sched.Stop()

	logrus.WithField("schedule", k).Info("schedule deleted")
	s.hub.Publish(events.ScheduleChanged, events.ScheduleChangedEvent{Action: "delete", Dog: k.Dog, Time: k.Time})
	return nil
}

// List returns the entries in the order they were added.
func (s *Service) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]Entry, 0, len(s.jobs))
	for _, j := range s.jobs {
		entries = append(entries, j.entry)
	}
	return entries
}

// Status returns the entries with their next run times.
func (s *Service) Status() []EntryStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := make([]EntryStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		next, _ := j.sched.Status()
		st = append(st, EntryStatus{Entry: j.entry, NextRun: next})
	}
	return st
}

// Skip skips the next run of k.
func (s *Service) Skip(k Key) error {
	j, err := s.lookup(k)
	if err != nil {
		return err
	}
	return j.sched.Skip()
}

// Postpone delays the next run of k by d.
func (s *Service) Postpone(k Key, d time.Duration) error {
	j, err := s.lookup(k)
	if err != nil {
		return err
	}
	return j.sched.Postpone(d)
}

// FeedNow runs a feeding immediately. The entry's time is set to the
// current time of day.
func (s *Service) FeedNow(ctx context.Context, e Entry) error {
	e.Time = s.now().Format("15:04")
	if err := e.Validate(); err != nil {
		return err
	}
	return s.runEntry(ctx, e)
}

// Busy reports whether a feeding is in progress.
func (s *Service) Busy() bool {
	return s.busy.Load()
}

// Close stops all schedulers and cancels a scheduled feeding in progress.
// Entries stay persisted. It is safe to call more than once.
func (s *Service) Close() {
	s.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		j.sched.Stop()
	}
}

func (s *Service) runEntry(ctx context.Context, e Entry) error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.busy.Store(false)

	if s.cycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cycleTimeout)
		defer cancel()
	}

	logger := logrus.WithFields(logrus.Fields{
		"dog":    e.Dog,
		"time":   e.Time,
		"amount": e.Amount,
	})
	logger.Info("feeding started")

	err := s.runner.Run(ctx, e)
	status := history.StatusCompleted
	result := events.FeedingResultEvent{Dog: e.Dog, Time: e.Time, Amount: e.Amount, Ts: s.now().Unix()}
	if err != nil {
		status = history.StatusFailed
		result.Error = err.Error()
		logger.WithError(err).Error("feeding failed")
	} else {
		logger.Info("feeding completed")
	}
	result.Status = string(status)

	// The cycle's context may be done by now.
	if herr := s.store.Append(context.Background(), history.NewRecord(e.Dog, e.Time, e.Voice, e.Amount, status, s.now())); herr != nil {
		logger.WithError(herr).Warn("failed to record feeding in history")
	}
	s.hub.Publish(events.FeedingResult, result)
	return err
}

// register creates and starts the scheduler for e. s.mu must be held.
func (s *Service) register(e Entry) (*job, error) {
	expr, err := e.CronExpr()
	if err != nil {
		return nil, err
	}

	key := e.Key()
	sched := NewScheduler(key.String(), func() error {
		return s.runEntry(s.ctx, e)
	}, func() error {
		if s.busy.Load() {
			return ErrBusy
		}
		return nil
	})
	sched.OnUpcoming = func(at time.Time) {
		s.hub.Publish(events.FeedingUpcoming, events.FeedingUpcomingEvent{
			Dog:    e.Dog,
			Time:   e.Time,
			Amount: e.Amount,
			At:     at.Unix(),
		})
	}
	sched.OnError = func(err error) {
		logrus.WithError(err).WithField("schedule", key).Warn("scheduled feeding did not run cleanly")
	}

	if err := sched.Schedule(expr); err != nil {
		return nil, err
	}
	sched.Start()
	return &job{entry: e, sched: sched}, nil
}

func (s *Service) lookup(k Key) (*job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.find(k)
	if i < 0 {
		return nil, pkgerrors.Wrapf(ErrNotFound, "%s", k)
	}
	return s.jobs[i], nil
}

// find returns the index of k, or -1. s.mu must be held.
func (s *Service) find(k Key) int {
	for i, j := range s.jobs {
		if j.entry.Key() == k {
			return i
		}
	}
	return -1
}

// persist writes the entry list. s.mu must be held.
func (s *Service) persist() error {
	entries := make([]Entry, 0, len(s.jobs))
	for _, j := range s.jobs {
		entries = append(entries, j.entry)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return pkgerrors.Wrapf(err, "failed to encode schedules")
	}
	if err := os.WriteFile(s.path, buf.Bytes(), 0o644); err != nil {
		return pkgerrors.Wrapf(err, "failed to save schedules to %s", s.path)
	}
	return nil
}
