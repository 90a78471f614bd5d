package schedule

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestCronParse(t *testing.T) {
	schedule, err := cronParser().Parse("30 7 * * *")
	if err != nil {
		t.Fatalf("failed to parse cron expression: %v", err)
	}

	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.Local)
	next1 := schedule.Next(now)
	next2 := schedule.Next(next1)

	if want := time.Date(2024, 5, 2, 7, 30, 0, 0, time.Local); !next1.Equal(want) {
		t.Fatalf("expected next run %v, got %v", want, next1)
	}
	if next2.Sub(next1) != 24*time.Hour {
		t.Fatalf("expected daily runs, got next1=%v next2=%v", next1, next2)
	}
}

func TestSchedulerScheduleStatus(t *testing.T) {
	s := NewScheduler("test", func() error { return nil }, nil)

	if err := s.Schedule("@every 1m"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	next, running := s.Status()
	if running {
		t.Fatalf("scheduler should not be running")
	}
	if next.IsZero() {
		t.Fatalf("next run should be set after scheduling")
	}

	if err := s.Schedule("61 * * * *"); err == nil {
		t.Fatalf("expected an invalid expression to be rejected")
	}
}

func TestSchedulerSkip(t *testing.T) {
	s := NewScheduler("test", func() error { return nil }, nil)
	if err := s.Schedule("@every 10m"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	orig, _ := s.Status()
	if orig.IsZero() {
		t.Fatalf("expected next run after scheduling")
	}

	s.Start()
	defer s.Stop()

	if err := s.Skip(); err != nil {
		t.Fatalf("Skip returned error: %v", err)
	}
	skipped, _ := s.Status()
	if !skipped.After(orig) {
		t.Fatalf("expected skip to move schedule forward, got %v <= %v", skipped, orig)
	}
}

func TestSchedulerPostpone(t *testing.T) {
	s := NewScheduler("test", func() error { return nil }, nil)
	if err := s.Postpone(time.Minute); err == nil {
		t.Fatalf("expected postpone without a schedule to fail")
	}

	if err := s.Schedule("@every 10m"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}
	s.Start()
	defer s.Stop()

	orig, _ := s.Status()
	if err := s.Postpone(time.Minute); err != nil {
		t.Fatalf("Postpone returned error: %v", err)
	}
	postponed, _ := s.Status()
	if d := postponed.Sub(orig.Truncate(time.Second)); d != time.Minute {
		t.Fatalf("expected the run to move by 1m, moved by %v", d)
	}

	if err := s.Postpone(time.Hour); err == nil {
		t.Fatalf("expected postponing past the following run to fail")
	}
	if err := s.Postpone(-time.Second); err == nil {
		t.Fatalf("expected a negative postpone to fail")
	}
}

func TestSchedulerRunCycle(t *testing.T) {
	notifyCh := make(chan struct{}, 1)
	taskCh := make(chan struct{}, 1)
	errCh := make(chan error, 1)
	var preChecks int32

	task := func() error {
		taskCh <- struct{}{}
		return nil
	}

	preCheck := func() error {
		atomic.AddInt32(&preChecks, 1)
		return nil
	}

	s := NewScheduler("test", task, preCheck)
	s.OnUpcoming = func(time.Time) {
		notifyCh <- struct{}{}
	}
	s.OnError = func(err error) {
		errCh <- err
	}
	if err := s.Schedule("@every 1s"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	s.mu.Lock()
	s.nextRun = time.Now().Add(50 * time.Millisecond)
	s.mu.Unlock()

	s.Start()
	defer s.Stop()

	select {
	case <-notifyCh:
	case <-time.After(time.Second):
		t.Fatalf("did not receive before-run notification in time")
	}

	select {
	case <-taskCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("task did not execute in time")
	}

	if atomic.LoadInt32(&preChecks) == 0 {
		t.Fatalf("precheck should have been executed")
	}

	select {
	case err := <-errCh:
		t.Fatalf("unexpected error callback: %v", err)
	default:
	}
}

func TestSchedulerPreCheckFailure(t *testing.T) {
	taskCh := make(chan struct{}, 1)
	errCh := make(chan error, 2)

	task := func() error {
		taskCh <- struct{}{}
		return nil
	}

	preCheck := func() error {
		return errors.New("boom")
	}

	s := NewScheduler("test", task, preCheck)
	s.OnError = func(err error) {
		errCh <- err
	}
	s.PreCheckMaxTimes = 2
	s.PreCheckInterval = 10 * time.Millisecond
	if err := s.Schedule("@every 1h"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	forcedNext := time.Now().Add(50 * time.Millisecond)

	s.mu.Lock()
	s.nextRun = forcedNext
	s.mu.Unlock()

	s.Start()
	defer s.Stop()

	select {
	case <-errCh:
	case <-time.After(time.Second):
		t.Fatalf("expected error callback from failed precheck")
	}

	deadline := time.Now().Add(time.Second)
	for {
		next, _ := s.Status()
		if next.After(forcedNext) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected the run to be given up on after the retries")
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-taskCh:
		t.Fatalf("task should not execute when precheck fails")
	default:
	}
}

func TestSchedulerPostponeKeepsLeadTime(t *testing.T) {
	type notice struct {
		runAt, at time.Time
	}
	notifyCh := make(chan notice, 2)

	s := NewScheduler("test", func() error { return nil }, nil)
	s.LeadTime = 1500 * time.Millisecond
	s.OnUpcoming = func(runAt time.Time) {
		notifyCh <- notice{runAt: runAt, at: time.Now()}
	}
	if err := s.Schedule("@every 1m"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	s.mu.Lock()
	s.nextRun = time.Now().Add(2 * time.Second)
	s.mu.Unlock()

	s.Start()
	defer s.Stop()

	if err := s.Postpone(time.Second); err != nil {
		t.Fatalf("Postpone returned error: %v", err)
	}
	postponed, _ := s.Status()

	select {
	case n := <-notifyCh:
		if !n.runAt.Equal(postponed) {
			t.Errorf("expected notice for %v, got %v", postponed, n.runAt)
		}
		if ahead := n.runAt.Sub(n.at); ahead < time.Second {
			t.Errorf("expected the notice about %v before the run, got %v", s.LeadTime, ahead)
		}
	case <-time.After(4 * time.Second):
		t.Fatalf("did not receive before-run notification in time")
	}
}
