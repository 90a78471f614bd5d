package schedule

import (
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	defaultLeadTime         = time.Minute * 5 // how long before a run OnUpcoming fires
	defaultPreCheckMaxTimes = 30
	defaultPreCheckInterval = time.Second * 10
)

// TaskFunc represents a runnable task.
type TaskFunc func() error

// Scheduler fires Task on a cron schedule. Before each run it announces
// the run through OnUpcoming and, if PreCheck fails, retries the check a
// bounded number of times before giving up on that run.
type Scheduler struct {
	Name       string
	OnUpcoming func(runAt time.Time) // called LeadTime before running the task
	OnError    func(err error)       // called on precheck or task error
	Task       TaskFunc
	PreCheck   TaskFunc

	LeadTime         time.Duration
	PreCheckMaxTimes int
	PreCheckInterval time.Duration

	parser cron.Parser

	schedule cron.Schedule
	nextRun  time.Time

	mu      sync.Mutex
	running bool

	controlCh chan controlMsg
	stopCh    chan struct{}
}

// internal control kinds (not user visible events)
type controlKind int

const (
	ctrlRecalculate controlKind = iota // timer needs recalculation due to schedule change
	ctrlPostpone                       // next run postponed
	ctrlSkip                           // next run skipped
)

type controlMsg struct {
	kind controlKind
	data any
}

// cronParser accepts standard five-field expressions, an optional seconds
// field and descriptors such as "@every 1m".
func cronParser() cron.Parser {
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

func NewScheduler(name string, task, preCheck TaskFunc) *Scheduler {
	if task == nil {
		panic("task function cannot be nil")
	}

	return &Scheduler{
		Name:             name,
		Task:             task,
		PreCheck:         preCheck,
		LeadTime:         defaultLeadTime,
		PreCheckMaxTimes: defaultPreCheckMaxTimes,
		PreCheckInterval: defaultPreCheckInterval,
		parser:           cronParser(),
		controlCh:        make(chan controlMsg, 4),
		stopCh:           make(chan struct{}),
	}
}

func (s *Scheduler) Stop() {
	select {
	case <-s.stopCh: // already closed
	default:
		close(s.stopCh)
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	go s.runScheduled()
}

func (s *Scheduler) Schedule(cronExpr string) error {
	sh, err := s.parser.Parse(cronExpr)
	if err != nil {
		return pkgerrors.Wrapf(err, "invalid cron expression %q", cronExpr)
	}

	s.mu.Lock()
	running := s.running
	if !running {
		s.schedule = sh
		s.nextRun = sh.Next(time.Now())
	}
	s.mu.Unlock()

	if running {
		s.trySendControl(ctrlRecalculate, sh)
	}
	return nil
}

// Postpone postpones the next scheduled run by d. The postponed run must
// still happen before the one after it.
func (s *Scheduler) Postpone(d time.Duration) error {
	if d <= 0 {
		return pkgerrors.New("postpone duration must be positive")
	}

	s.mu.Lock()
	if s.schedule == nil || s.nextRun.IsZero() {
		s.mu.Unlock()
		return pkgerrors.New("no active schedule to postpone")
	}
	orig := s.nextRun
	next := s.schedule.Next(orig).Truncate(time.Second)
	running := s.running
	s.mu.Unlock()

	if !running {
		return pkgerrors.New("no active schedule to postpone")
	}

	pp := orig.Add(d).Truncate(time.Second)
	if pp.Compare(next) >= 0 {
		return pkgerrors.New("postpone duration too long")
	}

	s.mu.Lock()
	s.nextRun = pp
	s.mu.Unlock()

	s.trySendControl(ctrlPostpone, pp)
	return nil
}

// Skip skips the next scheduled run.
func (s *Scheduler) Skip() error {
	s.mu.Lock()
	if s.schedule == nil || s.nextRun.IsZero() {
		s.mu.Unlock()
		return pkgerrors.New("no active schedule to skip")
	}
	s.nextRun = s.schedule.Next(s.nextRun)
	running := s.running
	s.mu.Unlock()

	if running {
		s.trySendControl(ctrlSkip, nil)
	}
	return nil
}

func (s *Scheduler) Status() (nextRun time.Time, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nextRun = s.nextRun
	running = s.running
	return
}

func (s *Scheduler) runScheduled() {
	logger := logrus.WithField("schedule", s.Name)

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		logger.Debug("scheduler stopped")
	}()

	logger.Debug("scheduler started")

	for {
		leading := true

		attempts := 0
		var precheckErr error

		schedule, nextRun := s.snapshot()
		var timer *time.Timer
		if schedule == nil || nextRun.IsZero() {
			timer = time.NewTimer(time.Hour * 10000)
		} else {
			wait := time.Until(nextRun) - s.LeadTime
			if wait < 0 {
				wait = 0
			}
			timer = time.NewTimer(wait)
		}

		for {
			select {
			case <-timer.C:
				if schedule == nil || nextRun.IsZero() {
					break
				}

				if leading {
					logger.Debugf("upcoming run at %s", nextRun.Format(time.DateTime))
					leading = false
					runWait := time.Until(nextRun)
					if runWait < 0 {
						runWait = 0
					}
					timer.Reset(runWait)
					s.sendNotify(nextRun)
					continue
				}

				logger.Debugf("running scheduled task at %s", nextRun.Format(time.DateTime))

				if s.PreCheck != nil {
					if err := s.PreCheck(); err != nil {
						if precheckErr == nil || err.Error() != precheckErr.Error() {
							precheckErr = err
							s.sendError(pkgerrors.Wrapf(err, "precheck failed"))
						}

						attempts++
						if attempts <= s.PreCheckMaxTimes {
							logger.Debugf("precheck failed (%d/%d): %v; retrying in %s", attempts, s.PreCheckMaxTimes, err, s.PreCheckInterval)
							timer.Reset(s.PreCheckInterval)
							continue
						}

						logger.Warnf("precheck kept failing, giving up on the run at %s", nextRun.Format(time.DateTime))
						timer.Stop()
						s.advanceNextRun()
						break
					}
				}

				timer.Stop()

				go func() {
					if err := s.Task(); err != nil {
						s.sendError(pkgerrors.Wrapf(err, "task failed"))
					}
				}()
				s.advanceNextRun()
			case <-s.stopCh:
				timer.Stop()
				return
			case msg := <-s.controlCh: // internal control messages
				logger.WithFields(logrus.Fields{
					"kind": msg.kind,
					"data": msg.data,
				}).Debug("received control msg")

				switch msg.kind {
				case ctrlRecalculate:
					timer.Stop()
					sh := msg.data.(cron.Schedule)
					s.mu.Lock()
					s.schedule = sh
					s.nextRun = sh.Next(time.Now())
					s.mu.Unlock()
				case ctrlPostpone: // only postpone current run
					pp := msg.data.(time.Time)
					nextRun = pp
					// Announce the new time LeadTime ahead, even if the
					// old one was already announced.
					leading = true
					timer.Stop()
					timer.Reset(max(time.Until(pp)-s.LeadTime, 0))
					continue
				case ctrlSkip:
					timer.Stop()
				}
			}

			break
		}
	}
}

func (s *Scheduler) snapshot() (cron.Schedule, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule, s.nextRun
}

// advanceNextRun moves past the run that just fired, or was given up on.
func (s *Scheduler) advanceNextRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedule == nil {
		return
	}
	s.nextRun = s.schedule.Next(s.nextRun)
}

func (s *Scheduler) sendNotify(runAt time.Time) {
	if s.OnUpcoming == nil {
		return
	}

	go s.OnUpcoming(runAt)
}

func (s *Scheduler) sendError(err error) {
	if s.OnError == nil {
		return
	}

	go s.OnError(err)
}

func (s *Scheduler) trySendControl(kind controlKind, data any) {
	select {
	case s.controlCh <- controlMsg{kind: kind, data: data}:
	default:
	}
}
