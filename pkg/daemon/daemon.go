package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/feedr/pkg/config"
	"github.com/charlie0129/feedr/pkg/events"
	"github.com/charlie0129/feedr/pkg/history"
	"github.com/charlie0129/feedr/pkg/schedule"
)

// Server is the HTTP control plane. Feedings themselves run in separate
// processes started by the schedule service.
type Server struct {
	conf      *config.File
	schedules *schedule.Service
	history   history.Store
	hub       *events.EventHub

	// ctx bounds manual feedings started over HTTP.
	ctx       context.Context
	startedAt time.Time
}

func NewServer(ctx context.Context, conf *config.File, schedules *schedule.Service, store history.Store, hub *events.EventHub) *Server {
	return &Server{
		conf:      conf,
		schedules: schedules,
		history:   store,
		hub:       hub,
		ctx:       ctx,
		startedAt: time.Now(),
	}
}

func (s *Server) setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.POST("/set-schedule", s.setSchedule)
	router.GET("/schedules", s.getSchedules)
	router.POST("/delete-schedule", s.deleteSchedule)
	router.POST("/skip-schedule", s.skipSchedule)
	router.POST("/postpone-schedule", s.postponeSchedule)
	router.POST("/upload-voice", s.uploadVoice)
	router.GET("/past-schedules", s.getPastSchedules)
	router.POST("/feed", s.feed)
	router.GET("/health", s.getHealth)
	router.GET("/version", getVersion)
	router.GET("/events", s.streamEvents)

	return router
}

func Run(configPath string, logLevel string) error {
	conf, err := config.NewFile(configPath)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to parse config during startup")
	}
	if err := conf.Validate(); err != nil {
		return pkgerrors.Wrapf(err, "invalid config %s", configPath)
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	store, err := history.Open(conf.HistoryBackend(), conf.HistoryPath())
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logrus.Errorf("failed to close history store: %v", err)
		}
	}()

	exe, err := os.Executable()
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to locate own executable")
	}
	runner := &schedule.ExecRunner{
		Executable: exe,
		ConfigPath: configPath,
		LogLevel:   logLevel,
	}

	hub := events.NewEventHub()
	schedules := schedule.NewService(conf.SchedulePath(), store, runner, hub, conf.CycleTimeout())
	if err := schedules.Load(); err != nil {
		logrus.Errorf("failed to restore schedules: %v", err)
	}
	defer schedules.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := NewServer(ctx, conf, schedules, store, hub)

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			if err := conf.Reload(); err != nil {
				logrus.Errorf("failed to reload config, keeping the previous one: %v", err)
				continue
			}
			logrus.WithFields(conf.LogrusFields()).Infof("config reloaded")
		}
	}()

	srv := &http.Server{
		Handler:           server.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	l, err := net.Listen("tcp", conf.ListenAddr())
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to listen on %s", conf.ListenAddr())
	}

	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	// Wait for a SIGINT or SIGTERM:
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	logrus.Info("shutting down http server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = srv.Shutdown(shutdownCtx)
	if err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	shutdownCancel()

	if schedules.Busy() {
		logrus.Warn("a feeding is in progress, stopping it")
	}
	cancel()
	schedules.Close()
	deadline := time.Now().Add(schedule.StopGrace)
	for schedules.Busy() && time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
	}

	logrus.Info("exiting")
	return nil
}

func detectorName(conf *config.File) string {
	cmd := conf.DetectorCommand()
	if len(cmd) == 0 {
		return "static"
	}
	return strings.Join(cmd, " ")
}
