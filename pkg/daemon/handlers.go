package daemon

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/feedr/pkg/schedule"
	"github.com/charlie0129/feedr/pkg/version"
	"github.com/charlie0129/feedr/pkg/voice"
)

type keyRequest struct {
	Dog  string `json:"dog" binding:"required"`
	Time string `json:"time" binding:"required"`
}

func (r keyRequest) key() schedule.Key {
	return schedule.Key{Dog: r.Dog, Time: r.Time}
}

type postponeRequest struct {
	keyRequest
	Duration string `json:"duration" binding:"required"`
}

type feedRequest struct {
	Dog    string `json:"dog" binding:"required"`
	Voice  string `json:"voice" binding:"required"`
	Amount int    `json:"amount" binding:"required"`
}

func scheduleErrorStatus(err error) int {
	switch {
	case errors.Is(err, schedule.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, schedule.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, schedule.ErrDuplicate), errors.Is(err, schedule.ErrBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) setSchedule(c *gin.Context) {
	var e schedule.Entry
	if err := c.ShouldBindJSON(&e); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	if err := s.schedules.Add(c.Request.Context(), e); err != nil {
		abort(c, scheduleErrorStatus(err), err)
		return
	}

	c.IndentedJSON(http.StatusOK, gin.H{"status": "schedule registered"})
}

func (s *Server) getSchedules(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.schedules.Status())
}

func (s *Server) deleteSchedule(c *gin.Context) {
	var req keyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	if err := s.schedules.Delete(req.key()); err != nil {
		abort(c, scheduleErrorStatus(err), err)
		return
	}

	c.IndentedJSON(http.StatusOK, gin.H{"status": "schedule deleted"})
}

func (s *Server) skipSchedule(c *gin.Context) {
	var req keyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	if err := s.schedules.Skip(req.key()); err != nil {
		abort(c, scheduleErrorStatus(err), err)
		return
	}

	c.IndentedJSON(http.StatusOK, gin.H{"status": "next run skipped"})
}

func (s *Server) postponeSchedule(c *gin.Context) {
	var req postponeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	d, err := time.ParseDuration(req.Duration)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	if err := s.schedules.Postpone(req.key(), d); err != nil {
		code := scheduleErrorStatus(err)
		if code == http.StatusInternalServerError {
			// Out of range postpones are the caller's fault.
			code = http.StatusBadRequest
		}
		abort(c, code, err)
		return
	}

	c.IndentedJSON(http.StatusOK, gin.H{"status": "next run postponed"})
}

func (s *Server) uploadVoice(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	name := filepath.Base(file.Filename)
	if err := voice.ValidateID(name); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	dir := s.conf.VoiceDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}
	if err := c.SaveUploadedFile(file, filepath.Join(dir, name)); err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"filename": name,
		"size":     file.Size,
	}).Info("voice clip uploaded")
	c.IndentedJSON(http.StatusOK, gin.H{"status": "saved", "filename": name})
}

func (s *Server) getPastSchedules(c *gin.Context) {
	records, err := s.history.List(c.Request.Context())
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, records)
}

func (s *Server) feed(c *gin.Context) {
	var req feedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	e := schedule.Entry{Dog: req.Dog, Voice: req.Voice, Amount: req.Amount, Time: "00:00"}
	if err := e.Validate(); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	if s.schedules.Busy() {
		abort(c, http.StatusConflict, schedule.ErrBusy)
		return
	}

	go func() {
		if err := s.schedules.FeedNow(s.ctx, e); err != nil {
			logrus.WithError(err).WithField("dog", e.Dog).Warn("manual feeding did not complete")
		}
	}()

	c.IndentedJSON(http.StatusAccepted, gin.H{"status": "feeding started"})
}

func (s *Server) getHealth(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, gin.H{
		"status":          "healthy",
		"timestamp":       time.Now().Format(time.RFC3339),
		"uptime":          time.Since(s.startedAt).Round(time.Second).String(),
		"schedules_count": len(s.schedules.List()),
		"busy":            s.schedules.Busy(),
		"detector":        detectorName(s.conf),
	})
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, gin.H{
		"version":   version.Version,
		"gitCommit": version.GitCommit,
	})
}

func (s *Server) streamEvents(c *gin.Context) {
	ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(ch)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	// Send headers now so clients see the stream before the first event.
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, string(ev.Data))
			return true
		}
	})
}
