package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"qrattend/internal/ledger"
	"qrattend/internal/logging"
)

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.deps.Ledger.CheckHealth(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Ledger: "unavailable", Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Ledger: "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	if s.deps.Status == nil {
		s.writeError(c, http.StatusServiceUnavailable, errors.New("station status unavailable"))
		return
	}
	c.JSON(http.StatusOK, s.deps.Status.Status(c.Request.Context()))
}

func (s *Server) handleEvents(c *gin.Context) {
	events, err := s.deps.Ledger.ListEvents(c.Request.Context())
	if err != nil {
		s.writeLedgerError(c, err)
		return
	}
	if events == nil {
		events = []ledger.Event{}
	}
	c.JSON(http.StatusOK, EventListResponse{Events: events})
}

func (s *Server) handleEvent(c *gin.Context) {
	evt, ok := s.lookupEvent(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, evt)
}

func (s *Server) handleAttendance(c *gin.Context) {
	evt, ok := s.lookupEvent(c)
	if !ok {
		return
	}
	var slot string
	if raw := c.Query("slot"); strings.TrimSpace(raw) != "" {
		resolved, err := s.deps.Ledger.Slots().Resolve(raw)
		if err != nil {
			s.writeLedgerError(c, err)
			return
		}
		slot = resolved
	}
	records, err := s.deps.Ledger.ListAttendance(c.Request.Context(), evt.ID)
	if err != nil {
		s.writeLedgerError(c, err)
		return
	}
	if slot != "" {
		filtered := records[:0]
		for _, rec := range records {
			if rec.Slot == slot {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}
	if records == nil {
		records = []ledger.Record{}
	}
	c.JSON(http.StatusOK, AttendanceResponse{EventID: evt.ID, Records: records})
}

func (s *Server) handleSummary(c *gin.Context) {
	evt, ok := s.lookupEvent(c)
	if !ok {
		return
	}
	summary, err := s.deps.Ledger.Summary(c.Request.Context(), evt.ID)
	if err != nil {
		s.writeLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// handleCheckIn answers for one slot when ?slot= is given, otherwise for any
// slot of the event.
func (s *Server) handleCheckIn(c *gin.Context) {
	evt, ok := s.lookupEvent(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	participantID := strings.TrimSpace(c.Param("pid"))
	resp := CheckInResponse{EventID: evt.ID, ParticipantID: participantID}

	if slot := strings.TrimSpace(c.Query("slot")); slot != "" {
		at, err := s.deps.Ledger.IsCheckedIn(ctx, evt.ID, participantID, slot)
		if err != nil {
			s.writeLedgerError(c, err)
			return
		}
		resp.Slot = slot
		if at != nil {
			resp.CheckedIn = true
			resp.RecordedAt = FormatTime(*at)
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	first, err := s.deps.Ledger.CheckedInAnySlot(ctx, evt.ID, participantID)
	if err != nil {
		s.writeLedgerError(c, err)
		return
	}
	if first != nil {
		resp.CheckedIn = true
		resp.FirstRecord = first
		if first.RecordedAt != nil {
			resp.RecordedAt = FormatTime(*first.RecordedAt)
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleFeed(c *gin.Context) {
	hub := s.deps.Feed
	if hub == nil {
		c.JSON(http.StatusOK, FeedResponse{Events: nil})
		return
	}
	since, _ := strconv.ParseUint(c.Query("since"), 10, 64)
	limit, _ := strconv.Atoi(c.Query("limit"))
	wait := c.Query("wait") == "1" || strings.EqualFold(c.Query("wait"), "true")

	first := hub.FirstSequence()
	resp := FeedResponse{First: first, Missed: since > 0 && since+1 < first}

	if c.Query("tail") == "1" && since == 0 {
		events, next := hub.Tail(limit)
		resp.Events = events
		resp.Next = next
		c.JSON(http.StatusOK, resp)
		return
	}

	ctx := c.Request.Context()
	if wait {
		timeout := s.maxFeedWait
		if raw := c.Query("timeout"); raw != "" {
			if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 && parsed < timeout {
				timeout = parsed
			}
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	events, next, err := hub.Fetch(ctx, since, limit, wait)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		s.writeError(c, http.StatusServiceUnavailable, err)
		return
	}
	resp.Events = events
	resp.Next = next
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePreview(c *gin.Context) {
	if s.deps.Feed == nil {
		s.writeError(c, http.StatusNotFound, errors.New("no preview available"))
		return
	}
	snap, ok := s.deps.Feed.Preview()
	if !ok {
		s.writeError(c, http.StatusNotFound, errors.New("no preview available"))
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Header("X-Frame-Seq", strconv.FormatUint(snap.Seq, 10))
	c.Data(http.StatusOK, snap.ContentType, snap.Data)
}

func (s *Server) lookupEvent(c *gin.Context) (*ledger.Event, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		s.writeError(c, http.StatusNotFound, ledger.ErrEventNotFound)
		return nil, false
	}
	evt, err := s.deps.Ledger.GetEvent(c.Request.Context(), id)
	if err != nil {
		s.writeLedgerError(c, err)
		return nil, false
	}
	if evt == nil {
		s.writeError(c, http.StatusNotFound, ledger.ErrEventNotFound)
		return nil, false
	}
	return evt, true
}

func (s *Server) writeLedgerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrEventNotFound):
		s.writeError(c, http.StatusNotFound, err)
	case errors.Is(err, ledger.ErrUnknownSlot), errors.Is(err, ledger.ErrInvalidInput):
		s.writeError(c, http.StatusBadRequest, err)
	default:
		s.logger.Error("ledger read failed", logging.Error(err), logging.String("path", c.Request.URL.Path))
		s.writeError(c, http.StatusInternalServerError, errors.New("ledger unavailable"))
	}
}

func (s *Server) writeError(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error()})
}
