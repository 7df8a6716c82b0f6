package localapi

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/closetconnect/closet-tracker/internal/events"
	"github.com/closetconnect/closet-tracker/internal/logging"
	"github.com/closetconnect/closet-tracker/internal/models"
	"github.com/closetconnect/closet-tracker/internal/push"
)

// Handler serves the API routes.
type Handler struct {
	uploads   Uploads
	conn      Connection
	bus       *events.EventBus
	logger    *logging.Logger
	now       func() time.Time
	startedAt time.Time
	upgrader  websocket.Upgrader

	closeOnce sync.Once
	closing   chan struct{}
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	UserID     int64  `json:"userId"`
	Connection string `json:"connection"`
	Active     int    `json:"active"`
	Processing int    `json:"processing"`
	Ready      int    `json:"readyForReview"`
	Failed     int    `json:"failed"`
	Uptime     string `json:"uptime"`
}

// UploadsResponse is the body of GET /api/uploads.
type UploadsResponse struct {
	Uploads []models.UploadRecord `json:"uploads"`
}

// StreamMessage is one websocket message on /api/events.
type StreamMessage struct {
	Type      events.EventType      `json:"type"`
	Record    *models.UploadRecord  `json:"record,omitempty"`
	Records   []models.UploadRecord `json:"records,omitempty"`
	Dismissed bool                  `json:"dismissed,omitempty"`
	State     string                `json:"state,omitempty"`
	Error     string                `json:"error,omitempty"`
	Timestamp int64                 `json:"timestamp"`
}

func (h *Handler) close() {
	h.closeOnce.Do(func() { close(h.closing) })
}

// HandleHealth returns server health status.
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// HandleStatus summarises the registry and the push connection.
func (h *Handler) HandleStatus(c echo.Context) error {
	records := h.uploads.List()
	resp := StatusResponse{
		UserID:     h.uploads.Owner(),
		Connection: string(push.StateDisconnected),
		Active:     len(records),
		Uptime:     h.now().Sub(h.startedAt).Round(time.Second).String(),
	}
	if h.conn != nil {
		resp.Connection = string(h.conn.State())
	}
	for _, rec := range records {
		switch rec.Status {
		case models.StatusProcessing:
			resp.Processing++
		case models.StatusReadyForReview:
			resp.Ready++
		case models.StatusFailed:
			resp.Failed++
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleListUploads returns the tracked uploads, optionally filtered
// with ?status=.
func (h *Handler) HandleListUploads(c echo.Context) error {
	records := h.uploads.List()
	if raw := c.QueryParam("status"); raw != "" {
		status, err := models.ParseStatus(raw)
		if err != nil {
			return NewBadRequestError("invalid status filter", err)
		}
		filtered := records[:0]
		for _, rec := range records {
			if rec.Status == status {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}
	if records == nil {
		records = []models.UploadRecord{}
	}
	return c.JSON(http.StatusOK, UploadsResponse{Uploads: records})
}

// HandleGetUpload returns a single tracked upload.
func (h *Handler) HandleGetUpload(c echo.Context) error {
	id, err := clothID(c)
	if err != nil {
		return err
	}
	rec, ok := h.uploads.Get(id)
	if !ok {
		return NewNotFoundError("upload", c.Param("clothId"))
	}
	return c.JSON(http.StatusOK, rec)
}

// HandleDismissUpload removes an upload. The removal is recorded as a
// dismissal unless ?dismiss=false.
func (h *Handler) HandleDismissUpload(c echo.Context) error {
	id, err := clothID(c)
	if err != nil {
		return err
	}
	dismiss := true
	if raw := c.QueryParam("dismiss"); raw != "" {
		dismiss, err = strconv.ParseBool(raw)
		if err != nil {
			return NewBadRequestError("dismiss must be a boolean", err)
		}
	}
	if !h.uploads.Remove(id, dismiss) && !dismiss {
		return NewNotFoundError("upload", c.Param("clothId"))
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleEvents streams bus events over a websocket until the client
// goes away or the server shuts down.
func (h *Handler) HandleEvents(c echo.Context) error {
	if h.bus == nil {
		return &APIError{Status: http.StatusServiceUnavailable, Code: "SERVICE_UNAVAILABLE", Message: "event stream not available"}
	}
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	ch := h.bus.SubscribeAll()
	defer h.bus.Unsubscribe(ch)

	// Reads only detect the client closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return nil
		case <-h.closing:
			_ = ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			msg, ok := streamMessage(ev)
			if !ok {
				continue
			}
			if err := ws.WriteJSON(msg); err != nil {
				h.logger.Debug().Err(err).Msg("event stream write failed")
				return nil
			}
		}
	}
}

func streamMessage(ev events.Event) (StreamMessage, bool) {
	msg := StreamMessage{Type: ev.Type(), Timestamp: ev.Timestamp().UnixMilli()}
	switch e := ev.(type) {
	case *events.UploadEvent:
		rec := e.Record
		msg.Record = &rec
		msg.Dismissed = e.Dismissed
	case *events.ReplacedEvent:
		msg.Records = e.Records
		if msg.Records == nil {
			msg.Records = []models.UploadRecord{}
		}
	case *events.ConnectionEvent:
		msg.State = e.State
		if e.Err != nil {
			msg.Error = e.Err.Error()
		}
	default:
		return msg, false
	}
	return msg, true
}

func clothID(c echo.Context) (int64, error) {
	raw := c.Param("clothId")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, NewBadRequestError("clothId must be a positive integer", err)
	}
	return id, nil
}
