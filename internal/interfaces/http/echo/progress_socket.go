package echo

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	app "github.com/mohammadpnp/contact-import/internal/application/importing"
	"github.com/mohammadpnp/contact-import/internal/logging"
)

const socketWriteTimeout = 10 * time.Second

// ProgressSocket runs a sync and delivers its events over a WebSocket, one
// text frame per event.
type ProgressSocket struct {
	sync     syncSessionUseCase
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewProgressSocket(sync syncSessionUseCase, logger *slog.Logger) *ProgressSocket {
	return &ProgressSocket{
		sync:   sync,
		logger: logging.OrDefault(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

type socketEmitter struct {
	conn *websocket.Conn
}

func (s socketEmitter) Emit(event app.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (p *ProgressSocket) HandleSync(c echo.Context) error {
	conn, err := p.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		p.logger.Warn("websocket upgrade failed", "session_id", c.Param("id"), "err", err)
		return nil
	}
	defer conn.Close()

	emitter := socketEmitter{conn: conn}
	ctx := context.WithoutCancel(c.Request().Context())
	_, err = p.sync.Execute(ctx, app.SyncSessionInput{
		SessionID:      c.Param("id"),
		TaskAssigneeID: c.QueryParam("taskAssigneeId"),
	}, emitter)

	closeCode, reason := websocket.CloseNormalClosure, "sync finished"
	if err != nil {
		status, body := errorStatus(err)
		if status == http.StatusInternalServerError {
			p.logger.Error("sync over websocket failed", "session_id", c.Param("id"), "err", err)
		}
		_ = emitter.Emit(app.Event{Type: app.EventError, Error: streamErrorMessage(err)})
		closeCode, reason = websocket.CloseInternalServerErr, body.Code
		if status < http.StatusInternalServerError {
			closeCode = websocket.ClosePolicyViolation
		}
	}
	deadline := time.Now().Add(socketWriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, reason), deadline)
	return nil
}
