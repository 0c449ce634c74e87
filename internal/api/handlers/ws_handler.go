package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mindpal/backend/internal/services"
	"github.com/mindpal/backend/internal/workers"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsReadLimit  = 64 << 10
)

type WSHandler struct {
	chat     services.ChatService
	redis    *redis.Client // optional; forwards journal job status
	logger   logrus.FieldLogger
	upgrader websocket.Upgrader
}

// NewWSHandler allows any origin when allowedOrigins is empty.
func NewWSHandler(chat services.ChatService, rdb *redis.Client, allowedOrigins []string, logger logrus.FieldLogger) *WSHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	allow := map[string]struct{}{}
	for _, o := range allowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			allow[o] = struct{}{}
		}
	}
	return &WSHandler{
		chat:   chat,
		redis:  rdb,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if len(allow) == 0 {
					return true
				}
				_, ok := allow[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

type wsClientMsg struct {
	Type    string `json:"type"` // message|end
	Content string `json:"content"`
}

type wsServerMsg struct {
	Type         string `json:"type"` // history|chunk|done|error|status
	Content      string `json:"content,omitempty"`
	FullResponse string `json:"full_response,omitempty"`
	Status       string `json:"status,omitempty"`
	Code         string `json:"code,omitempty"`
	Message      string `json:"message,omitempty"`
	Items        any    `json:"items,omitempty"`
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) writeText(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

func (w *wsConn) writeJSON(m wsServerMsg) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return w.writeText(b)
}

func (w *wsConn) writeError(err error) error {
	_, body := apiErrorOf(err)
	return w.writeJSON(wsServerMsg{Type: "error", Code: string(body.Code), Message: body.Message})
}

func (w *wsConn) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.c.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// ChatWS runs chat turns over a websocket. The conversation history is sent
// first; each {"type":"message"} then streams chunk frames followed by done.
func (h *WSHandler) ChatWS(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	convID := c.Param("conversation_id")

	// ownership is checked before the upgrade so failures are plain HTTP errors
	history, err := h.chat.History(c.Request.Context(), userID, convID)
	if err != nil {
		writeError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote response in most cases
		return
	}
	defer conn.Close()

	wc := &wsConn{c: conn}
	ctx, cancel := context.WithCancel(services.WithChannel(c.Request.Context(), "ws"))
	defer cancel()
	log := h.logger.WithFields(logrus.Fields{"user_id": userID, "conversation_id": convID})

	if err := wc.writeJSON(wsServerMsg{Type: "history", Items: history}); err != nil {
		return
	}

	if h.redis != nil {
		pubsub := h.redis.Subscribe(ctx, workers.StatusChannel(userID))
		defer pubsub.Close()
		go func() {
			for m := range pubsub.Channel() {
				if wc.writeText([]byte(m.Payload)) != nil {
					cancel()
					return
				}
			}
		}()
	}

	go func() {
		t := time.NewTicker(wsPingPeriod)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if wc.ping() != nil {
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(wsReadLimit)
	extend := func() { _ = conn.SetReadDeadline(time.Now().Add(wsPongWait)) }
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		_, data, rerr := conn.ReadMessage()
		if rerr != nil {
			if websocket.IsUnexpectedCloseError(rerr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(rerr).Debug("websocket closed")
			}
			return
		}
		extend()

		var msg wsClientMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = wc.writeJSON(wsServerMsg{Type: "error", Code: "INVALID_ARGUMENT", Message: "invalid json"})
			continue
		}

		switch msg.Type {
		case "message":
			h.turn(ctx, cancel, wc, userID, convID, msg.Content)
			// the turn may outlast the pong deadline
			extend()

		case "end":
			if err := h.chat.End(ctx, userID, convID); err != nil {
				_ = wc.writeError(err)
				continue
			}
			_ = wc.writeJSON(wsServerMsg{Type: "status", Status: "ended", Message: "conversation ended"})
			wc.mu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "ended"), time.Now().Add(wsWriteWait))
			wc.mu.Unlock()
			return

		default:
			_ = wc.writeJSON(wsServerMsg{Type: "error", Code: "INVALID_ARGUMENT", Message: "unknown message type"})
		}

		if ctx.Err() != nil {
			return
		}
	}
}

func (h *WSHandler) turn(ctx context.Context, cancel context.CancelFunc, wc *wsConn, userID, convID, content string) {
	chunks, errs, err := h.chat.SubmitTurn(ctx, userID, convID, content)
	if err != nil {
		_ = wc.writeError(err)
		return
	}

	var full strings.Builder
	writable := true
	for chunk := range chunks {
		full.WriteString(chunk)
		if writable && wc.writeJSON(wsServerMsg{Type: "chunk", Content: chunk}) != nil {
			// client gone: stop the turn, the service stores what it has
			writable = false
			cancel()
		}
	}
	if err := <-errs; err != nil {
		_ = wc.writeError(err)
	}
	_ = wc.writeJSON(wsServerMsg{Type: "done", FullResponse: full.String()})
}
