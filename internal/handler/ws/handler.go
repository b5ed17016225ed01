package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	chatHandler "github.com/zhouzirui/tofu-tavern/backend/internal/handler/chat"
	"github.com/zhouzirui/tofu-tavern/backend/internal/logging"
	"github.com/zhouzirui/tofu-tavern/backend/internal/model/chat"
	chatService "github.com/zhouzirui/tofu-tavern/backend/internal/service/chat"
	"github.com/zhouzirui/tofu-tavern/backend/pkg/utils"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// Inbound message types.
const (
	TypeMessage     = "message"
	TypeTemperature = "temperature"
	TypeReset       = "reset"
	TypePrefill     = "prefill"
	TypeTranscript  = "transcript"
)

// Outbound message types.
const (
	TypeReply = "reply"
	TypeError = "error"
)

// Handler WebSocket 会话处理器，每个连接一次只处理一个事件。
type Handler struct {
	chatSvc  *chatService.Service
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// New 创建WebSocket处理器
func New(chatSvc *chatService.Service, logger *zap.Logger) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		logger:  logging.OrNop(logger),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// TextData 文本提交
type TextData struct {
	Text string `json:"text"`
}

// TemperatureData 温度调整
type TemperatureData struct {
	Temperature float64 `json:"temperature"`
}

// PrefillData 快捷提问或自定义预填充
type PrefillData struct {
	StarterID string `json:"starterId"`
	Text      string `json:"text"`
}

// ReplyData 助手回复及最新记录
type ReplyData struct {
	Message    chat.Message   `json:"message"`
	Transcript []chat.Message `json:"transcript"`
}

// ErrorData 错误描述，Status 与 REST 接口的状态码一致。
type ErrorData struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

type connection struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	session *chatService.Conversation
	logger  *zap.Logger
}

func (c *connection) send(msgType string, data interface{}) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	msg := outgoingMessage{
		Type:      msgType,
		SessionID: c.session.ID(),
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Debug("websocket write failed", zap.String("type", msgType), zap.Error(err))
	}
}

func (c *connection) sendError(err error) {
	c.send(TypeError, ErrorData{Message: err.Error(), Status: chatHandler.StatusFor(err)})
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.chatSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, chatHandler.StatusFor(err), err.Error())
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	logger := logging.WithCtx(logging.WithSessionID(r.Context(), sessionID), h.logger)
	logger.Info("websocket connected")

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go pingLoop(ctx, conn)

	c := &connection{conn: conn, session: session, logger: logger}
	c.send(TypeTranscript, session.View())

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		if msg.SessionID != "" && msg.SessionID != sessionID {
			c.sendError(errors.New("session mismatch"))
			continue
		}

		h.handleMessage(ctx, c, &msg)
	}
}

func (h *Handler) handleMessage(ctx context.Context, c *connection, msg *inboundMessage) {
	session := c.session
	switch msg.Type {
	case TypeMessage:
		var data TextData
		if err := decodeData(msg.Data, &data); err != nil {
			c.sendError(err)
			return
		}
		reply, err := session.Submit(ctx, data.Text)
		if err != nil {
			c.sendError(err)
			return
		}
		c.send(TypeReply, ReplyData{Message: reply, Transcript: session.Transcript()})

	case TypeTemperature:
		var data TemperatureData
		if err := decodeData(msg.Data, &data); err != nil {
			c.sendError(err)
			return
		}
		if err := session.SetTemperature(ctx, data.Temperature); err != nil {
			c.sendError(err)
			return
		}
		c.send(TypeTranscript, session.View())

	case TypeReset:
		if err := session.Reset(ctx); err != nil {
			c.sendError(err)
			return
		}
		c.send(TypeTranscript, session.View())

	case TypePrefill:
		var data PrefillData
		if err := decodeData(msg.Data, &data); err != nil {
			c.sendError(err)
			return
		}
		var err error
		if data.StarterID != "" {
			_, err = session.QueueStarter(ctx, data.StarterID)
		} else {
			err = session.SetPrefill(ctx, data.Text)
		}
		if err != nil {
			c.sendError(err)
			return
		}
		c.send(TypeTranscript, session.View())

	case TypeTranscript:
		c.send(TypeTranscript, session.View())

	default:
		c.sendError(errors.New("unsupported message type: " + msg.Type))
	}
}

func decodeData(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errors.New("invalid message data")
	}
	return nil
}

// pingLoop 定期发送ping消息
func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
