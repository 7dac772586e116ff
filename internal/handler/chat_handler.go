package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/M4ORE/fda-ai-device-analyst/internal/model"
	"github.com/M4ORE/fda-ai-device-analyst/internal/service"
	"github.com/M4ORE/fda-ai-device-analyst/pkg/log"
	"github.com/M4ORE/fda-ai-device-analyst/pkg/token"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ChatHandler serves the grounded Q&A endpoints, both blocking REST and the
// streaming websocket.
type ChatHandler struct {
	chatService service.ChatService
	jwtManager  *token.JWTManager
}

// NewChatHandler creates a new ChatHandler instance.
func NewChatHandler(chatService service.ChatService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		jwtManager:  jwtManager,
	}
}

// CreateSession issues a fresh anonymous session token for the chat.
func (h *ChatHandler) CreateSession(c *gin.Context) {
	tokenString, sessionID, err := h.jwtManager.GenerateSessionToken()
	if err != nil {
		log.Error("[ChatHandler] failed to issue session token", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "failed to create session", "data": nil})
		return
	}
	log.Infof("[ChatHandler] session created: %s", sessionID)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{
		"token":     tokenString,
		"sessionId": sessionID,
	}})
}

type askRequest struct {
	Question string             `json:"question" binding:"required"`
	Filter   model.SearchFilter `json:"filter"`
}

// Ask handles a blocking question and returns the full answer with
// citations. The session id is set by the session auth middleware.
func (h *ChatHandler) Ask(c *gin.Context) {
	sessionID := c.GetString("sessionID")

	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "question is required", "data": nil})
		return
	}
	log.Infof("[ChatHandler] session %s: question received", sessionID)

	answer, err := h.chatService.Answer(c.Request.Context(), sessionID, req.Question, req.Filter)
	if err != nil {
		h.writeAnswerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": answer})
}

// ClearHistory drops the stored history of the caller's session.
func (h *ChatHandler) ClearHistory(c *gin.Context) {
	sessionID := c.GetString("sessionID")
	if err := h.chatService.ClearHistory(c.Request.Context(), sessionID); err != nil {
		log.Errorf("[ChatHandler] session %s: failed to clear history: %v", sessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "failed to clear history", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": nil})
}

func (h *ChatHandler) writeAnswerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrEmptyIndex):
		c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": "vector index is empty, run a build first", "data": nil})
	case errors.Is(err, service.ErrGeneration):
		log.Errorf("[ChatHandler] generation failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"code": http.StatusBadGateway, "message": "answer generation failed", "data": nil})
	default:
		log.Errorf("[ChatHandler] retrieval failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "retrieval failed", "data": nil})
	}
}

// wsFrame is the envelope of every websocket message sent to the client.
type wsFrame struct {
	Type      string           `json:"type"`
	Content   string           `json:"content,omitempty"`
	Citations []model.Citation `json:"citations,omitempty"`
	Message   string           `json:"message,omitempty"`
	Timestamp int64            `json:"timestamp"`
}

// wsChunkWriter wraps raw stream chunks into chunk frames.
type wsChunkWriter struct {
	conn *websocket.Conn
	mu   *sync.Mutex
}

func (w *wsChunkWriter) WriteMessage(messageType int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(wsFrame{
		Type:      "chunk",
		Content:   string(data),
		Timestamp: time.Now().UnixMilli(),
	})
}

type wsQuestion struct {
	Type     string             `json:"type"`
	Question string             `json:"question"`
	Filter   model.SearchFilter `json:"filter"`
}

// HandleWebsocket upgrades the connection and serves one chat session. The
// client sends JSON questions; answer chunks stream back as they arrive,
// followed by a done frame carrying the citations. A stop frame cancels the
// in-flight generation.
func (h *ChatHandler) HandleWebsocket(c *gin.Context) {
	claims, err := h.jwtManager.VerifyToken(c.Param("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "invalid token", "data": nil})
		return
	}
	sessionID := claims.SessionID

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("[ChatHandler] websocket upgrade failed", err)
		return
	}
	defer conn.Close()
	log.Infof("[ChatHandler] websocket connected, session: %s", sessionID)

	var writeMu sync.Mutex
	var streamMu sync.Mutex
	var cancelStream context.CancelFunc
	var busy bool

	writeFrame := func(f wsFrame) {
		writeMu.Lock()
		defer writeMu.Unlock()
		f.Timestamp = time.Now().UnixMilli()
		if err := conn.WriteJSON(f); err != nil {
			log.Warnf("[ChatHandler] session %s: websocket write failed: %v", sessionID, err)
		}
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("[ChatHandler] session %s: websocket read ended: %v", sessionID, err)
			break
		}

		var req wsQuestion
		if err := json.Unmarshal(message, &req); err != nil {
			writeFrame(wsFrame{Type: "error", Message: "malformed message"})
			continue
		}

		if req.Type == "stop" {
			streamMu.Lock()
			if cancelStream != nil {
				cancelStream()
			}
			streamMu.Unlock()
			writeFrame(wsFrame{Type: "stopped", Message: "generation stopped"})
			continue
		}

		if req.Question == "" {
			writeFrame(wsFrame{Type: "error", Message: "question is required"})
			continue
		}

		streamMu.Lock()
		if busy {
			streamMu.Unlock()
			writeFrame(wsFrame{Type: "error", Message: "a question is already being answered"})
			continue
		}
		ctx, cancel := context.WithCancel(c.Request.Context())
		cancelStream = cancel
		busy = true
		streamMu.Unlock()

		// Answer in a goroutine so the read loop stays free to receive a
		// stop frame mid-stream.
		go func(req wsQuestion) {
			defer func() {
				streamMu.Lock()
				busy = false
				cancelStream = nil
				streamMu.Unlock()
				cancel()
			}()

			writer := &wsChunkWriter{conn: conn, mu: &writeMu}
			answer, err := h.chatService.StreamAnswer(ctx, sessionID, req.Question, req.Filter, writer)
			if err != nil {
				if ctx.Err() != nil {
					log.Infof("[ChatHandler] session %s: stream cancelled", sessionID)
					return
				}
				log.Errorf("[ChatHandler] session %s: stream failed: %v", sessionID, err)
				writeFrame(wsFrame{Type: "error", Message: "failed to answer question"})
				return
			}
			writeFrame(wsFrame{Type: "done", Content: answer.Answer, Citations: answer.Citations})
		}(req)
	}
}
