package handler

import (
	"errors"
	"net/http"
	"strconv"

	"commlink/internal/microservices/http-api/dto"
	"commlink/internal/microservices/tcp"
	"commlink/internal/presenter"

	"github.com/gin-gonic/gin"
)

type SessionHandler struct {
	ctrl presenter.Controller
}

func NewSessionHandler(ctrl presenter.Controller) *SessionHandler {
	return &SessionHandler{ctrl: ctrl}
}

func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/sessions", h.List)
	rg.GET("/sessions/:id", h.Get)
	rg.POST("/sessions/:id/command", h.SendCommand)
	rg.POST("/sessions/:id/chat", h.SendChat)
	rg.DELETE("/sessions/:id", h.Disconnect)
	rg.POST("/broadcast/chat", h.BroadcastChat)
}

// List handles GET /api/sessions
func (h *SessionHandler) List(c *gin.Context) {
	infos := h.ctrl.Sessions()
	resp := dto.SessionListResponse{
		Sessions: make([]dto.SessionResponse, 0, len(infos)),
		Count:    len(infos),
	}
	for _, info := range infos {
		resp.Sessions = append(resp.Sessions, dto.SessionFromInfo(info))
	}
	c.JSON(http.StatusOK, resp)
}

// Get handles GET /api/sessions/:id
func (h *SessionHandler) Get(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	info, found := h.ctrl.Session(id)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": tcp.ErrSessionNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.SessionFromInfo(info))
}

// SendCommand handles POST /api/sessions/:id/command
func (h *SessionHandler) SendCommand(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var in dto.MessageRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.ctrl.SendCommand(id, in.Content); err != nil {
		respondSendError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
}

// SendChat handles POST /api/sessions/:id/chat
func (h *SessionHandler) SendChat(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var in dto.MessageRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.ctrl.SendChat(id, in.Content); err != nil {
		respondSendError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
}

// BroadcastChat handles POST /api/broadcast/chat
func (h *SessionHandler) BroadcastChat(c *gin.Context) {
	var in dto.MessageRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	recipients := len(h.ctrl.Sessions())
	failed := h.ctrl.BroadcastChat(in.Content)

	resp := dto.BroadcastResponse{Recipients: recipients}
	if len(failed) > 0 {
		resp.Failed = make(map[int64]string, len(failed))
		for id, err := range failed {
			resp.Failed[id] = err.Error()
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Disconnect handles DELETE /api/sessions/:id
func (h *SessionHandler) Disconnect(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	if err := h.ctrl.Disconnect(id); err != nil {
		respondSendError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func sessionID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return 0, false
	}
	return id, true
}

func respondSendError(c *gin.Context, err error) {
	if errors.Is(err, tcp.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
}
