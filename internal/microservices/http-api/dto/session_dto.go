package dto

import (
	"time"

	"commlink/internal/microservices/tcp"
)

// MessageRequest is the body of the command and chat endpoints.
type MessageRequest struct {
	Content string `json:"content" binding:"required"`
}

type SessionResponse struct {
	ID          int64     `json:"id"`
	Address     string    `json:"address"`
	ConnectedAt time.Time `json:"connected_at"`
}

type SessionListResponse struct {
	Sessions []SessionResponse `json:"sessions"`
	Count    int               `json:"count"`
}

// BroadcastResponse reports which clients a broadcast did not reach.
type BroadcastResponse struct {
	Recipients int              `json:"recipients"`
	Failed     map[int64]string `json:"failed,omitempty"`
}

func SessionFromInfo(info tcp.SessionInfo) SessionResponse {
	return SessionResponse{
		ID:          info.ID,
		Address:     info.Address,
		ConnectedAt: info.ConnectedAt,
	}
}
