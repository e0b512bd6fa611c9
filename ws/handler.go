package ws

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/commsapp/server/models"
)

// TokenValidator is the slice of the auth service the WS handler
// needs. Defining it here instead of importing services avoids the
// services → ws → services cycle.
type TokenValidator interface {
	ValidateAccessToken(tokenString string) (*models.TokenClaims, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: restrict origins once the frontend domain is fixed.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades HTTP requests to WebSocket connections.
type Handler struct {
	hub            *Hub
	tokenValidator TokenValidator
}

// NewHandler creates a WebSocket handler.
func NewHandler(hub *Hub, tokenValidator TokenValidator) *Handler {
	return &Handler{
		hub:            hub,
		tokenValidator: tokenValidator,
	}
}

// HandleConnection authenticates via the token query parameter
// (browsers cannot set headers on WebSocket requests), upgrades, and
// registers the client.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	claims, err := h.tokenValidator.ValidateAccessToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed for user %s: %v", claims.UserID, err)
		return
	}

	client := &Client{
		hub:    h.hub,
		conn:   conn,
		userID: claims.UserID,
		send:   make(chan []byte, sendBufferSize),
	}

	h.hub.register <- client

	client.sendEvent(Event{Op: OpReady, Data: ReadyData{
		UserID:        claims.UserID,
		OnlineUserIDs: h.hub.GetOnlineUserIDs(),
	}})

	go client.WritePump()
	client.ReadPump() // blocks until the connection closes
}
