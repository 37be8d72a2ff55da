package httpapi

import (
	"net/http"

	"cautela-backend-go/internal/services"

	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// socketClaims authenticates a websocket request from its token query
// parameter, since browsers cannot set headers on socket upgrades.
func (s *Server) socketClaims(w http.ResponseWriter, r *http.Request) (string, []string, bool) {
	query := r.URL.Query().Get("token")
	if query == "" {
		WriteError(w, http.StatusUnauthorized, "Authentication failed")
		return "", nil, false
	}
	token, claims, err := s.Tokens.ParseToken(query)
	if err != nil || !token.Valid || claims["typ"] != "access" {
		WriteError(w, http.StatusUnauthorized, "Authentication failed")
		return "", nil, false
	}
	userID, _ := claims["sub"].(string)
	if userID == "" {
		WriteError(w, http.StatusUnauthorized, "Authentication failed")
		return "", nil, false
	}
	roles := []string{}
	if rawRoles, ok := claims["roles"].([]interface{}); ok {
		for _, value := range rawRoles {
			if role, ok := value.(string); ok {
				roles = append(roles, role)
			}
		}
	}
	return userID, roles, true
}

// EventsSocket streams the caller's connection, vitals and alert events.
func (s *Server) EventsSocket(w http.ResponseWriter, r *http.Request) {
	userID, roles, ok := s.socketClaims(w, r)
	if !ok {
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sub := s.Bus.Subscribe(userID, roles)
	defer func() {
		sub.Close()
		_ = conn.Close()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	for {
		select {
		case event, open := <-sub.C:
			if !open {
				return
			}
			// Metric samples ride the same bus for admins but belong to
			// the metrics socket, not the caregiver event stream.
			if event.Topic == services.TopicMetrics {
				continue
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// MetricsSocket streams server metric samples to admins.
func (s *Server) MetricsSocket(w http.ResponseWriter, r *http.Request) {
	userID, roles, ok := s.socketClaims(w, r)
	if !ok {
		return
	}
	if !hasRole(roles, services.RoleAdmin) {
		WriteError(w, http.StatusForbidden, "Not allowed")
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sub := s.Bus.Subscribe(userID, roles)
	defer func() {
		sub.Close()
		_ = conn.Close()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	for {
		select {
		case event, open := <-sub.C:
			if !open {
				return
			}
			if event.Topic != services.TopicMetrics {
				continue
			}
			if err := conn.WriteJSON(event.Payload); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
