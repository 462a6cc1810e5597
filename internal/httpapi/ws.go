package httpapi

import (
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browsers cannot set Authorization headers on WebSocket dials, so the
	// token rides in the query string and origin checks add nothing here.
	CheckOrigin: func(*http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleWS authenticates the ?token= JWT, upgrades, and streams hub
// envelopes until the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if err := s.verifyToken(r.URL.Query().Get("token")); err != nil {
		s.log.Debugw("websocket auth rejected", "error", err)
		s.writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		s.log.Debugw("websocket upgrade failed", "error", err)
		return
	}

	session := s.hub.Register()
	s.log.Infow("websocket client connected", "session", session.ID(), "remote", r.RemoteAddr)

	// Reader exists only to notice the close.
	go func() {
		defer s.hub.Unregister(session)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	defer conn.Close()

	for {
		select {
		case env, ok := <-session.Out():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(env); err != nil {
				s.log.Debugw("websocket write failed", "session", session.ID(), "error", err)
				s.hub.Unregister(session)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.hub.Unregister(session)
				return
			}
		}
	}
}

func (s *Server) verifyToken(raw string) error {
	if raw == "" {
		return jwt.ErrTokenMalformed
	}
	_, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	return err
}
