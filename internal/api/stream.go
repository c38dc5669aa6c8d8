package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
)

// handleStream upgrades to a websocket. Every text message is a table; every
// reply is either a PredictResponse or an ErrorResponse. Bad messages do not
// close the connection.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.StreamConnections.Inc()
		defer s.metrics.StreamConnections.Dec()
	}

	connID := RequestID(r.Context())
	log.Info().Str("request_id", connID).Str("remote", r.RemoteAddr).Msg("scoring stream opened")

	conn.SetReadLimit(s.opts.MaxBodyBytes)
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	done := make(chan struct{})
	defer close(done)
	// gorilla connections allow one concurrent writer; pings go through
	// WriteControl, which is safe alongside WriteJSON.
	go func() {
		ticker := time.NewTicker(streamPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("request_id", connID).Msg("scoring stream closed unexpectedly")
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		requestID := uuid.NewString()
		var reply any
		if resp, err := s.predict(data, requestID); err != nil {
			_, body := errorResponse(err, requestID)
			reply = body
		} else {
			reply = resp
		}

		conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(reply); err != nil {
			log.Warn().Err(err).Str("request_id", connID).Msg("failed to write stream reply")
			break
		}
	}

	log.Info().Str("request_id", connID).Msg("scoring stream closed")
}
