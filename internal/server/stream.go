package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"codeberg.org/mutker/simtemp/internal/errors"
	"codeberg.org/mutker/simtemp/internal/sensor"
)

const streamWriteWait = 2 * time.Second

// frameWriter sends every Write as one binary websocket message.
type frameWriter struct {
	conn *websocket.Conn
}

func (f frameWriter) Write(p []byte) (int, error) {
	if err := f.conn.SetWriteDeadline(time.Now().Add(streamWriteWait)); err != nil {
		return 0, err
	}
	if err := f.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}

	return len(p), nil
}

// handleStream upgrades to a websocket and pushes each sample as a 16-byte
// binary frame. The stream is an ordinary blocking reader: samples it sends
// are consumed from the shared buffer.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Drain control frames; any read error means the client is gone.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.log.Debug().Str("remote", r.RemoteAddr).Msg("Stream opened")

	out := frameWriter{conn: conn}
	for {
		_, err := s.sensor.ReadTo(ctx, true, out)
		switch {
		case err == nil:
			continue
		case errors.Is(err, sensor.ErrClosed):
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "sensor closed"),
				time.Now().Add(streamWriteWait))
		case errors.Is(err, sensor.ErrInterrupted):
		default:
			s.log.Debug().Err(err).Msg("Stream write failed")
		}

		s.log.Debug().Str("remote", r.RemoteAddr).Msg("Stream closed")
		return
	}
}
