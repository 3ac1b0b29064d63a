package api

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/hexcity/internal/engine"
)

// streamFlushInterval batches frame-rate deltas into a few messages per second.
const streamFlushInterval = 250 * time.Millisecond

// StreamMessage is one websocket update.
type StreamMessage struct {
	Delta          float64 `json:"delta"`
	Coins          float64 `json:"coins"`
	CoinsPerSecond float64 `json:"coins_per_second"`
}

// handleStream upgrades to a websocket and pushes the coins earned since the
// previous message.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.Ticker == nil {
		http.Error(w, "streaming disabled", http.StatusNotFound)
		return
	}
	if s.streamConns.Add(1) > maxStreamConns {
		s.streamConns.Add(-1)
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}
	defer s.streamConns.Add(-1)

	deltas := make(chan float64, 256)
	unsubscribe := s.Ticker.Subscribe(func(p engine.Payout) {
		select {
		case deltas <- p.Delta:
		default:
		}
	})
	defer unsubscribe()

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.allowOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	slog.Info("stream client connected", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader: only watches for the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	flush := time.NewTicker(streamFlushInterval)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stream client disconnected", "remote", r.RemoteAddr)
			return
		case <-flush.C:
			sum := 0.0
		drain:
			for {
				select {
				case d := <-deltas:
					sum += d
				default:
					break drain
				}
			}
			if sum == 0 {
				continue
			}
			msg := StreamMessage{Delta: sum, Coins: s.Store.Coins(), CoinsPerSecond: s.rate()}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

// allowOrigin admits non-browser clients and the configured origins.
func (s *Server) allowOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(s.Origins, origin) || slices.Contains(s.Origins, "*")
}
