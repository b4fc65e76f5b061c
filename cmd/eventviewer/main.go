// Command eventviewer tails the transcript and audit topics and relays
// every event to websocket clients, for watching dictation sessions live.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"clinical-dictation-service/internal/config"
	"clinical-dictation-service/internal/events"
	"clinical-dictation-service/internal/observability/logging"
)

const recentSize = 200

// hub fans events out to connected clients and keeps the latest ones for
// late joiners.
type hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan events.Envelope
	recent  []events.Envelope
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan events.Envelope)}
}

func (h *hub) publish(env events.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recent = append(h.recent, env)
	if len(h.recent) > recentSize {
		h.recent = h.recent[len(h.recent)-recentSize:]
	}
	for conn, ch := range h.clients {
		select {
		case ch <- env:
		default:
			log.Warn().Str("remote", conn.RemoteAddr().String()).Msg("Slow client, dropping event")
		}
	}
}

func (h *hub) add(conn *websocket.Conn) (<-chan events.Envelope, []events.Envelope) {
	ch := make(chan events.Envelope, 64)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = ch
	return ch, append([]events.Envelope(nil), h.recent...)
}

func (h *hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	n := len(h.clients)
	h.mu.Unlock()
	conn.Close()
	log.Info().Int("clients", n).Msg("Client disconnected")
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	ch, backlog := h.add(conn)
	log.Info().Str("remote", conn.RemoteAddr().String()).Msg("Client connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer h.remove(conn)
	for _, env := range backlog {
		if err := conn.WriteJSON(env); err != nil {
			return
		}
	}
	for {
		select {
		case env := <-ch:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *hub) serveRecent(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	recent := append([]events.Envelope(nil), h.recent...)
	h.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(recent)
}

func main() {
	port := flag.String("port", "8081", "HTTP server port")
	since := flag.Duration("since", time.Hour, "Replay events newer than this on start")
	flag.Parse()

	cfg := config.Load()
	logging.Init(logging.Config{Level: cfg.Observability.LogLevel, Format: cfg.Observability.LogFormat})
	if len(cfg.Kafka.Brokers) == 0 {
		log.Fatal().Msg("KAFKA_BROKERS is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h := newHub()
	for _, topic := range []string{cfg.Kafka.TopicPartial, cfg.Kafka.TopicFinal, cfg.Kafka.TopicAudit} {
		go func(topic string) {
			if err := events.Tail(ctx, events.TailConfig{Brokers: cfg.Kafka.Brokers, Topic: topic, Since: *since}, h.publish); err != nil {
				log.Error().Err(err).Str("topic", topic).Msg("Tail stopped")
			}
		}(topic)
	}

	r := chi.NewRouter()
	r.Get("/ws", h.serveWS)
	r.Get("/recent", h.serveRecent)

	srv := &http.Server{Addr: ":" + *port, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().
		Str("addr", srv.Addr).
		Strs("brokers", cfg.Kafka.Brokers).
		Msg("Event viewer started")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server error")
	}
}
