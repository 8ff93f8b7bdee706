package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cropsage/cropsage/internal/assistant"
)

// Config carries the HTTP server configuration. Zero values fall back to
// the defaults applied in [New].
type Config struct {
	// Host is the listen address (e.g. "127.0.0.1" or "0.0.0.0").
	Host string
	// Port is the TCP port to listen on.
	Port int

	// ReadTimeout bounds the time spent reading a request.
	ReadTimeout time.Duration
	// WriteTimeout bounds the time spent writing a response.
	WriteTimeout time.Duration
	// ShutdownTimeout bounds graceful shutdown on SIGINT/SIGTERM.
	ShutdownTimeout time.Duration
	// ChatTimeout bounds a single /api/chat turn end to end.
	ChatTimeout time.Duration

	// Logger is the base logger for all request logging.
	Logger *slog.Logger

	// Pingers are the dependency probes run by GET /api/ready.
	Pingers []Pinger

	// RateLimit is the sustained per-IP request rate on /api/chat
	// (requests per second). Zero disables rate limiting.
	RateLimit float64
	// RateBurst is the per-IP burst allowance when RateLimit is set.
	RateBurst int

	// APIKey enables Bearer auth on /api/chat when non-empty.
	APIKey string

	// MetricsRegistry receives the server's Prometheus collectors.
	// Defaults to prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs the GET /metrics endpoint.
	// Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// answerer is the narrow surface of [assistant.Assistant] the chat handler
// needs. Split out so handler tests can substitute a fake.
type answerer interface {
	Answer(ctx context.Context, session, query string) (*assistant.Turn, error)
}

// Server is the cropsage HTTP API server.
type Server struct {
	// assistant answers chat turns.
	assistant answerer
	// cfg is the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the base structured logger.
	log *slog.Logger
	// pingers are probed by the readiness endpoint.
	pingers []Pinger
	// metrics holds the server's Prometheus instruments.
	metrics *serverMetrics
	// stopRL stops the rate limiter's eviction loop, nil when disabled.
	stopRL func()
}

// chatRequest is the JSON body accepted by POST /api/chat.
type chatRequest struct {
	// Message is the user's question. Required.
	Message string `json:"message"`
	// Session groups turns into a conversation. Optional; when empty the
	// turn is answered statelessly and not persisted.
	Session string `json:"session,omitempty"`
}

// chatChunk is one retrieved guide passage included in a chat response.
type chatChunk struct {
	// Source is the document the passage came from.
	Source string `json:"source"`
	// Content is the passage text.
	Content string `json:"content"`
	// Score is the reranker relevance score.
	Score float32 `json:"score"`
}

// chatResponse is the JSON body returned by POST /api/chat.
type chatResponse struct {
	// Answer is the assistant's reply.
	Answer string `json:"answer"`
	// Path records how the turn was routed: direct, structured, or retrieval.
	Path string `json:"path"`
	// Chunks are the guide passages grounding a retrieval answer.
	Chunks []chatChunk `json:"chunks,omitempty"`
}

// errorResponse is the JSON body returned on handler failures.
type errorResponse struct {
	// Error is a human-readable failure description.
	Error string `json:"error"`
}
