// Package server exposes the engine over a WebSocket gateway. A connected
// transport sends JSON frames of (userId, displayName, text) and receives the
// reply as one or more text frames, chunked to the transport's message-size
// limit.
package server

import (
	"context"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conversation is the engine surface the gateway drives.
type Conversation interface {
	HandleTurn(ctx context.Context, userID, displayName, text string) (string, error)
	ResetUser(ctx context.Context, userID string) error
	LastReply(ctx context.Context, userID string) (string, error)
}

// turnErrorReply is shown when the turn itself failed (transcript store
// unreachable). Distinct from the engine's generation fallback, which is a
// successful turn.
const turnErrorReply = "The connection to the realm falters. Please try again in a moment."

// maxFrameSize caps inbound WebSocket messages.
const maxFrameSize = 64 * 1024

// Config tunes the gateway.
type Config struct {
	// ChunkLimit is the transport's message-size limit in characters
	// (default 2000).
	ChunkLimit int

	// ConfirmWindow is how long a reset confirmation stays valid
	// (default 30s).
	ConfirmWindow time.Duration

	// CallTimeout bounds one turn end to end (default 60s).
	CallTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ChunkLimit == 0 {
		c.ChunkLimit = 2000
	}
	if c.ConfirmWindow == 0 {
		c.ConfirmWindow = 30 * time.Second
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 60 * time.Second
	}
	return c
}

// Server is the WebSocket gateway.
type Server struct {
	conv     Conversation
	cfg      Config
	upgrader websocket.Upgrader
	now      func() time.Time

	mu            sync.Mutex
	pendingResets map[string]time.Time
}

// New creates a gateway over the given conversation engine.
func New(conv Conversation, cfg Config) *Server {
	return &Server{
		conv: conv,
		cfg:  cfg.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		now:           time.Now,
		pendingResets: make(map[string]time.Time),
	}
}

// Handler returns the HTTP handler: /ws for the gateway, /healthz for
// liveness.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

type inboundFrame struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Text        string `json:"text"`
}

type outboundFrame struct {
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[SERVER] Upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameSize)
	log.Printf("[SERVER] Connection opened from %s", r.RemoteAddr)

	for {
		var in inboundFrame
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[SERVER] Read error: %v", err)
			}
			return
		}

		if strings.TrimSpace(in.UserID) == "" || strings.TrimSpace(in.Text) == "" {
			s.write(conn, outboundFrame{Error: "userId and text are required"})
			continue
		}
		if in.DisplayName == "" {
			in.DisplayName = "Adventurer"
		}

		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.CallTimeout)
		replies := s.dispatch(ctx, in)
		cancel()

		for _, reply := range replies {
			if !s.write(conn, outboundFrame{Text: reply}) {
				return
			}
		}
	}
}

func (s *Server) write(conn *websocket.Conn, frame outboundFrame) bool {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(frame); err != nil {
		log.Printf("[SERVER] Write error: %v", err)
		return false
	}
	return true
}

// dispatch routes one inbound message to a command handler or the engine and
// returns the outbound messages, already chunked.
func (s *Server) dispatch(ctx context.Context, in inboundFrame) []string {
	text := strings.TrimSpace(in.Text)
	if strings.HasPrefix(text, "!") {
		return ChunkMessage(s.handleCommand(ctx, in.UserID, text), s.cfg.ChunkLimit)
	}

	reply, err := s.conv.HandleTurn(ctx, in.UserID, in.DisplayName, text)
	if err != nil {
		log.Printf("[SERVER] Turn failed for user %s: %v", in.UserID, err)
		return []string{turnErrorReply}
	}
	return ChunkMessage(reply, s.cfg.ChunkLimit)
}
