// Loopback signaling server for exercising the client locally. It
// assigns message ids and sequences, relays typing, presence and call
// events between connected clients, and replays history on resync.
// A testing aid, not a production server.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/vovakirdan/wirechat-client/internal/log"
	"github.com/vovakirdan/wirechat-client/internal/proto"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	secret := flag.String("secret", "devserver-secret", "JWT signing secret")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger := log.New(*level)
	hub := newHub()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/token", func(c *gin.Context) {
		user := c.Query("user")
		if user == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user query param required"})
			return
		}
		claims := jwt.RegisteredClaims{
			Subject:   user,
			Issuer:    "wirechat-devserver",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(*secret))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	})
	router.GET("/ws", gin.WrapF(hub.serveWS))

	server := &http.Server{
		Addr:              *addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", *addr).Msg("devserver listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("devserver exited")
		os.Exit(1)
	}
}

type hub struct {
	mu       sync.Mutex
	clients  map[*client]struct{}
	history  map[string][]proto.MessageReceive // per conversation, sequence order
	sequence map[string]int64
}

type client struct {
	conn *websocket.Conn
	ctx  context.Context
}

func newHub() *hub {
	return &hub{
		clients:  make(map[*client]struct{}),
		history:  make(map[string][]proto.MessageReceive),
		sequence: make(map[string]int64),
	}
}

func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	c := &client{conn: conn, ctx: r.Context()}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	for {
		var ev proto.Event
		if err := wsjson.Read(r.Context(), conn, &ev); err != nil {
			return
		}
		h.handle(c, ev)
	}
}

func (h *hub) handle(from *client, ev proto.Event) {
	switch ev.Kind {
	case proto.KindHello:
		// Nothing to do: tokens are not verified in the loopback server.

	case proto.KindMessageSend:
		var p proto.MessageSend
		if proto.Decode(ev, &p) != nil {
			return
		}
		h.mu.Lock()
		h.sequence[p.ConversationID]++
		msg := proto.MessageReceive{
			ID:             uuid.NewString(),
			ClientTempID:   p.ClientTempID,
			ConversationID: p.ConversationID,
			Body:           p.Body,
			Sequence:       h.sequence[p.ConversationID],
			CreatedAt:      time.Now().UnixMilli(),
		}
		h.history[p.ConversationID] = append(h.history[p.ConversationID], msg)
		h.mu.Unlock()

		h.sendTo(from, proto.MustNew(proto.KindMessageAck, proto.MessageAck{
			ClientTempID: p.ClientTempID,
			ID:           msg.ID,
			Sequence:     msg.Sequence,
		}))
		h.broadcast(from, proto.MustNew(proto.KindMessageReceive, msg))

	case proto.KindResyncRequest:
		var p proto.ResyncRequest
		if proto.Decode(ev, &p) != nil {
			return
		}
		h.mu.Lock()
		var missed []proto.MessageReceive
		for _, msg := range h.history[p.ConversationID] {
			if msg.Sequence > p.SinceSequence {
				missed = append(missed, msg)
			}
		}
		h.mu.Unlock()
		h.sendTo(from, proto.MustNew(proto.KindResyncResponse, proto.ResyncResponse{Messages: missed}))

	case proto.KindTypingStart, proto.KindTypingStop, proto.KindPresenceUpdate,
		proto.KindCallOffer, proto.KindCallAnswer, proto.KindCallICE, proto.KindCallEnd,
		proto.KindMessageStatus:
		h.broadcast(from, ev)
	}
}

func (h *hub) sendTo(c *client, ev proto.Event) {
	ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
	defer cancel()
	_ = wsjson.Write(ctx, c.conn, ev)
}

func (h *hub) broadcast(from *client, ev proto.Event) {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if c != from {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		h.sendTo(c, ev)
	}
}
