// Package realtime adapts live transports to the subscriber hub: SockJS
// sessions for the display boards and plain Server-Sent Events for
// clients without a SockJS library.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"qms/turno-service/internal/hub"

	"github.com/igm/sockjs-go/sockjs"
)

const keepAliveInterval = 25 * time.Second

type Registry interface {
	NewClient() *hub.Client
	Register(client *hub.Client)
	Unregister(client *hub.Client)
}

// JoinNotifier is told once a client is registered so it can send the
// initial snapshot.
type JoinNotifier interface {
	OnSubscriberJoin(ctx context.Context, clientID string)
}

// session is the part of sockjs.Session a subscriber needs.
type session interface {
	Send(msg string) error
	Recv() (string, error)
}

// NewSockJSHandler serves SockJS sessions under prefix. Inbound frames are
// ignored; the session exists only to receive queue updates.
func NewSockJSHandler(prefix string, registry Registry, joiner JoinNotifier) http.Handler {
	return sockjs.NewHandler(prefix, sockjs.DefaultOptions, func(s sockjs.Session) {
		serveSession(s, registry, joiner)
	})
}

// serveSession registers the session, sends it the join snapshot and
// forwards hub messages until the peer goes away.
func serveSession(s session, registry Registry, joiner JoinNotifier) {
	client := registry.NewClient()
	registry.Register(client)
	defer registry.Unregister(client)
	log.Printf("subscriber joined transport=sockjs client=%s", client.ID)

	go func() {
		for msg := range client.Send {
			if err := s.Send(string(msg)); err != nil {
				return
			}
		}
	}()

	joiner.OnSubscriberJoin(context.Background(), client.ID)

	for {
		if _, err := s.Recv(); err != nil {
			log.Printf("subscriber left transport=sockjs client=%s", client.ID)
			return
		}
	}
}

type SSEHandler struct {
	registry Registry
	joiner   JoinNotifier
}

func NewSSEHandler(registry Registry, joiner JoinNotifier) *SSEHandler {
	return &SSEHandler{registry: registry, joiner: joiner}
}

func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	controller := http.NewResponseController(w)
	// The server write timeout would otherwise cut the stream.
	if err := controller.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		log.Printf("sse clear deadline error: %v", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := controller.Flush(); err != nil {
		log.Printf("sse flush error: %v", err)
		return
	}

	client := h.registry.NewClient()
	h.registry.Register(client)
	defer h.registry.Unregister(client)
	log.Printf("subscriber joined transport=sse client=%s", client.ID)

	h.joiner.OnSubscriberJoin(r.Context(), client.ID)

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			log.Printf("subscriber left transport=sse client=%s", client.ID)
			return
		case msg, ok := <-client.Send:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", msg); err != nil {
				return
			}
			if err := controller.Flush(); err != nil {
				return
			}
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			if err := controller.Flush(); err != nil {
				return
			}
		}
	}
}
