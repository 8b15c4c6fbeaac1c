package services

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type HubConfig struct {
	AuthTimeout    time.Duration
	RequestTimeout time.Duration
	MaxMessageSize int64
	SendBuffer     int
	AllowedOrigins []string // empty: any origin
}

// Hub is the realtime gateway. Each connection lives in its tenant's
// namespace and, once joined, in one game room, optionally narrowed to a
// round. Engine events reach the hub through Publish.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	done       chan struct{}

	upgrader    websocket.Upgrader
	coordinator *Coordinator
	store       *Store
	auth        *AuthService
	authorizer  Authorizer
	tenants     *TenantService
	cfg         HubConfig
	log         *zap.SugaredLogger
}

func NewHub(coordinator *Coordinator, store *Store, auth *AuthService, authorizer Authorizer, tenants *TenantService, cfg HubConfig, log *zap.SugaredLogger) *Hub {
	h := &Hub{
		clients:     make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		done:        make(chan struct{}),
		coordinator: coordinator,
		store:       store,
		auth:        auth,
		authorizer:  authorizer,
		tenants:     tenants,
		cfg:         cfg,
		log:         log,
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.cfg.AllowedOrigins, origin)
}

// Run owns client registration until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mutex.Unlock()
			h.log.Debugw("client registered", "client_id", client.id, "tenant_id", client.tenantID, "clients", count)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.closeSend()
			}
			count := len(h.clients)
			h.mutex.Unlock()
			h.log.Debugw("client unregistered", "client_id", client.id, "clients", count)

		case <-h.done:
			h.mutex.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.Close()
			}
			h.mutex.Unlock()
			return
		}
	}
}

// Stop disconnects every client and ends Run.
func (h *Hub) Stop() {
	close(h.done)
}

// Publish delivers an engine event to every client joined to its room, or
// to the recipient alone. Slow clients whose buffer is full are dropped.
func (h *Hub) Publish(ev Event) {
	data, err := json.Marshal(Envelope{
		Event:     ev.Name,
		Status:    ev.Status,
		Payload:   ev.Payload,
		Entity:    ev.Entity,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.log.Errorw("failed to marshal event", "event", ev.Name, "error", err)
		return
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()
	for client := range h.clients {
		if !client.wants(ev) {
			continue
		}
		if !client.enqueue(data) {
			h.log.Warnw("client send buffer full, disconnecting", "client_id", client.id, "user_id", client.userID())
			go client.Close()
		}
	}
}

// ClientCount reports how many authenticated connections are registered.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and runs the connection. The tenant comes
// from the Host header; the token from the Authorization header, the token
// query parameter, or a first authenticate frame.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := newClient(h, conn, uuid.NewString())
	token := bearerToken(r)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.RequestTimeout)
		tenantID, err := h.tenants.Resolve(ctx, r.Host)
		cancel()
		if err != nil {
			client.reject("unknown tenant")
			return
		}
		client.run(tenantID, token)
	}()
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}
