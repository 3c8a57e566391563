// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/aiku/ircbridge/pkg/relay"
)

const (
	maxShutdownBodySize = 4096
	eventBufferSize     = 64
	wsWriteWait         = 10 * time.Second
	wsPingPeriod        = 54 * time.Second
	wsPongWait          = 60 * time.Second
)

// EndpointStatus is one entry of the status response.
type EndpointStatus struct {
	Name    string `json:"name"`
	Nick    string `json:"nick"`
	Channel string `json:"channel"`
	Muted   bool   `json:"muted"`
	Ready   bool   `json:"ready"`
	Backlog int    `json:"backlog"`
	Dropped uint64 `json:"dropped"`
}

// Status is the GET /api/status response body.
type Status struct {
	Running   bool             `json:"running"`
	Netsplit  bool             `json:"netsplit"`
	Endpoints []EndpointStatus `json:"endpoints"`
}

// ShutdownRequest is the optional POST /api/shutdown body.
type ShutdownRequest struct {
	Message string `json:"message"`
}

// AdminAPI serves bridge status, remote shutdown and a live feed of
// accepted events over WebSocket.
type AdminAPI struct {
	pump        *relay.Pump
	quitMessage string
	log         zerolog.Logger
	upgrader    websocket.Upgrader

	subsLock sync.Mutex
	subs     map[chan relay.Accepted]struct{}
}

// NewAdminAPI creates the admin API and subscribes it to pump.
func NewAdminAPI(pump *relay.Pump, quitMessage string, log zerolog.Logger) *AdminAPI {
	a := &AdminAPI{
		pump:        pump,
		quitMessage: quitMessage,
		log:         log.With().Str("component", "admin_api").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		subs: make(map[chan relay.Accepted]struct{}),
	}
	pump.Observe(a.broadcast)
	return a
}

// Handler returns the API routes.
func (a *AdminAPI) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", a.HandleStatus)
	mux.HandleFunc("/api/shutdown", a.HandleShutdown)
	mux.HandleFunc("/api/events", a.HandleEvents)
	return mux
}

// Serve listens on addr until ctx is cancelled.
func (a *AdminAPI) Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:        addr,
		Handler:     a.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	a.log.Info().Str("addr", addr).Msg("Starting bridge admin API")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// HandleStatus reports the pump state and every endpoint.
func (a *AdminAPI) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	endpoints := a.pump.Endpoints()
	status := Status{
		Running:   a.pump.Running(),
		Netsplit:  a.pump.Netsplit(),
		Endpoints: make([]EndpointStatus, 0, len(endpoints)),
	}
	for _, e := range endpoints {
		status.Endpoints = append(status.Endpoints, EndpointStatus{
			Name:    e.Name(),
			Nick:    e.Nick(),
			Channel: e.Channel(),
			Muted:   e.Muted(),
			Ready:   e.Ready(),
			Backlog: e.Backlog(),
			Dropped: e.Dropped(),
		})
	}
	writeJSON(w, http.StatusOK, status)
}

// HandleShutdown triggers a coordinated shutdown. The request body may
// carry a quit message overriding the configured one.
func (a *AdminAPI) HandleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	message := a.quitMessage
	if r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, maxShutdownBodySize)
		var req ShutdownRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		case err != nil && !errors.Is(err, io.EOF):
			http.Error(w, "invalid JSON", http.StatusBadRequest)
			return
		case req.Message != "":
			message = req.Message
		}
	}

	won := a.pump.Shutdown(message)
	a.log.Info().Bool("initiated", won).Str("remote_addr", r.RemoteAddr).Msg("Shutdown requested over admin API")
	writeJSON(w, http.StatusOK, map[string]bool{"shutdown": won})
}

// HandleEvents upgrades to a WebSocket and streams accepted events as JSON
// until the client goes away. Slow clients miss events rather than
// blocking the relay.
func (a *AdminAPI) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	events := a.subscribe()
	defer a.unsubscribe(events)
	log := a.log.With().Str("remote_addr", r.RemoteAddr).Logger()
	log.Debug().Msg("Event feed client connected")

	// The read side only handles control frames and notices the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
		log.Debug().Msg("Event feed client disconnected")
	}()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(wsWriteWait))
			return
		case acc := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(acc); err != nil {
				log.Debug().Err(err).Msg("Failed to write event")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func (a *AdminAPI) subscribe() chan relay.Accepted {
	ch := make(chan relay.Accepted, eventBufferSize)
	a.subsLock.Lock()
	a.subs[ch] = struct{}{}
	a.subsLock.Unlock()
	return ch
}

func (a *AdminAPI) unsubscribe(ch chan relay.Accepted) {
	a.subsLock.Lock()
	delete(a.subs, ch)
	a.subsLock.Unlock()
}

// subscribers returns the number of connected event feed clients.
func (a *AdminAPI) subscribers() int {
	a.subsLock.Lock()
	defer a.subsLock.Unlock()
	return len(a.subs)
}

func (a *AdminAPI) broadcast(acc relay.Accepted) {
	a.subsLock.Lock()
	defer a.subsLock.Unlock()
	for ch := range a.subs {
		select {
		case ch <- acc:
		default:
			a.log.Debug().Str("origin", acc.Origin).Msg("Event feed client too slow, dropping event")
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
