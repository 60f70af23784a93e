// Package server pushes ledger snapshots, market events and strategy
// actions to UI clients over websocket, and accepts a narrow command
// channel inward (pause control for replay runs).
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/logs"

	"github.com/pourquoi/tradebot/internal/bus"
	"github.com/pourquoi/tradebot/internal/state"
)

const (
	writeTimeout   = 10 * time.Second
	subscriberSize = 256
)

// Pauser is the replay pause control exposed to clients. Nil disables
// the pause commands.
type Pauser interface {
	SetPaused(bool)
	Paused() bool
}

type command struct {
	Command string `json:"command"`
}

type outbound struct {
	Type string `json:"type"`
	Kind string `json:"kind,omitempty"`
	Data any    `json:"data"`
}

// Server serves one websocket endpoint; every client gets its own hub
// subscription, so a slow client only loses its own messages.
type Server struct {
	addr     string
	hub      *bus.Hub
	ledger   *state.State
	pauser   Pauser
	upgrader websocket.Upgrader
}

func New(addr string, h *bus.Hub, ledger *state.State, pauser Pauser) *Server {
	return &Server{
		addr:   addr,
		hub:    h,
		ledger: ledger,
		pauser: pauser,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	srv := &http.Server{Addr: s.addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logs.Infof("server: listening on %s", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logs.Warnf("server: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	send := func(msg outbound) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteJSON(msg)
	}

	snap := s.ledger.Snapshot()
	if err := send(outbound{Type: "snapshot", Data: snap}); err != nil {
		return
	}

	sub := s.hub.Subscribe(subscriberSize)
	defer sub.Cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var cmd command
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			s.handleCommand(cmd, send)
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if err := send(translate(ev)); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleCommand(cmd command, send func(outbound) error) {
	if s.pauser == nil {
		return
	}
	switch cmd.Command {
	case "toggle_pause":
		s.pauser.SetPaused(!s.pauser.Paused())
	case "pause":
		s.pauser.SetPaused(true)
	case "resume":
		s.pauser.SetPaused(false)
	default:
		logs.Warnf("server: unknown command %q", cmd.Command)
		return
	}
	_ = send(outbound{Type: "paused", Data: s.pauser.Paused()})
}

func translate(ev bus.Event) outbound {
	switch {
	case ev.State != nil:
		return outbound{Type: "snapshot", Data: ev.State}
	case ev.Action != nil:
		return outbound{Type: "action", Kind: ev.Action.ActionKind(), Data: ev.Action}
	case ev.Market != nil:
		return outbound{Type: "event", Kind: string(ev.Market.Kind()), Data: mustRaw(ev.Market)}
	default:
		return outbound{Type: "event", Data: json.RawMessage(`null`)}
	}
}

// mustRaw reuses the event's envelope encoding so clients see the same
// shape as the persisted log.
func mustRaw(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		logs.Errorf("server: encode event: %v", err)
		return json.RawMessage(`null`)
	}
	return data
}
