// Package wsreplay stands in for the exchange collaborator boundary
// (spec.md §1 "the exchange's WebSocket API is an external collaborator").
// It replays a recorded sequence of AggTrade and DiffDepth fixtures over a
// local WebSocket so the pipeline can be exercised end to end without a
// live exchange connection, the way the teacher's kraken websocket client
// drives its message loop off a real socket.
package wsreplay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/orderbook"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/preprocess"
)

// EventKind discriminates a fixture's payload type.
type EventKind string

const (
	KindTrade    EventKind = "trade"
	KindDepth    EventKind = "depth"
	KindSnapshot EventKind = "snapshot"
)

// Event is one line of a recorded fixture file: a kind tag plus the
// raw JSON payload for that kind, decoded lazily by the client.
type Event struct {
	Kind    EventKind       `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// NewTradeEvent wraps a RawTrade as a replay Event.
func NewTradeEvent(t preprocess.RawTrade) (Event, error) {
	return newEvent(KindTrade, t)
}

// NewDepthEvent wraps a DepthUpdate as a replay Event.
func NewDepthEvent(d orderbook.DepthUpdate) (Event, error) {
	return newEvent(KindDepth, d)
}

// NewSnapshotEvent wraps a Snapshot as a replay Event.
func NewSnapshotEvent(s orderbook.Snapshot) (Event, error) {
	return newEvent(KindSnapshot, s)
}

func newEvent(kind EventKind, v any) (Event, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return Event{}, fmt.Errorf("wsreplay: marshal %s event: %w", kind, err)
	}
	return Event{Kind: kind, Payload: payload}, nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Server serves a fixed sequence of Events to whichever client connects,
// pacing writes by Interval so a replay mirrors a live feed's cadence
// instead of bursting everything at once.
type Server struct {
	Events   []Event
	Interval time.Duration
	log      zerolog.Logger
}

// NewServer builds a replay server over a recorded event sequence.
func NewServer(events []Event, interval time.Duration, log zerolog.Logger) *Server {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	return &Server{Events: events, Interval: interval, log: log}
}

// ServeHTTP implements http.Handler, upgrading the connection and streaming
// the fixture once, then closing. One connection replays the whole fixture.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("wsreplay: upgrade failed")
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for _, ev := range s.Events {
		<-ticker.C
		data, err := json.Marshal(ev)
		if err != nil {
			s.log.Error().Err(err).Msg("wsreplay: marshal event")
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.log.Warn().Err(err).Msg("wsreplay: write failed, client likely gone")
			return
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "replay complete"))
}

// Handlers dispatches a decoded Event to the pipeline. Each field is
// optional; Client only calls the handler matching the event's kind.
type Handlers struct {
	OnTrade    func(preprocess.RawTrade)
	OnDepth    func(orderbook.DepthUpdate)
	OnSnapshot func(orderbook.Snapshot)
}

// Client dials a replay server and dispatches decoded events to Handlers
// until the connection closes or ctx is canceled, mirroring the teacher's
// messageLoop/ping-loop split without the reconnect machinery a single-pass
// fixture replay doesn't need.
type Client struct {
	url string
	log zerolog.Logger
}

// NewClient targets a ws:// or wss:// URL serving a replay.Server.
func NewClient(url string, log zerolog.Logger) *Client {
	return &Client{url: url, log: log}
}

// Run connects, reads events until the server closes the stream, and
// dispatches each one. It returns when the stream ends, ctx is canceled,
// or a read error occurs.
func (c *Client) Run(ctx context.Context, h Handlers) error {
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("wsreplay: dial %s: %w", c.url, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("wsreplay: read: %w", err)
		}
		if err := c.dispatch(data, h); err != nil {
			c.log.Error().Err(err).Msg("wsreplay: dispatch failed")
		}
	}
}

func (c *Client) dispatch(data []byte, h Handlers) error {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	switch ev.Kind {
	case KindTrade:
		if h.OnTrade == nil {
			return nil
		}
		var t preprocess.RawTrade
		if err := json.Unmarshal(ev.Payload, &t); err != nil {
			return fmt.Errorf("decode trade: %w", err)
		}
		h.OnTrade(t)
	case KindDepth:
		if h.OnDepth == nil {
			return nil
		}
		var d orderbook.DepthUpdate
		if err := json.Unmarshal(ev.Payload, &d); err != nil {
			return fmt.Errorf("decode depth: %w", err)
		}
		h.OnDepth(d)
	case KindSnapshot:
		if h.OnSnapshot == nil {
			return nil
		}
		var s orderbook.Snapshot
		if err := json.Unmarshal(ev.Payload, &s); err != nil {
			return fmt.Errorf("decode snapshot: %w", err)
		}
		h.OnSnapshot(s)
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
	return nil
}
