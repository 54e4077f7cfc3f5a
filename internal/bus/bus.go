// Package bus carries request/reply messages between the page context and
// the background service. Every message is copied through JSON so the two
// sides never share memory.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Message types.
const (
	TypeDownload        = "download"
	TypeScanImages      = "scan_images"
	TypeRasterize       = "rasterize"
	TypeSettingsUpdated = "settings_updated"
)

// ErrNoListener is returned when nobody handles a message type, or the
// receiving side has gone away.
var ErrNoListener = errors.New("bus: no listener")

// Message is the envelope sent across contexts.
type Message struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Reply answers exactly one Message.
type Reply struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// RemoteError is a handler failure reported by the other side.
type RemoteError struct {
	Type string
	Msg  string
}

func (e *RemoteError) Error() string { return fmt.Sprintf("bus: %s failed: %s", e.Type, e.Msg) }

// NewMessage encodes payload into a Message of the given type.
func NewMessage(typ string, payload any) (Message, error) {
	m := Message{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("bus: encode %s payload: %w", typ, err)
		}
		m.Payload = raw
	}
	return m, nil
}

// Decode unmarshals the reply data into v.
func (r Reply) Decode(v any) error {
	if len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// Channel sends a message and waits for its single reply.
type Channel interface {
	Send(ctx context.Context, m Message) (Reply, error)
}

// Call sends payload as typ over ch and decodes a successful reply into out.
// A nil channel is reported as ErrNoListener.
func Call(ctx context.Context, ch Channel, typ string, payload, out any) error {
	if ch == nil {
		return ErrNoListener
	}
	m, err := NewMessage(typ, payload)
	if err != nil {
		return err
	}
	r, err := ch.Send(ctx, m)
	if err != nil {
		return err
	}
	if !r.Success {
		return &RemoteError{Type: typ, Msg: r.Error}
	}
	if out == nil {
		return nil
	}
	if err := r.Decode(out); err != nil {
		return fmt.Errorf("bus: decode %s reply: %w", typ, err)
	}
	return nil
}

// Handler serves one message type. The returned value becomes the reply data.
type Handler func(ctx context.Context, payload json.RawMessage) (any, error)

// Bus is an endpoint with one handler per message type.
type Bus struct {
	log zerolog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
	closed   bool
}

func New(log zerolog.Logger) *Bus {
	return &Bus{log: log.With().Str("component", "bus").Logger(), handlers: map[string]Handler{}}
}

// Handle registers h for typ, replacing any earlier handler.
func (b *Bus) Handle(typ string, h Handler) {
	b.mu.Lock()
	b.handlers[typ] = h
	b.mu.Unlock()
}

// Close makes every later Send fail with ErrNoListener.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

// Send implements Channel.
func (b *Bus) Send(ctx context.Context, m Message) (Reply, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return Reply{}, fmt.Errorf("bus: encode message: %w", err)
	}
	out, err := b.ServeJSON(ctx, raw)
	if err != nil {
		return Reply{}, err
	}
	var r Reply
	if err := json.Unmarshal(out, &r); err != nil {
		return Reply{}, fmt.Errorf("bus: decode reply: %w", err)
	}
	return r, nil
}

// ServeJSON routes one encoded envelope and returns the encoded reply. It is
// the entry point for transports that already speak JSON.
func (b *Bus) ServeJSON(ctx context.Context, raw []byte) ([]byte, error) {
	if !gjson.ValidBytes(raw) {
		return nil, errors.New("bus: malformed envelope")
	}
	id := gjson.GetBytes(raw, "id").String()
	if id == "" {
		id = uuid.NewString()
		var err error
		if raw, err = sjson.SetBytes(raw, "id", id); err != nil {
			return nil, fmt.Errorf("bus: stamp id: %w", err)
		}
	}
	typ := gjson.GetBytes(raw, "type").String()

	b.mu.RLock()
	h, ok := b.handlers[typ]
	closed := b.closed
	b.mu.RUnlock()
	if closed || !ok {
		return nil, fmt.Errorf("%w for %q", ErrNoListener, typ)
	}

	var payload json.RawMessage
	if p := gjson.GetBytes(raw, "payload"); p.Exists() {
		payload = json.RawMessage(p.Raw)
	}
	log := b.log.With().Str("type", typ).Str("id", id).Logger()
	log.Debug().Msg("message received")

	type result struct {
		v   any
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("handler panic: %v", p)}
			}
		}()
		v, err := h(ctx, payload)
		done <- result{v: v, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-done:
	}

	reply := Reply{Success: res.err == nil}
	if res.err != nil {
		log.Debug().Err(res.err).Msg("handler failed")
		reply.Error = res.err.Error()
	} else if res.v != nil {
		data, err := json.Marshal(res.v)
		if err != nil {
			reply = Reply{Error: fmt.Sprintf("encode reply: %v", err)}
		} else {
			reply.Data = data
		}
	}
	return json.Marshal(reply)
}
