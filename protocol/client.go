package protocol

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/reactivegraph/interceptor/engine"
	"github.com/reactivegraph/interceptor/types"
)

// clientSource tags every write the client applies from the server, so the
// client's own outbound ChangeQueueProcessor (built with this same source)
// never re-sends a server-originated change back up the connection (spec.md
// §4.7 loopback suppression; §4.8 scenario 3 "no update echoes back to its
// origin").
const clientSource types.ChangeSource = "protocol-client"

// ClientConfig mirrors the handshake-relevant subset of ServerConfig the
// client needs to drive its own side of the protocol.
type ClientConfig struct {
	WelcomeTimeout  time.Duration
	ProtocolVersion int
	Format          string
	BufferTime      time.Duration
}

func NewClientConfig() ClientConfig {
	return ClientConfig{
		WelcomeTimeout:  10 * time.Second,
		ProtocolVersion: 1,
		Format:          "json",
		BufferTime:      8 * time.Millisecond,
	}
}

// ResyncFunc is called when the client detects a sequence gap (spec.md
// §4.8 "Clients detect gaps ... trigger a resync"). The default
// implementation (DefaultResync) disconnects and reconnects; a caller may
// instead send the supplemental Resync message (SPEC_FULL.md §9) over the
// same connection.
type ResyncFunc func(c *Client) error

// Client is the WebSocket bridge's client side: it performs the Hello/
// Welcome handshake, applies the initial snapshot and subsequent Updates to
// a local object graph, forwards local changes back to the server, and
// detects sequence gaps for resync (spec.md §4.8).
type Client struct {
	appCtx *engine.Context
	root   types.Subject
	codec  types.Codec
	cfg    ClientConfig
	logger *log.Logger

	ws      *websocket.Conn
	sendMu  sync.Mutex
	applier *Applier

	lastSeq  atomic.Uint64
	gapCount atomic.Uint64
	onGap    ResyncFunc

	queue *engine.ChangeQueueProcessor
}

// NewClient wraps an already-dialed *websocket.Conn. root is the client's
// local graph root, which will be indexed against the server's welcome
// state (spec.md §8 scenario 3-4 "bidirectional string sync").
func NewClient(appCtx *engine.Context, root types.Subject, factory types.SubjectFactory, ws *websocket.Conn, opts ...func(*ClientConfig)) *Client {
	cfg := NewClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	c := &Client{
		appCtx:  appCtx,
		root:    root,
		codec:   NewJSONCodec(),
		cfg:     cfg,
		logger:  appCtx.Config().Logger,
		ws:      ws,
		applier: NewApplier(appCtx, factory),
		onGap:   DefaultResync,
	}
	c.applier.Index(root)
	return c
}

// WithResyncFunc overrides how the client reacts to a detected sequence gap.
func (c *Client) WithResyncFunc(fn ResyncFunc) *Client { c.onGap = fn; return c }

// Connect performs the Hello/Welcome handshake and applies the initial
// snapshot. Call Run afterward to start the read pump and outbound queue.
func (c *Client) Connect(ctx context.Context) error {
	hello := types.Envelope{Type: types.MessageHello, Payload: types.HelloPayload{Version: c.cfg.ProtocolVersion, Format: c.cfg.Format}}
	if err := c.send(hello); err != nil {
		return err
	}

	c.ws.SetReadDeadline(time.Now().Add(c.cfg.WelcomeTimeout))
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return &types.TimeoutError{Operation: "welcome"}
	}
	c.ws.SetReadDeadline(time.Time{})

	env, err := c.codec.Decode(data)
	if err != nil {
		return err
	}
	if env.Type == types.MessageError {
		var ep types.ErrorPayload
		_ = c.codec.DecodePayload(env.Payload, &ep)
		return &types.ProtocolError{Code: ep.Code, Message: ep.Message}
	}
	if env.Type != types.MessageWelcome {
		return &types.ProtocolError{Code: "invalid_format", Message: "expected welcome, got " + string(env.Type)}
	}
	var welcome types.WelcomePayload
	if err := c.codec.DecodePayload(env.Payload, &welcome); err != nil {
		return err
	}
	if welcome.Version != c.cfg.ProtocolVersion {
		return &types.VersionMismatchError{Advertised: welcome.Version, Supported: c.cfg.ProtocolVersion}
	}

	return c.applyWelcome(ctx, welcome)
}

// applyWelcome resets the client's resync bookkeeping and applies the
// fresh state unconditionally (spec.md §4.8 scenario 6: "clients resync
// from Welcome state unconditionally" — regardless of whether this is the
// first connect or a reconnect after server restart).
func (c *Client) applyWelcome(ctx context.Context, welcome types.WelcomePayload) error {
	c.lastSeq.Store(welcome.Sequence)
	return c.applier.Apply(ctx, welcome.State, clientSource)
}

// Run starts the outbound change-forwarding queue and blocks reading
// inbound Update/Heartbeat/Error messages until the connection closes.
func (c *Client) Run(ctx context.Context) error {
	c.queue = engine.NewChangeQueueProcessor(c.appCtx.Changes(), clientSource, c.logger,
		engine.WithBufferTime(c.cfg.BufferTime),
		engine.WithWriteHandler(c.sendLocalChanges),
	)
	c.queue.Start(ctx)
	defer c.queue.Stop()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		env, err := c.codec.Decode(data)
		if err != nil {
			continue
		}
		switch env.Type {
		case types.MessageUpdate:
			c.handleUpdate(ctx, env)
		case types.MessageWelcome:
			// The in-band resync path (SendResync) asks the server for a
			// fresh Welcome over the existing connection instead of
			// reconnecting; without this case that reply is silently
			// dropped and the resync never actually applies state.
			var welcome types.WelcomePayload
			if err := c.codec.DecodePayload(env.Payload, &welcome); err != nil {
				c.logger.Printf("protocol: decoding resync welcome: %v", err)
				continue
			}
			if err := c.applyWelcome(ctx, welcome); err != nil {
				c.logger.Printf("protocol: applying resync welcome: %v", err)
			}
		case types.MessageHeartbeat:
			// Sequence reported without incrementing; nothing to apply
			// and no gap check: gaps are detected only on Update
			// (handleUpdate).
		case types.MessageError:
			var ep types.ErrorPayload
			_ = c.codec.DecodePayload(env.Payload, &ep)
			c.logger.Printf("protocol: server error [%s]: %s", ep.Code, ep.Message)
		}
	}
}

func (c *Client) handleUpdate(ctx context.Context, env types.Envelope) {
	var payload types.UpdatePayload
	if err := c.codec.DecodePayload(env.Payload, &payload); err != nil {
		c.logger.Printf("protocol: decoding update: %v", err)
		return
	}

	last := c.lastSeq.Load()
	if payload.Sequence > last+1 {
		c.gapCount.Add(1)
		c.logger.Printf("protocol: sequence gap detected (have %d, got %d), triggering resync", last, payload.Sequence)
		if c.onGap != nil {
			if err := c.onGap(c); err != nil {
				c.logger.Printf("protocol: resync failed: %v", err)
			}
		}
		return
	}
	c.lastSeq.Store(payload.Sequence)
	if err := c.applier.Apply(ctx, payload.SubjectUpdate, clientSource); err != nil {
		c.logger.Printf("protocol: applying update: %v", err)
	}
}

// sendLocalChanges is the outbound ChangeQueueProcessor's write handler: it
// builds a partial update from the batch and sends it as an Update message.
// Changes tagged with clientSource are filtered upstream by the processor
// itself (its loopback-suppression source), so only genuinely
// local/application-originated changes reach here.
func (c *Client) sendLocalChanges(ctx context.Context, batch []types.PropertyChange) error {
	update := BuildPartialFromChanges(ctx, c.root, batch)
	env := types.Envelope{Type: types.MessageUpdate, Payload: types.UpdatePayload{SubjectUpdate: update, Sequence: c.lastSeq.Load()}}
	return c.send(env)
}

func (c *Client) send(env types.Envelope) error {
	data, err := c.codec.Encode(env)
	if err != nil {
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// GapCount returns the number of sequence gaps detected so far, for tests
// and diagnostics (spec.md §8 scenario 7).
func (c *Client) GapCount() uint64 { return c.gapCount.Load() }

// LastSequence returns the last applied broadcast sequence.
func (c *Client) LastSequence() uint64 { return c.lastSeq.Load() }

// DefaultResync closes the connection so the caller's dial loop reconnects,
// which re-runs Connect and applies a fresh Welcome unconditionally (spec.md
// §4.8 "a resync (disconnect+reconnect ...)").
func DefaultResync(c *Client) error {
	return c.ws.Close()
}

// SendResync sends the supplemental Resync message (SPEC_FULL.md §9) over
// the existing connection instead of disconnecting, asking the server for
// a fresh Welcome without tearing down the socket.
func SendResync(c *Client) error {
	return c.send(types.Envelope{Type: types.MessageResync})
}
