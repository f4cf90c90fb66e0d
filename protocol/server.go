package protocol

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/reactivegraph/interceptor/engine"
	"github.com/reactivegraph/interceptor/types"
)

// ServerConfig carries the defaults spec.md §6 tabulates for the WebSocket
// bridge. Mirrors the teacher's functional-options Config pattern
// (types/config.go) rather than a long constructor parameter list.
type ServerConfig struct {
	HelloTimeout      time.Duration
	HeartbeatInterval time.Duration // 0 disables heartbeats
	BroadcastTimeout  time.Duration
	MaxMessageSize    int64
	MaxConnections    int
	MaxPendingUpdates int
	ProtocolVersion   int
	Format            string
}

// ServerOption configures a ServerConfig.
type ServerOption func(*ServerConfig)

func WithHelloTimeout(d time.Duration) ServerOption      { return func(c *ServerConfig) { c.HelloTimeout = d } }
func WithHeartbeatInterval(d time.Duration) ServerOption { return func(c *ServerConfig) { c.HeartbeatInterval = d } }
func WithBroadcastTimeout(d time.Duration) ServerOption  { return func(c *ServerConfig) { c.BroadcastTimeout = d } }
func WithMaxMessageSize(n int64) ServerOption            { return func(c *ServerConfig) { c.MaxMessageSize = n } }
func WithMaxConnections(n int) ServerOption              { return func(c *ServerConfig) { c.MaxConnections = n } }
func WithMaxPendingUpdates(n int) ServerOption           { return func(c *ServerConfig) { c.MaxPendingUpdates = n } }

// NewServerConfig returns the spec.md §6 defaults, as overridden by opts.
func NewServerConfig(opts ...ServerOption) ServerConfig {
	c := ServerConfig{
		HelloTimeout:      10 * time.Second,
		HeartbeatInterval: 0,
		BroadcastTimeout:  5 * time.Second,
		MaxMessageSize:    10 << 20,
		MaxConnections:    1000,
		MaxPendingUpdates: 1000,
		ProtocolVersion:   1,
		Format:            "json",
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Server is the concrete WebSocket bridge of spec.md §4.8: it welcomes
// connections with a consistent snapshot, assigns a monotonically
// increasing sequence to every broadcast Update, and demotes misbehaving
// connections to "zombie" rather than letting one slow peer stall the
// others.
//
// Grounded on the teacher's chain_engine.go dispatch loop (bittoy-rule
// engine/chain_engine.go): one central owner serializes the operations that
// must not race (there: rule-chain execution; here: sequence assignment and
// snapshot building) while individual connections run their own read/write
// pumps concurrently, the same split as the teacher's per-chain goroutines
// feeding into one shared context.
type Server struct {
	appCtx *engine.Context
	root   types.Subject
	codec  types.Codec
	cfg    ServerConfig
	logger *log.Logger

	applier *Applier

	// seqMu serializes broadcast sequence assignment and snapshot building
	// (spec.md §5 "one mutex serializes broadcast sequence assignment and
	// snapshot building"), distinct from any per-subject write mutex.
	seqMu    sync.Mutex
	sequence uint64

	connsMu sync.RWMutex
	conns   map[string]*serverConn

	queue *engine.ChangeQueueProcessor
}

// serverSource is the ChangeSource used by the server's own aggregate
// change-queue processor. It is never assigned to any inbound apply, so the
// processor's own loopback filter (spec.md §4.7) never suppresses anything
// — filtering "don't echo a change back to the connection that sent it"
// happens at broadcast time instead, keyed by each PropertyChange's actual
// Source (the originating connection's id).
const serverSource types.ChangeSource = "protocol-server"

// NewServer constructs a WebSocket bridge rooted at root, broadcasting
// changes observed on appCtx's change stream. factory is used by the
// applier when an inbound Update references a subject id the server has
// not seen before.
func NewServer(appCtx *engine.Context, root types.Subject, factory types.SubjectFactory, opts ...ServerOption) *Server {
	s := &Server{
		appCtx:  appCtx,
		root:    root,
		codec:   NewJSONCodec(),
		cfg:     NewServerConfig(opts...),
		logger:  appCtx.Config().Logger,
		applier: NewApplier(appCtx, factory),
		conns:   make(map[string]*serverConn),
	}
	s.applier.Index(root)

	s.queue = engine.NewChangeQueueProcessor(appCtx.Changes(), serverSource, s.logger,
		engine.WithBufferTime(8*time.Millisecond),
		engine.WithWriteHandler(s.onChangeBatch),
	)
	return s
}

// Start begins consuming the change stream for broadcast. Call before
// accepting connections.
func (s *Server) Start(ctx context.Context) { s.queue.Start(ctx) }

// Stop halts the broadcast queue and closes every connection.
func (s *Server) Stop() {
	s.queue.Stop()
	s.connsMu.Lock()
	conns := make([]*serverConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = make(map[string]*serverConn)
	s.connsMu.Unlock()
	for _, c := range conns {
		c.closeGracefully()
	}
}

// onChangeBatch is the ChangeQueueProcessor write handler: it groups a
// coalesced batch by originating source (so a batch mixing an
// application-originated write with a connection-applied one produces
// separate broadcasts, each correctly excluding only its own origin) and
// broadcasts one Update per group.
func (s *Server) onChangeBatch(ctx context.Context, batch []types.PropertyChange) error {
	groups := make(map[types.ChangeSource][]types.PropertyChange)
	for _, c := range batch {
		groups[c.Source] = append(groups[c.Source], c)
	}
	for source, changes := range groups {
		update := BuildPartialFromChanges(ctx, s.root, changes)
		exclude := ""
		if source != types.NoSource {
			exclude = string(source)
		}
		s.broadcast(update, exclude)
	}
	return nil
}

// ServeConn runs the full handshake and connection lifecycle for one
// accepted *websocket.Conn, blocking until the connection closes. Intended
// to be called from an http.HandlerFunc after upgrading the request.
func (s *Server) ServeConn(ctx context.Context, ws *websocket.Conn) error {
	ws.SetReadLimit(s.cfg.MaxMessageSize)

	s.connsMu.RLock()
	full := len(s.conns) >= s.cfg.MaxConnections
	s.connsMu.RUnlock()
	if full {
		s.sendError(ws, "", "capacity", "server at max_connections")
		return ws.Close()
	}

	hello, corrID, err := s.awaitHello(ws)
	if err != nil {
		return err
	}
	if hello.Version != s.cfg.ProtocolVersion {
		s.sendError(ws, corrID, "version_mismatch", fmt.Sprintf("advertised=%d supported=%d", hello.Version, s.cfg.ProtocolVersion))
		ws.Close()
		return &types.VersionMismatchError{Advertised: hello.Version, Supported: s.cfg.ProtocolVersion}
	}

	conn := newServerConn(s, ws)

	// Register-before-welcome (spec.md §4.8): any broadcast concurrent
	// with snapshot-building below is buffered against this connection
	// instead of being silently missed.
	s.connsMu.Lock()
	s.conns[conn.id] = conn
	s.connsMu.Unlock()

	snapshot, seq := s.snapshotAndSequence(ctx)
	welcome := types.Envelope{
		Type: types.MessageWelcome,
		Payload: types.WelcomePayload{
			Version:  s.cfg.ProtocolVersion,
			Format:   s.cfg.Format,
			State:    snapshot,
			Sequence: seq,
		},
	}
	if err := conn.sendEnvelope(welcome); err != nil {
		s.removeConn(conn.id)
		return err
	}
	conn.markWelcomed(seq)
	conn.drainPending()

	if s.cfg.HeartbeatInterval > 0 {
		go conn.heartbeatLoop(s.cfg.HeartbeatInterval)
	}
	return conn.readPump(ctx)
}

// snapshotAndSequence builds a complete snapshot and reads the current
// sequence atomically, so welcome.sequence equals the server's sequence at
// the instant the snapshot was taken (spec.md §4.8).
func (s *Server) snapshotAndSequence(ctx context.Context) (types.SubjectUpdate, uint64) {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	snapshot := BuildSnapshot(ctx, s.appCtx.Registry(), s.root)
	return snapshot, s.sequence
}

// awaitHello reads the first message within HelloTimeout and requires it be
// a well-formed Hello.
func (s *Server) awaitHello(ws *websocket.Conn) (types.HelloPayload, string, error) {
	ws.SetReadDeadline(time.Now().Add(s.cfg.HelloTimeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		s.sendError(ws, "", "timeout", "hello not received in time")
		ws.Close()
		return types.HelloPayload{}, "", &types.TimeoutError{Operation: "hello"}
	}
	env, err := s.codec.Decode(data)
	if err != nil {
		s.sendError(ws, "", "invalid_format", err.Error())
		ws.Close()
		return types.HelloPayload{}, "", err
	}
	if env.Type != types.MessageHello {
		s.sendError(ws, env.CorrelationID, "invalid_format", "expected hello")
		ws.Close()
		return types.HelloPayload{}, "", &types.ProtocolError{Code: "invalid_format", Message: "expected hello, got " + string(env.Type)}
	}
	var hello types.HelloPayload
	if err := s.codec.DecodePayload(env.Payload, &hello); err != nil {
		s.sendError(ws, env.CorrelationID, "invalid_format", err.Error())
		ws.Close()
		return types.HelloPayload{}, "", err
	}
	ws.SetReadDeadline(time.Time{})
	return hello, env.CorrelationID, nil
}

func (s *Server) sendError(ws *websocket.Conn, corrID, code, message string) {
	env := types.Envelope{Type: types.MessageError, CorrelationID: corrID, Payload: types.ErrorPayload{Code: code, Message: message}}
	data, err := s.codec.Encode(env)
	if err != nil {
		return
	}
	_ = ws.WriteMessage(websocket.TextMessage, data)
}

// broadcast assigns the next sequence number and sends the Update to every
// connection except excludeConnID (the connection an inbound change
// originated from, if any), so no change echoes back to its origin
// (spec.md §4.8 scenario 3, I5).
func (s *Server) broadcast(update types.SubjectUpdate, excludeConnID string) {
	s.seqMu.Lock()
	s.sequence++
	seq := s.sequence
	s.seqMu.Unlock()

	env := types.Envelope{Type: types.MessageUpdate, Payload: types.UpdatePayload{SubjectUpdate: update, Sequence: seq}}

	s.connsMu.RLock()
	conns := make([]*serverConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.RUnlock()

	for _, c := range conns {
		if c.id == excludeConnID {
			continue
		}
		if c.isZombie() {
			s.removeConn(c.id)
			continue
		}
		c.deliver(env, seq)
	}
}

func (s *Server) removeConn(id string) {
	s.connsMu.Lock()
	delete(s.conns, id)
	s.connsMu.Unlock()
}

// applyInbound applies a client-originated Update, tagging writes with the
// connection's id as ChangeSource so they are excluded from the broadcast
// this same change triggers (via onChangeBatch/broadcast above).
func (s *Server) applyInbound(ctx context.Context, connID string, update types.SubjectUpdate) error {
	return s.applier.Apply(ctx, update, types.ChangeSource(connID))
}

// Sequence returns the server's current broadcast sequence, for tests and
// diagnostics.
func (s *Server) Sequence() uint64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	return s.sequence
}
