package protocol

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"

	"github.com/reactivegraph/interceptor/types"
)

// pendingEntry is one buffered broadcast Update awaiting delivery once a
// connection's Welcome has been sent (spec.md §4.8 "While Welcome is
// pending, incoming broadcast Updates are buffered per-connection").
type pendingEntry struct {
	env types.Envelope
	seq uint64
}

// serverConn is the server's per-connection state: the socket, its send
// mutex (spec.md §5 "a per-connection send mutex serializes writes on each
// socket"), the pre-welcome buffer, and the consecutive-failure counter
// that promotes it to zombie.
type serverConn struct {
	id     string
	server *Server
	ws     *websocket.Conn

	sendMu sync.Mutex

	welcomedMu sync.Mutex
	welcomed   bool
	welcomeSeq uint64
	pending    []pendingEntry

	failuresMu sync.Mutex
	failures   int
	zombie     bool
}

func newServerConn(s *Server, ws *websocket.Conn) *serverConn {
	id, err := uuid.NewV4()
	idStr := ""
	if err == nil {
		idStr = id.String()
	}
	return &serverConn{id: idStr, server: s, ws: ws}
}

func (c *serverConn) sendEnvelope(env types.Envelope) error {
	data, err := c.server.codec.Encode(env)
	if err != nil {
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(c.server.cfg.BroadcastTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.recordFailure()
		return err
	}
	c.resetFailures()
	return nil
}

func (c *serverConn) recordFailure() {
	c.failuresMu.Lock()
	defer c.failuresMu.Unlock()
	c.failures++
	if c.failures >= 3 {
		c.zombie = true
	}
}

func (c *serverConn) resetFailures() {
	c.failuresMu.Lock()
	defer c.failuresMu.Unlock()
	c.failures = 0
}

func (c *serverConn) isZombie() bool {
	c.failuresMu.Lock()
	defer c.failuresMu.Unlock()
	return c.zombie
}

func (c *serverConn) markZombie() {
	c.failuresMu.Lock()
	defer c.failuresMu.Unlock()
	c.zombie = true
}

// markWelcomed records the sequence the Welcome carried. Deliveries that
// arrive concurrently with snapshot-building were buffered (deliver, below)
// and are drained and filtered against this sequence next.
func (c *serverConn) markWelcomed(seq uint64) {
	c.welcomedMu.Lock()
	defer c.welcomedMu.Unlock()
	c.welcomed = true
	c.welcomeSeq = seq
}

// deliver sends env if the connection has already been welcomed, or
// buffers it (bounded; overflow marks the connection zombie rather than
// dropping the oldest entry, per spec.md §4.8/§9) if Welcome has not yet
// been sent.
func (c *serverConn) deliver(env types.Envelope, seq uint64) {
	c.welcomedMu.Lock()
	welcomed := c.welcomed
	if !welcomed {
		if len(c.pending) >= c.server.cfg.MaxPendingUpdates {
			c.welcomedMu.Unlock()
			c.markZombie()
			return
		}
		c.pending = append(c.pending, pendingEntry{env: env, seq: seq})
		c.welcomedMu.Unlock()
		return
	}
	c.welcomedMu.Unlock()

	if err := c.sendEnvelope(env); err != nil {
		c.server.logger.Printf("protocol: send failed to %s: %v", c.id, err)
	}
}

// drainPending flushes the pre-welcome buffer, filtered so that only
// entries with sequence > welcomeSeq are actually delivered (spec.md §4.8:
// "the buffer is drained filtered so that only entries with sequence >
// welcome.sequence are delivered").
func (c *serverConn) drainPending() {
	c.welcomedMu.Lock()
	buffered := c.pending
	c.pending = nil
	welcomeSeq := c.welcomeSeq
	c.welcomedMu.Unlock()

	for _, entry := range buffered {
		if entry.seq <= welcomeSeq {
			continue
		}
		if err := c.sendEnvelope(entry.env); err != nil {
			c.server.logger.Printf("protocol: send failed draining buffer to %s: %v", c.id, err)
		}
	}
}

func (c *serverConn) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if c.isZombie() {
			return
		}
		env := types.Envelope{Type: types.MessageHeartbeat, Payload: types.HeartbeatPayload{Sequence: c.server.Sequence()}}
		if err := c.sendEnvelope(env); err != nil {
			return
		}
	}
}

// readPump processes inbound Update/Resync messages until the connection
// closes or a malformed envelope is received (spec.md §7 ProtocolError,
// "malformed envelope -> Error(InvalidFormat) then Close, with a short
// grace period for the close handshake; on peer abort the connection is
// discarded without error").
func (c *serverConn) readPump(ctx context.Context) error {
	defer c.server.removeConn(c.id)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return nil // peer abort: discarded without error
			}
			return nil
		}
		env, err := c.server.codec.Decode(data)
		if err != nil {
			c.server.sendError(c.ws, "", "invalid_format", err.Error())
			return c.closeGracefully()
		}
		switch env.Type {
		case types.MessageUpdate:
			var payload types.UpdatePayload
			if err := c.server.codec.DecodePayload(env.Payload, &payload); err != nil {
				c.server.sendError(c.ws, env.CorrelationID, "invalid_format", err.Error())
				continue
			}
			if err := c.server.applyInbound(ctx, c.id, payload.SubjectUpdate); err != nil {
				c.server.logger.Printf("protocol: applying inbound update from %s: %v", c.id, err)
			}
		case types.MessageResync:
			snapshot, seq := c.server.snapshotAndSequence(ctx)
			welcome := types.Envelope{
				Type: types.MessageWelcome,
				Payload: types.WelcomePayload{
					Version:  c.server.cfg.ProtocolVersion,
					Format:   c.server.cfg.Format,
					State:    snapshot,
					Sequence: seq,
				},
			}
			c.markWelcomed(seq)
			if err := c.sendEnvelope(welcome); err != nil {
				return nil
			}
			c.drainPending()
		default:
			c.server.sendError(c.ws, env.CorrelationID, "invalid_format", "unexpected message type "+string(env.Type))
		}
	}
}

// closeGracefully sends a close frame and waits briefly for the peer's
// handshake response before abandoning the connection (spec.md §5
// cancellation: "sockets are closed gracefully with a 2-second ceiling
// before abort").
func (c *serverConn) closeGracefully() error {
	c.sendMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(2*time.Second))
	c.sendMu.Unlock()
	time.AfterFunc(2*time.Second, func() { c.ws.Close() })
	return nil
}
