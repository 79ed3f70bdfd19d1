package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evcraddock/automark/internal/crdt"
	"github.com/evcraddock/automark/internal/repo"
)

// State is the connection lifecycle of the engine.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateSyncing
	StateIdle
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateSyncing:
		return "syncing"
	case StateIdle:
		return "idle"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ErrSyncInProgress is returned when a sync is requested while a session
// with the same peer is still running.
var ErrSyncInProgress = errors.New("sync already in progress")

// Summary reports the outcome of one completed session.
type Summary struct {
	Received crdt.MergeSummary
	Sent     int
	Rounds   int
}

// transport is the message pipe under a session. The websocket
// implementation is the only production one; tests substitute channel
// pipes.
type transport interface {
	Send(ctx context.Context, m *Message) error
	Recv(ctx context.Context) (*Message, error)
	Close() error
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Send(ctx context.Context, m *Message) error {
	data, err := EncodeMessage(m)
	if err != nil {
		return err
	}
	return t.conn.Write(ctx, websocket.MessageBinary, data)
}

func (t *wsTransport) Recv(ctx context.Context) (*Message, error) {
	kind, data, err := t.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if kind != websocket.MessageBinary {
		return nil, &ProtocolError{Reason: "expected binary frame"}
	}
	return DecodeMessage(data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "done")
}

// Options tunes the engine. Zero values pick the defaults.
type Options struct {
	// MaxRetries bounds reconnect attempts on transport failures.
	// Protocol errors are never retried.
	MaxRetries int
	// BaseBackoff is the first retry delay; it doubles per attempt.
	BaseBackoff time.Duration
	// HandshakeTimeout bounds the join round-trip.
	HandshakeTimeout time.Duration
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.MaxRetries <= 0 {
		out.MaxRetries = 5
	}
	if out.BaseBackoff <= 0 {
		out.BaseBackoff = time.Second
	}
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = 10 * time.Second
	}
	return out
}

// Engine drives client-side sync sessions for one repository.
type Engine struct {
	repo  *repo.CRDTRepository
	docID string
	opts  Options
	log   *zap.Logger

	mu      sync.Mutex
	state   State
	running bool
}

// NewEngine creates a sync engine over the given repository. docID names
// the shared document both peers must agree on.
func NewEngine(r *repo.CRDTRepository, docID string, opts Options, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		repo:  r,
		docID: docID,
		opts:  opts.withDefaults(),
		log:   log,
	}
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Sync connects to serverURL and runs one session to convergence.
// Transport failures reconnect with exponential backoff up to
// MaxRetries; a protocol error fails immediately. Only one session may
// run at a time.
func (e *Engine) Sync(ctx context.Context, serverURL string) (Summary, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return Summary{}, ErrSyncInProgress
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.state = StateClosed
		e.mu.Unlock()
	}()

	var lastErr error
	backoff := e.opts.BaseBackoff
	for attempt := 0; attempt <= e.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			e.log.Warn("sync attempt failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return Summary{}, ctx.Err()
			}
			backoff *= 2
		}

		summary, err := e.syncOnce(ctx, serverURL)
		if err == nil {
			return summary, nil
		}
		if IsProtocolError(err) || errors.Is(err, context.Canceled) {
			return Summary{}, err
		}
		lastErr = err
	}
	return Summary{}, fmt.Errorf("sync failed after %d attempts: %w", e.opts.MaxRetries+1, lastErr)
}

func (e *Engine) syncOnce(ctx context.Context, serverURL string) (Summary, error) {
	e.setState(StateConnecting)
	conn, _, err := websocket.Dial(ctx, serverURL, nil)
	if err != nil {
		e.setState(StateDisconnected)
		return Summary{}, fmt.Errorf("failed to connect to %s: %w", serverURL, err)
	}
	conn.SetReadLimit(32 << 20)
	t := &wsTransport{conn: conn}
	defer t.Close()

	summary, err := e.runSession(ctx, t)
	if err != nil {
		e.setState(StateDisconnected)
		return Summary{}, err
	}
	e.setState(StateIdle)
	return summary, nil
}

// runSession drives the client side: join handshake, then iterative
// sync rounds until both directions go quiet.
func (e *Engine) runSession(ctx context.Context, t transport) (Summary, error) {
	// Peer ids are ephemeral per session and deliberately unrelated to
	// the durable actor id.
	peerID := uuid.NewString()
	doc := e.repo.Document()
	var summary Summary

	e.setState(StateHandshaking)
	hctx, cancel := context.WithTimeout(ctx, e.opts.HandshakeTimeout)
	defer cancel()
	err := t.Send(hctx, &Message{
		Type:            MessageJoin,
		PeerID:          peerID,
		ProtocolVersion: ProtocolVersion,
		DocumentID:      e.docID,
	})
	if err != nil {
		return summary, err
	}
	reply, err := recvDocumentMessage(hctx, t)
	if err != nil {
		return summary, err
	}
	if err := checkJoin(reply, e.docID); err != nil {
		return summary, err
	}

	e.setState(StateSyncing)

	// Open the exchange with our state alone; changes start flowing once
	// we know what the peer holds.
	state, err := doc.SyncState()
	if err != nil {
		return summary, err
	}
	err = t.Send(ctx, &Message{
		Type:            MessageSync,
		PeerID:          peerID,
		ProtocolVersion: ProtocolVersion,
		SyncState:       state,
	})
	if err != nil {
		return summary, err
	}

	// The client always answers a server message, so the server is
	// guaranteed to be reading when the final empty batch arrives. The
	// opener carried only our state, never a batch, so the exchange
	// cannot finish before we have answered at least one reply.
	for {
		msg, err := recvDocumentMessage(ctx, t)
		if err != nil {
			return summary, err
		}
		if msg.Type != MessageSync {
			return summary, &ProtocolError{Reason: fmt.Sprintf("unexpected %q during sync", msg.Type)}
		}
		summary.Rounds++

		merged, err := mergeRemote(doc, msg.Changes)
		if err != nil {
			return summary, err
		}
		summary.Received.Added += merged.Added
		summary.Received.Changed += merged.Changed
		summary.Received.Deleted += merged.Deleted
		recvEmpty := len(msg.Changes) == 0

		caughtUp, err := doc.HasAllOf(msg.SyncState)
		if err != nil {
			return summary, &ProtocolError{Reason: err.Error()}
		}

		missing, err := doc.ChangesMissingFrom(msg.SyncState)
		if err != nil {
			return summary, &ProtocolError{Reason: err.Error()}
		}
		blobs, err := encodeChanges(missing)
		if err != nil {
			return summary, err
		}
		state, err := doc.SyncState()
		if err != nil {
			return summary, err
		}
		err = t.Send(ctx, &Message{
			Type:            MessageSync,
			PeerID:          peerID,
			ProtocolVersion: ProtocolVersion,
			SyncState:       state,
			Changes:         blobs,
		})
		if err != nil {
			return summary, err
		}
		summary.Sent += len(blobs)

		// Convergence fixed point: the peer sent nothing, its state
		// describes nothing we lack, and we just told it we owe it
		// nothing either.
		if len(blobs) == 0 && recvEmpty && caughtUp {
			break
		}
	}

	if summary.Received.Added+summary.Received.Changed+summary.Received.Deleted > 0 {
		if err := e.repo.Persist(); err != nil {
			return summary, err
		}
	}
	e.log.Info("sync session converged",
		zap.Int("rounds", summary.Rounds),
		zap.Int("sent", summary.Sent),
		zap.Int("received_added", summary.Received.Added),
		zap.Int("received_changed", summary.Received.Changed),
		zap.Int("received_deleted", summary.Received.Deleted))
	return summary, nil
}

// recvDocumentMessage reads the next document-relevant message, skipping
// ephemeral chatter.
func recvDocumentMessage(ctx context.Context, t transport) (*Message, error) {
	for {
		msg, err := t.Recv(ctx)
		if err != nil {
			return nil, err
		}
		if msg.Type == MessageEphemeral {
			continue
		}
		return msg, nil
	}
}

func checkJoin(m *Message, docID string) error {
	if m.Type != MessageJoin {
		return &ProtocolError{Reason: fmt.Sprintf("expected join, got %q", m.Type)}
	}
	if m.ProtocolVersion != ProtocolVersion {
		return &ProtocolError{Reason: fmt.Sprintf("protocol version mismatch: ours %s, peer %s",
			ProtocolVersion, m.ProtocolVersion)}
	}
	if docID != "" && m.DocumentID != "" && m.DocumentID != docID {
		return &ProtocolError{Reason: fmt.Sprintf("document mismatch: ours %s, peer %s",
			docID, m.DocumentID)}
	}
	return nil
}

// mergeRemote decodes and merges a change batch. A malformed batch is a
// protocol violation; the transactional merge guarantees the document is
// untouched when it fails.
func mergeRemote(doc *crdt.Document, blobs [][]byte) (crdt.MergeSummary, error) {
	if len(blobs) == 0 {
		return crdt.MergeSummary{}, nil
	}
	changes := make([]*crdt.Change, 0, len(blobs))
	for _, blob := range blobs {
		c, err := crdt.DecodeChange(blob)
		if err != nil {
			return crdt.MergeSummary{}, &ProtocolError{Reason: err.Error()}
		}
		changes = append(changes, c)
	}
	summary, err := doc.Merge(changes)
	if err != nil {
		return crdt.MergeSummary{}, &ProtocolError{Reason: err.Error()}
	}
	return summary, nil
}

func encodeChanges(changes []*crdt.Change) ([][]byte, error) {
	if len(changes) == 0 {
		return nil, nil
	}
	out := make([][]byte, 0, len(changes))
	for _, c := range changes {
		blob, err := crdt.EncodeChange(c)
		if err != nil {
			return nil, err
		}
		out = append(out, blob)
	}
	return out, nil
}
