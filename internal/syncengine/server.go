package syncengine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evcraddock/automark/internal/repo"
)

// Server accepts websocket sync sessions against its own repository. It
// is the hub replica: every connected peer converges with it, and
// through it with each other.
type Server struct {
	repo  *repo.CRDTRepository
	docID string
	log   *zap.Logger

	// IdleTimeout closes a session whose peer stops talking.
	IdleTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	httpSrv  *http.Server
	wg       sync.WaitGroup
}

// NewServer creates a sync server over the given repository.
func NewServer(r *repo.CRDTRepository, docID string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		repo:        r,
		docID:       docID,
		log:         log,
		IdleTimeout: 60 * time.Second,
	}
}

// Start listens on addr and serves until ctx is cancelled. It returns
// once the listener is up; use Wait to block for shutdown.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/sync", func(w http.ResponseWriter, r *http.Request) {
		s.handleSync(ctx, w, r)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	srv := &http.Server{Handler: mux}
	s.mu.Lock()
	s.listener = ln
	s.httpSrv = srv
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("sync server stopped", zap.Error(err))
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("sync server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Wait blocks until the server has fully shut down.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) handleSync(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(32 << 20)
	t := &wsTransport{conn: conn}
	defer t.Close()

	if err := s.serveSession(ctx, t); err != nil {
		if isPeerGone(err) {
			return
		}
		s.log.Warn("sync session ended with error", zap.Error(err))
		return
	}
}

// serveSession drives the server side of one session: answer the join,
// then respond to each sync round until both directions go quiet.
func (s *Server) serveSession(ctx context.Context, t transport) error {
	doc := s.repo.Document()
	peerID := uuid.NewString()

	join, err := s.recvWithIdle(ctx, t)
	if err != nil {
		return err
	}
	if err := checkJoin(join, s.docID); err != nil {
		return err
	}
	err = t.Send(ctx, &Message{
		Type:            MessageJoin,
		PeerID:          peerID,
		ProtocolVersion: ProtocolVersion,
		DocumentID:      s.docID,
	})
	if err != nil {
		return err
	}
	s.log.Info("peer joined", zap.String("peer", join.PeerID))

	merged := false
	sentEmpty := false
	for {
		msg, err := s.recvWithIdle(ctx, t)
		if err != nil {
			return err
		}
		if msg.Type != MessageSync {
			return &ProtocolError{Reason: fmt.Sprintf("unexpected %q during sync", msg.Type)}
		}

		summary, err := mergeRemote(doc, msg.Changes)
		if err != nil {
			return err
		}
		if summary.Added+summary.Changed+summary.Deleted > 0 {
			merged = true
		}
		recvEmpty := len(msg.Changes) == 0

		// Convergence fixed point: our previous answer was empty, the
		// peer's final batch is empty, and it holds nothing we lack.
		// The peer hangs up after that batch, so it must not be
		// answered again.
		caughtUp, err := doc.HasAllOf(msg.SyncState)
		if err != nil {
			return &ProtocolError{Reason: err.Error()}
		}
		if sentEmpty && recvEmpty && caughtUp {
			break
		}

		missing, err := doc.ChangesMissingFrom(msg.SyncState)
		if err != nil {
			return &ProtocolError{Reason: err.Error()}
		}
		blobs, err := encodeChanges(missing)
		if err != nil {
			return err
		}
		state, err := doc.SyncState()
		if err != nil {
			return err
		}
		err = t.Send(ctx, &Message{
			Type:            MessageSync,
			PeerID:          peerID,
			ProtocolVersion: ProtocolVersion,
			SyncState:       state,
			Changes:         blobs,
		})
		if err != nil {
			return err
		}
		sentEmpty = len(blobs) == 0
	}

	if merged {
		if err := s.repo.Persist(); err != nil {
			return err
		}
	}
	s.log.Info("peer converged", zap.String("peer", join.PeerID))
	return nil
}

// recvWithIdle reads the next document message, enforcing the idle
// timeout and skipping ephemeral frames.
func (s *Server) recvWithIdle(ctx context.Context, t transport) (*Message, error) {
	rctx, cancel := context.WithTimeout(ctx, s.IdleTimeout)
	defer cancel()
	return recvDocumentMessage(rctx, t)
}

// isPeerGone reports a peer that hung up cleanly or vanished, which is
// the normal end of a session from the server's point of view.
func isPeerGone(err error) bool {
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
		websocket.CloseStatus(err) == websocket.StatusGoingAway {
		return true
	}
	return errors.Is(err, net.ErrClosed) || errors.Is(err, context.Canceled)
}
