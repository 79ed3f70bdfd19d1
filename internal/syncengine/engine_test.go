package syncengine

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evcraddock/automark/internal/crdt"
	"github.com/evcraddock/automark/internal/repo"
)

// pipeTransport is an in-process transport half built on channels.
type pipeTransport struct {
	in  <-chan *Message
	out chan<- *Message
}

func newPipe() (client, server *pipeTransport) {
	toServer := make(chan *Message, 16)
	toClient := make(chan *Message, 16)
	return &pipeTransport{in: toClient, out: toServer},
		&pipeTransport{in: toServer, out: toClient}
}

func (p *pipeTransport) Send(ctx context.Context, m *Message) error {
	select {
	case p.out <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeTransport) Recv(ctx context.Context) (*Message, error) {
	select {
	case m, ok := <-p.in:
		if !ok {
			return nil, io.EOF
		}
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeTransport) Close() error { return nil }

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func seedBookmark(t *testing.T, r *repo.CRDTRepository, id, title string) {
	t.Helper()
	_, err := r.Document().ApplyLocal(crdt.Op{
		Kind:           crdt.OpCreate,
		BookmarkID:     id,
		URL:            "https://example.com/" + id,
		Title:          title,
		BookmarkedDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
}

func TestSessionConvergesBothWays(t *testing.T) {
	ctx := testCtx(t)
	clientRepo := repo.NewMemory("client-actor")
	serverRepo := repo.NewMemory("server-actor")
	seedBookmark(t, clientRepo, "bm-client", "Client Side")
	seedBookmark(t, serverRepo, "bm-server", "Server Side")

	clientT, serverT := newPipe()
	srv := NewServer(serverRepo, "bookmarks", nil)
	srvDone := make(chan error, 1)
	go func() { srvDone <- srv.serveSession(ctx, serverT) }()

	engine := NewEngine(clientRepo, "bookmarks", Options{}, nil)
	summary, err := engine.runSession(ctx, clientT)
	require.NoError(t, err)
	require.NoError(t, <-srvDone)

	assert.Equal(t, 1, summary.Received.Added)
	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t,
		clientRepo.Document().Snapshot(),
		serverRepo.Document().Snapshot(),
		"both replicas must hold the same collection after one session")
}

func TestPushToIdleServer(t *testing.T) {
	// local edits, server with nothing new: the session must still
	// deliver the local changes before reporting convergence
	ctx := testCtx(t)
	clientRepo := repo.NewMemory("client-actor")
	serverRepo := repo.NewMemory("server-actor")
	seedBookmark(t, clientRepo, "bm-local", "Edited Offline")

	clientT, serverT := newPipe()
	srv := NewServer(serverRepo, "bookmarks", nil)
	srvDone := make(chan error, 1)
	go func() { srvDone <- srv.serveSession(ctx, serverT) }()

	engine := NewEngine(clientRepo, "bookmarks", Options{}, nil)
	summary, err := engine.runSession(ctx, clientT)
	require.NoError(t, err)
	require.NoError(t, <-srvDone)

	assert.Equal(t, 1, summary.Sent)
	assert.Zero(t, summary.Received)
	require.Len(t, serverRepo.Document().Snapshot(), 1)
	assert.Equal(t, "Edited Offline", serverRepo.Document().Snapshot()[0].Title)
}

func TestSessionWithNothingToExchange(t *testing.T) {
	ctx := testCtx(t)
	clientRepo := repo.NewMemory("client-actor")
	serverRepo := repo.NewMemory("server-actor")

	clientT, serverT := newPipe()
	srv := NewServer(serverRepo, "bookmarks", nil)
	srvDone := make(chan error, 1)
	go func() { srvDone <- srv.serveSession(ctx, serverT) }()

	engine := NewEngine(clientRepo, "bookmarks", Options{}, nil)
	summary, err := engine.runSession(ctx, clientT)
	require.NoError(t, err)
	require.NoError(t, <-srvDone)
	assert.Zero(t, summary.Sent)
	assert.Zero(t, summary.Received)
}

func TestSessionIsIdempotent(t *testing.T) {
	ctx := testCtx(t)
	clientRepo := repo.NewMemory("client-actor")
	serverRepo := repo.NewMemory("server-actor")
	seedBookmark(t, clientRepo, "bm1", "Once")

	for i := 0; i < 2; i++ {
		clientT, serverT := newPipe()
		srv := NewServer(serverRepo, "bookmarks", nil)
		srvDone := make(chan error, 1)
		go func() { srvDone <- srv.serveSession(ctx, serverT) }()

		engine := NewEngine(clientRepo, "bookmarks", Options{}, nil)
		summary, err := engine.runSession(ctx, clientT)
		require.NoError(t, err)
		require.NoError(t, <-srvDone)
		if i == 1 {
			assert.Zero(t, summary.Sent, "second session has nothing left to send")
		}
	}
	assert.Len(t, serverRepo.Document().Snapshot(), 1)
}

func TestProtocolVersionMismatch(t *testing.T) {
	ctx := testCtx(t)
	clientT, serverT := newPipe()

	go func() {
		// a peer speaking a future protocol revision
		msg, _ := serverT.Recv(ctx)
		_ = serverT.Send(ctx, &Message{
			Type:            MessageJoin,
			PeerID:          "imposter",
			ProtocolVersion: "99",
			DocumentID:      msg.DocumentID,
		})
	}()

	engine := NewEngine(repo.NewMemory("client-actor"), "bookmarks", Options{}, nil)
	_, err := engine.runSession(ctx, clientT)
	require.Error(t, err)
	assert.True(t, IsProtocolError(err))
	assert.Contains(t, err.Error(), "version mismatch")
}

func TestDocumentMismatch(t *testing.T) {
	ctx := testCtx(t)
	clientT, serverT := newPipe()

	go func() {
		_, _ = serverT.Recv(ctx)
		_ = serverT.Send(ctx, &Message{
			Type:            MessageJoin,
			PeerID:          "other",
			ProtocolVersion: ProtocolVersion,
			DocumentID:      "someone-elses-bookmarks",
		})
	}()

	engine := NewEngine(repo.NewMemory("client-actor"), "bookmarks", Options{}, nil)
	_, err := engine.runSession(ctx, clientT)
	assert.True(t, IsProtocolError(err))
}

func TestMalformedBatchLeavesDocumentUntouched(t *testing.T) {
	ctx := testCtx(t)
	clientRepo := repo.NewMemory("client-actor")
	seedBookmark(t, clientRepo, "bm1", "Mine")
	clientT, serverT := newPipe()

	go func() {
		_, _ = serverT.Recv(ctx) // join
		_ = serverT.Send(ctx, &Message{
			Type: MessageJoin, PeerID: "p", ProtocolVersion: ProtocolVersion, DocumentID: "bookmarks",
		})
		_, _ = serverT.Recv(ctx) // opening sync
		_ = serverT.Send(ctx, &Message{
			Type: MessageSync, PeerID: "p", ProtocolVersion: ProtocolVersion,
			Changes: [][]byte{[]byte("garbage")},
		})
	}()

	engine := NewEngine(clientRepo, "bookmarks", Options{}, nil)
	_, err := engine.runSession(ctx, clientT)
	assert.True(t, IsProtocolError(err))
	assert.Len(t, clientRepo.Document().Changes(), 1, "garbage batch must not touch the log")
}

func TestEphemeralMessagesIgnored(t *testing.T) {
	ctx := testCtx(t)
	clientRepo := repo.NewMemory("client-actor")
	serverRepo := repo.NewMemory("server-actor")
	seedBookmark(t, serverRepo, "bm1", "From Server")

	clientT, serverT := newPipe()
	// presence chatter sprinkled ahead of the handshake reply
	require.NoError(t, clientTSendEphemeral(ctx, serverT))

	srv := NewServer(serverRepo, "bookmarks", nil)
	srvDone := make(chan error, 1)
	go func() { srvDone <- srv.serveSession(ctx, serverT) }()

	engine := NewEngine(clientRepo, "bookmarks", Options{}, nil)
	summary, err := engine.runSession(ctx, clientT)
	require.NoError(t, err)
	require.NoError(t, <-srvDone)
	assert.Equal(t, 1, summary.Received.Added)
}

func clientTSendEphemeral(ctx context.Context, serverT *pipeTransport) error {
	return serverT.Send(ctx, &Message{
		Type: MessageEphemeral, PeerID: "p", ProtocolVersion: ProtocolVersion,
	})
}

func TestSyncRetriesTransportErrors(t *testing.T) {
	engine := NewEngine(repo.NewMemory("client-actor"), "bookmarks", Options{
		MaxRetries:  1,
		BaseBackoff: time.Millisecond,
	}, nil)

	// nothing listens here; every dial fails
	_, err := engine.Sync(testCtx(t), "ws://127.0.0.1:1/sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.False(t, IsProtocolError(err))
}

func TestSyncOverWebsocket(t *testing.T) {
	ctx := testCtx(t)
	clientRepo := repo.NewMemory("client-actor")
	serverRepo := repo.NewMemory("server-actor")
	seedBookmark(t, clientRepo, "bm-ws", "Over The Wire")

	srv := NewServer(serverRepo, "bookmarks", nil)
	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	require.NoError(t, srv.Start(serverCtx, "127.0.0.1:0"))

	engine := NewEngine(clientRepo, "bookmarks", Options{MaxRetries: 1}, nil)
	summary, err := engine.Sync(ctx, "ws://"+srv.Addr()+"/sync")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	assert.Len(t, serverRepo.Document().Snapshot(), 1)

	stopServer()
	srv.Wait()
}

func TestMessageRoundTrip(t *testing.T) {
	m := &Message{
		Type:            MessageSync,
		PeerID:          "peer-1",
		ProtocolVersion: ProtocolVersion,
		SyncState:       []byte{0xa0},
		Changes:         [][]byte{{0x01}, {0x02}},
	}
	data, err := EncodeMessage(m)
	require.NoError(t, err)
	got, err := DecodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, m, got)

	_, err = DecodeMessage([]byte{0xff, 0x00})
	var pe *ProtocolError
	assert.True(t, errors.As(err, &pe))
}
