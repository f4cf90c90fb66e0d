package protocol_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/reactivegraph/interceptor/engine"
	"github.com/reactivegraph/interceptor/example/domain"
	"github.com/reactivegraph/interceptor/protocol"
)

// newTestServer starts an httptest server upgrading every request to the
// protocol.Server's handshake/broadcast loop, rooted at a fresh attached
// Person. Returns the server, its root, and the ws:// URL to dial.
func newTestServer(t *testing.T) (*protocol.Server, *domain.Person, string) {
	t.Helper()
	ctx := context.Background()
	eng := engine.NewContext()
	root := domain.NewPerson(eng)
	if err := root.FirstName.Write(ctx, "Root"); err != nil {
		t.Fatalf("Write(firstName): %v", err)
	}
	if err := eng.AttachRoot(ctx, root); err != nil {
		t.Fatalf("AttachRoot: %v", err)
	}

	srv := protocol.NewServer(eng, root, personFactory(eng))
	srv.Start(ctx)
	t.Cleanup(srv.Stop)

	upgrader := websocket.Upgrader{}
	httpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = srv.ServeConn(r.Context(), conn)
	}))
	t.Cleanup(httpSrv.Close)

	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	return srv, root, url
}

func dialAndConnect(t *testing.T, url string) (*engine.Context, *domain.Person, *protocol.Client) {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })

	eng := engine.NewContext()
	root := domain.NewPerson(eng)
	if err := eng.AttachRoot(context.Background(), root); err != nil {
		t.Fatalf("AttachRoot: %v", err)
	}

	client := protocol.NewClient(eng, root, personFactory(eng), ws)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return eng, root, client
}

// TestWelcomeAppliesSnapshot runs spec.md §8 scenario 3: a client connecting
// receives the server's current state in its Welcome.
func TestWelcomeAppliesSnapshot(t *testing.T) {
	_, _, url := newTestServer(t)
	_, clientRoot, client := dialAndConnect(t, url)

	got, err := clientRoot.FirstName.Read(context.Background())
	if err != nil {
		t.Fatalf("Read(firstName): %v", err)
	}
	if got != "Root" {
		t.Fatalf("firstName after welcome = %q, want %q", got, "Root")
	}
	if client.LastSequence() != 0 {
		t.Fatalf("initial sequence = %d, want 0 (no broadcasts yet)", client.LastSequence())
	}
}

// TestBroadcastReachesOtherClientsNotOrigin runs spec.md §8 scenario 3/4
// and invariant I5: a change applied by one client is broadcast to every
// other connected client, with an identical sequence, and never echoed
// back to the connection it came from.
func TestBroadcastReachesOtherClientsNotOrigin(t *testing.T) {
	_, _, url := newTestServer(t)
	engA, rootA, clientA := dialAndConnect(t, url)
	_, rootB, clientB := dialAndConnect(t, url)

	ctxA := context.Background()
	go clientA.Run(ctxA)
	ctxB := context.Background()
	go clientB.Run(ctxB)

	time.Sleep(50 * time.Millisecond) // let both Run loops start reading

	if err := rootA.FirstName.Write(ctxA, "Changed-by-A"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_ = engA

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := rootB.FirstName.Read(ctxB)
		if got == "Changed-by-A" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	got, err := rootB.FirstName.Read(ctxB)
	if err != nil {
		t.Fatalf("Read(firstName) on B: %v", err)
	}
	if got != "Changed-by-A" {
		t.Fatalf("B.firstName = %q, want %q (broadcast from A)", got, "Changed-by-A")
	}

	// A's own root must not have been rewritten by an echo of its own change.
	gotA, _ := rootA.FirstName.Read(ctxA)
	if gotA != "Changed-by-A" {
		t.Fatalf("A.firstName = %q, want unchanged %q (no self-echo)", gotA, "Changed-by-A")
	}
}

// TestServerSequenceIncreasesMonotonically checks the sequencing half of
// spec.md §8 invariant I5: the server's broadcast sequence is higher after
// a series of broadcast writes than before them.
func TestServerSequenceIncreasesMonotonically(t *testing.T) {
	srv, root, url := newTestServer(t)
	_, _, client := dialAndConnect(t, url)
	go client.Run(context.Background())
	time.Sleep(50 * time.Millisecond)

	before := srv.Sequence()
	ctx := context.Background()
	for _, n := range []string{"one", "two", "three"} {
		if err := root.FirstName.Write(ctx, n); err != nil {
			t.Fatalf("Write(%q): %v", n, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	after := srv.Sequence()
	if after <= before {
		t.Fatalf("sequence did not advance: before=%d after=%d", before, after)
	}
}
