// Command server runs a minimal HTTP listener upgrading to the WebSocket
// bridge of spec.md §4.8: one shared Person graph, broadcasting every
// change to every other connected client (scenarios 3, 4, 6, 7).
package main

import (
	"context"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/reactivegraph/interceptor/engine"
	"github.com/reactivegraph/interceptor/example/domain"
	"github.com/reactivegraph/interceptor/protocol"
	"github.com/reactivegraph/interceptor/types"
)

// serverInfo is bridge-specific bookkeeping seeded into the root subject's
// data bag (spec.md §4.1) rather than application state, purely for demo
// introspection (e.g. a future /debug endpoint reading root.Data()).
type serverInfo struct {
	Bridge        string `structs:"bridge"`
	ProtocolVer   int    `structs:"protocolVersion"`
	MaxConnection int    `structs:"maxConnections"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func personFactory(eng *engine.Context) types.SubjectFactory {
	return types.SubjectFactoryFunc(func(ctx context.Context, meta types.PropertyMetadata, typeHint string) (types.Subject, error) {
		// father/mother/children are all Person-typed in this demo graph, so
		// the factory has a single concrete type to construct regardless of
		// which property asked for it (spec.md §6 SubjectFactory).
		return domain.NewPerson(eng), nil
	})
}

func main() {
	ctx := context.Background()
	eng := engine.NewContext()

	root := domain.NewPerson(eng)
	if err := root.FirstName.Write(ctx, "Root"); err != nil {
		log.Fatal(err)
	}
	if err := eng.AttachRoot(ctx, root); err != nil {
		log.Fatal(err)
	}
	engine.SeedDataBag(root.Data(), serverInfo{Bridge: "websocket", ProtocolVer: 1, MaxConnection: 1000})

	srv := protocol.NewServer(eng, root, personFactory(eng))
	srv.Start(ctx)
	defer srv.Stop()

	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade:", err)
			return
		}
		if err := srv.ServeConn(r.Context(), conn); err != nil {
			log.Println("connection closed:", err)
		}
	})

	log.Println("listening on :8080/ws")
	log.Fatal(http.ListenAndServe(":8080", nil))
}
