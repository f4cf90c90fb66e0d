// Command client dials the bridge server, applies its Welcome snapshot,
// writes a local change, and reports any sequence gaps it detects — the
// client half of spec.md §8 scenarios 3, 4, 6, 7.
package main

import (
	"context"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/reactivegraph/interceptor/engine"
	"github.com/reactivegraph/interceptor/example/domain"
	"github.com/reactivegraph/interceptor/protocol"
	"github.com/reactivegraph/interceptor/types"
)

func personFactory(eng *engine.Context) types.SubjectFactory {
	return types.SubjectFactoryFunc(func(ctx context.Context, meta types.PropertyMetadata, typeHint string) (types.Subject, error) {
		return domain.NewPerson(eng), nil
	})
}

func main() {
	ctx := context.Background()
	eng := engine.NewContext()

	root := domain.NewPerson(eng)
	if err := eng.AttachRoot(ctx, root); err != nil {
		log.Fatal(err)
	}

	ws, _, err := websocket.DefaultDialer.Dial("ws://localhost:8080/ws", nil)
	if err != nil {
		log.Fatal(err)
	}
	defer ws.Close()

	client := protocol.NewClient(eng, root, personFactory(eng), ws)
	if err := client.Connect(ctx); err != nil {
		log.Fatal(err)
	}
	name, _ := root.FirstName.Read(ctx)
	log.Println("welcomed, root.firstName:", name, "sequence:", client.LastSequence())

	go func() {
		if err := client.Run(ctx); err != nil {
			log.Println("connection ended:", err)
		}
	}()

	time.Sleep(200 * time.Millisecond)
	if err := root.FirstName.Write(ctx, "Changed-by-client"); err != nil {
		log.Fatal(err)
	}

	time.Sleep(2 * time.Second)
	log.Println("sequence gaps observed:", client.GapCount())
}
