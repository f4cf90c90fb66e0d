// Command derived runs spec.md §8 scenario 5: writing source re-derives
// computed only while localFlag is false, demonstrating that the recorded
// dependency set shrinks once the short-circuit branch starts firing.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/reactivegraph/interceptor/engine"
	"github.com/reactivegraph/interceptor/example/domain"
)

// settle gives the derived-property registry's background goroutine
// (engine/derived.go, spec.md §4.5) a moment to drain the change stream and
// recompute before the next read — recomputation after the first is
// asynchronous, not part of the write call itself.
func settle() { time.Sleep(10 * time.Millisecond) }

func main() {
	ctx := context.Background()
	eng := engine.NewContext()

	person := domain.NewPerson(eng)
	if err := eng.AttachRoot(ctx, person); err != nil {
		log.Fatal(err)
	}

	computed, err := person.Computed.Read(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("computed with localFlag=false, source=false:", computed) // false

	if err := person.Source.Write(ctx, true); err != nil {
		log.Fatal(err)
	}
	settle()
	computed, _ = person.Computed.Read(ctx)
	fmt.Println("computed after source=true:", computed) // true, derived from source

	if err := person.LocalFlag.Write(ctx, true); err != nil {
		log.Fatal(err)
	}
	settle()
	computed, _ = person.Computed.Read(ctx)
	fmt.Println("computed after localFlag=true:", computed) // true, short-circuited before reading source

	// source no longer contributes to computed once localFlag short-circuits
	// it, so flipping source back to false must not change computed.
	if err := person.Source.Write(ctx, false); err != nil {
		log.Fatal(err)
	}
	settle()
	computed, _ = person.Computed.Read(ctx)
	fmt.Println("computed after source=false (still short-circuited):", computed) // true

	// Writing computed itself routes through its setter, which only ever
	// touches localFlag.
	if err := person.Computed.Write(ctx, false); err != nil {
		log.Fatal(err)
	}
	local, _ := person.LocalFlag.Read(ctx)
	fmt.Println("localFlag after computed=false:", local) // false
}
