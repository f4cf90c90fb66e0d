// Command cycle runs spec.md §8 scenario 2: two Persons form a mother/
// mother cycle, which the reference-count model must keep alive as long as
// either external edge holds either of them.
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/reactivegraph/interceptor/engine"
	"github.com/reactivegraph/interceptor/example/domain"
)

func main() {
	ctx := context.Background()
	eng := engine.NewContext()

	a := domain.NewPerson(eng)
	b := domain.NewPerson(eng)
	if err := eng.AttachRoot(ctx, a); err != nil {
		log.Fatal(err)
	}

	if err := a.Mother.Write(ctx, b); err != nil {
		log.Fatal(err)
	}
	if err := b.Mother.Write(ctx, a); err != nil {
		log.Fatal(err)
	}
	fmt.Println("registered subjects with cycle held:", eng.Registry().Size()) // 2

	newPerson := domain.NewPerson(eng)
	if err := a.Mother.Write(ctx, newPerson); err != nil {
		log.Fatal(err)
	}
	fmt.Println("registered subjects after re-pointing a.mother:", eng.Registry().Size()) // 2: a, newPerson (b's only holder was a.mother; once gone, b detaches and its own b.mother=a edge releases too)

	if err := a.Mother.Write(ctx, nil); err != nil {
		log.Fatal(err)
	}
	fmt.Println("registered subjects after clearing a.mother:", eng.Registry().Size())
}
