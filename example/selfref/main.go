// Command selfref runs spec.md §8 scenario 1 end to end: a Person made its
// own father, then detached, observing the registry's reference-counted
// reachability at each step.
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

	person := domain.NewPerson(eng)
	if err := person.FirstName.Write(ctx, "N"); err != nil {
		log.Fatal(err)
	}
	if err := eng.AttachRoot(ctx, person); err != nil {
		log.Fatal(err)
	}
	fmt.Println("registered subjects after attach:", eng.Registry().Size()) // 1

	if err := person.Father.Write(ctx, person); err != nil {
		log.Fatal(err)
	}
	fmt.Println("registered subjects after self-reference:", eng.Registry().Size()) // still 1

	rs, _ := eng.Registry().Lookup(person)
	rp, _ := rs.Property("father")
	fmt.Println("father.children length:", len(rp.Children())) // 1

	if err := person.Father.Write(ctx, nil); err != nil {
		log.Fatal(err)
	}
	if err := eng.DetachRoot(ctx, person); err != nil {
		log.Fatal(err)
	}
	fmt.Println("registered subjects after detach:", eng.Registry().Size()) // 0
}
