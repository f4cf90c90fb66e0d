package protocol_test

import (
	"context"
	"testing"

	"github.com/reactivegraph/interceptor/engine"
	"github.com/reactivegraph/interceptor/example/domain"
	"github.com/reactivegraph/interceptor/protocol"
	"github.com/reactivegraph/interceptor/types"
)

func personFactory(receiverCtx *engine.Context) types.SubjectFactory {
	return types.SubjectFactoryFunc(func(ctx context.Context, meta types.PropertyMetadata, typeHint string) (types.Subject, error) {
		return domain.NewPerson(receiverCtx), nil
	})
}

// TestBuildSnapshotThenApplyReproducesValues runs spec.md §8 invariant
// L1/L2: a complete snapshot captures every reachable subject's current
// property values, and applying it back reproduces them unchanged.
func TestBuildSnapshotThenApplyReproducesValues(t *testing.T) {
	ctx := context.Background()
	eng := engine.NewContext()
	root := domain.NewPerson(eng)
	if err := eng.AttachRoot(ctx, root); err != nil {
		t.Fatalf("AttachRoot: %v", err)
	}
	if err := root.FirstName.Write(ctx, "Ada"); err != nil {
		t.Fatalf("Write(firstName): %v", err)
	}

	snapshot := protocol.BuildSnapshot(ctx, eng.Registry(), root)
	if snapshot.Root != root.Id() {
		t.Fatalf("snapshot.Root = %q, want %q", snapshot.Root, root.Id())
	}
	pu, ok := snapshot.Subjects[root.Id()]["firstName"]
	if !ok {
		t.Fatal("snapshot missing firstName for root")
	}
	if pu.Value != "Ada" {
		t.Fatalf("snapshot firstName value = %v, want %q", pu.Value, "Ada")
	}

	if err := root.FirstName.Write(ctx, "Overwritten"); err != nil {
		t.Fatalf("Write(firstName, Overwritten): %v", err)
	}

	applier := protocol.NewApplier(eng, personFactory(eng))
	applier.Index(root)
	if err := applier.Apply(ctx, snapshot, types.NoSource); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got, err := root.FirstName.Read(ctx)
	if err != nil {
		t.Fatalf("Read(firstName): %v", err)
	}
	if got != "Ada" {
		t.Fatalf("firstName after re-applying the snapshot = %q, want %q", got, "Ada")
	}
}

// TestApplyIsIdempotent runs spec.md §8 invariant I3: applying the same
// update twice leaves the graph in the same state as applying it once,
// because every write runs through the standard Equality interceptor.
func TestApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	receiver := engine.NewContext()
	root := domain.NewPerson(receiver)
	if err := receiver.AttachRoot(ctx, root); err != nil {
		t.Fatalf("AttachRoot: %v", err)
	}
	applier := protocol.NewApplier(receiver, personFactory(receiver))
	applier.Index(root)

	update := types.NewSubjectUpdate(root.Id())
	update.Put(root.Id(), "firstName", types.PropertyUpdate{Kind: types.UpdateValue, Value: "Grace"})

	if err := applier.Apply(ctx, update, types.NoSource); err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	first, _ := root.FirstName.Read(ctx)

	if err := applier.Apply(ctx, update, types.NoSource); err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	second, _ := root.FirstName.Read(ctx)

	if first != second || second != "Grace" {
		t.Fatalf("firstName after two applies = %q, %q, want both %q", first, second, "Grace")
	}
}

// TestApplySkipsTypeMismatchAndContinues runs spec.md §7: a single
// malformed property update is logged and skipped, not fatal to the rest
// of the update.
func TestApplySkipsTypeMismatchAndContinues(t *testing.T) {
	ctx := context.Background()
	receiver := engine.NewContext()
	root := domain.NewPerson(receiver)
	if err := receiver.AttachRoot(ctx, root); err != nil {
		t.Fatalf("AttachRoot: %v", err)
	}
	applier := protocol.NewApplier(receiver, personFactory(receiver))
	applier.Index(root)

	update := types.NewSubjectUpdate(root.Id())
	// localFlag declared bool; a map value cannot decode into it via
	// mapstructure.Decode, so this entry should be skipped.
	update.Put(root.Id(), "localFlag", types.PropertyUpdate{Kind: types.UpdateValue, Value: map[string]any{"nope": true}})
	update.Put(root.Id(), "firstName", types.PropertyUpdate{Kind: types.UpdateValue, Value: "Still Applied"})

	if err := applier.Apply(ctx, update, types.NoSource); err != nil {
		t.Fatalf("Apply returned error, want the mismatch to be skipped: %v", err)
	}
	got, err := root.FirstName.Read(ctx)
	if err != nil {
		t.Fatalf("Read(firstName): %v", err)
	}
	if got != "Still Applied" {
		t.Fatalf("firstName = %q, want %q (applied despite the sibling mismatch)", got, "Still Applied")
	}
}

// TestBuildSnapshotThenApplyReproducesChildrenCollection runs spec.md §8
// scenario 4's shape (array sync) but for a subject-valued collection
// rather than plain ints: a root's children survive a snapshot round trip
// into a receiver that starts out with none.
func TestBuildSnapshotThenApplyReproducesChildrenCollection(t *testing.T) {
	ctx := context.Background()
	sender := engine.NewContext()
	root := domain.NewPerson(sender)
	c1 := domain.NewPerson(sender)
	c2 := domain.NewPerson(sender)
	if err := sender.AttachRoot(ctx, root); err != nil {
		t.Fatalf("AttachRoot: %v", err)
	}
	if err := root.Children.Write(ctx, []*domain.Person{c1, c2}); err != nil {
		t.Fatalf("Write(children): %v", err)
	}
	if err := c1.FirstName.Write(ctx, "One"); err != nil {
		t.Fatalf("Write(c1.firstName): %v", err)
	}
	if err := c2.FirstName.Write(ctx, "Two"); err != nil {
		t.Fatalf("Write(c2.firstName): %v", err)
	}

	snapshot := protocol.BuildSnapshot(ctx, sender.Registry(), root)
	if pu := snapshot.Subjects[root.Id()]["children"]; pu.Kind != types.UpdateValue {
		t.Fatalf("children update kind = %v, want %v", pu.Kind, types.UpdateValue)
	}

	receiver := engine.NewContext()
	recvRoot := domain.NewPerson(receiver)
	if err := receiver.AttachRoot(ctx, recvRoot); err != nil {
		t.Fatalf("AttachRoot (receiver): %v", err)
	}
	applier := protocol.NewApplier(receiver, personFactory(receiver))
	applier.Index(recvRoot)
	if err := applier.Apply(ctx, snapshot, types.NoSource); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	got, err := recvRoot.Children.Read(ctx)
	if err != nil {
		t.Fatalf("Read(children): %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("children length = %d, want 2", len(got))
	}
	name0, _ := got[0].FirstName.Read(ctx)
	name1, _ := got[1].FirstName.Read(ctx)
	if name0 != "One" || name1 != "Two" {
		t.Fatalf("children firstNames = %q, %q, want %q, %q", name0, name1, "One", "Two")
	}
	if receiver.Registry().Size() != 3 {
		t.Fatalf("receiver registry size = %d, want 3 (root + 2 children)", receiver.Registry().Size())
	}
}

// TestJSONCodecEnvelopeRoundTrip verifies the three-element array envelope
// survives an encode/decode cycle (spec.md §4.8).
func TestJSONCodecEnvelopeRoundTrip(t *testing.T) {
	codec := protocol.NewJSONCodec()
	env := types.Envelope{
		Type:          types.MessageHello,
		CorrelationID: "abc-123",
		Payload:       types.HelloPayload{Version: 1, Format: "json"},
	}
	data, err := codec.Encode(env)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := codec.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Type != types.MessageHello || decoded.CorrelationID != "abc-123" {
		t.Fatalf("decoded envelope = %+v, want type=hello correlationId=abc-123", decoded)
	}
	var hello types.HelloPayload
	if err := codec.DecodePayload(decoded.Payload, &hello); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if hello.Version != 1 || hello.Format != "json" {
		t.Fatalf("decoded payload = %+v, want version=1 format=json", hello)
	}
}
