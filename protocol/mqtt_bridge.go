package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"reflect"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/reactivegraph/interceptor/engine"
	"github.com/reactivegraph/interceptor/types"
)

// mqttSource tags writes the MQTT bridge applies from an inbound publish,
// so they do not echo back out over the same bridge (spec.md §4.7 loopback
// suppression, generalized to a second transport — SPEC_FULL.md §3).
const mqttSource types.ChangeSource = "mqtt-bridge"

// MQTTBridge publishes PropertyChange batches from a ChangeQueueProcessor
// onto per-property MQTT topics, and applies inbound publishes back onto
// the object graph. It demonstrates that spec.md §6's bridge interfaces
// (ChangeStream subscription, ChangeQueueProcessor, PathProvider) are
// transport-agnostic: this bridge shares the exact same ChangeQueueProcessor
// type the WebSocket bridge's outbound path uses, just with a different
// write handler.
//
// Grounded on the teacher's direct paho.mqtt.golang dependency (go.mod),
// unexercised in the retrieved slice — a natural IoT-facing sibling
// transport for a rule/interception engine, per SPEC_FULL.md §3.
type MQTTBridge struct {
	appCtx  *engine.Context
	root    types.Subject
	client  mqtt.Client
	paths   types.PathProvider
	topicOf func(path string) string
	logger  *log.Logger

	applier *Applier
	queue   *engine.ChangeQueueProcessor
}

// MQTTBridgeOption configures an MQTTBridge.
type MQTTBridgeOption func(*MQTTBridge)

// WithTopicFunc overrides how a property's canonical path is mapped to an
// MQTT topic. The default prefixes with "subjects/".
func WithTopicFunc(fn func(path string) string) MQTTBridgeOption {
	return func(b *MQTTBridge) { b.topicOf = fn }
}

// NewMQTTBridge constructs a bridge publishing changes under root via
// client, using paths the PathProvider resolves (properties PathProvider
// excludes, per spec.md §6, are never published).
func NewMQTTBridge(appCtx *engine.Context, root types.Subject, client mqtt.Client, paths types.PathProvider, factory types.SubjectFactory, opts ...MQTTBridgeOption) *MQTTBridge {
	b := &MQTTBridge{
		appCtx:  appCtx,
		root:    root,
		client:  client,
		paths:   paths,
		logger:  appCtx.Config().Logger,
		applier: NewApplier(appCtx, factory),
		topicOf: func(path string) string { return "subjects/" + path },
	}
	b.applier.Index(root)

	b.queue = engine.NewChangeQueueProcessor(appCtx.Changes(), mqttSource, b.logger,
		engine.WithBufferTime(8*time.Millisecond),
		engine.WithPropertyFilter(b.includeProperty),
		engine.WithWriteHandler(b.publishBatch),
	)
	return b
}

func (b *MQTTBridge) includeProperty(ref types.PropertyReference) bool {
	if b.paths == nil {
		return true
	}
	_, ok := b.paths.Path(ref)
	return ok
}

// Start begins consuming the change stream and publishing.
func (b *MQTTBridge) Start(ctx context.Context) { b.queue.Start(ctx) }

// Stop halts the outbound queue.
func (b *MQTTBridge) Stop() { b.queue.Stop() }

// publishBatch is the ChangeQueueProcessor write handler: one retained MQTT
// publish per changed property, JSON-encoded, QoS 1.
func (b *MQTTBridge) publishBatch(ctx context.Context, batch []types.PropertyChange) error {
	for _, change := range batch {
		path := b.pathFor(change.Property)
		if path == "" {
			continue
		}
		payload, err := json.Marshal(change.NewValue)
		if err != nil {
			b.logger.Printf("mqtt: marshaling %s: %v", change.Property, err)
			continue
		}
		token := b.client.Publish(b.topicOf(path), 1, true, payload)
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			return fmt.Errorf("publishing %s: %w", path, token.Error())
		}
	}
	return nil
}

func (b *MQTTBridge) pathFor(ref types.PropertyReference) string {
	if b.paths == nil {
		return ref.Property
	}
	path, ok := b.paths.Path(ref)
	if !ok {
		return ""
	}
	return path
}

// Subscribe subscribes to the write-back topic for a property path,
// decoding inbound publishes as JSON and applying them under mqttSource so
// the resulting change is not re-published by this same bridge. The decoded
// value is written through appCtx.Write rather than meta.Writer directly, so
// an inbound publish runs the same equality-gate/parent-tracking/lifecycle/
// validation/change-publication chain a local write does (spec.md §4.2,
// §4.3) — calling the raw terminal writer would silently skip all of it.
func (b *MQTTBridge) Subscribe(ctx context.Context, path string, subject types.Subject, property string) error {
	topic := b.topicOf(path)
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		meta, ok := subject.Metadata(property)
		if !ok || meta.Writer == nil {
			return
		}
		dst := reflect.New(meta.ValueType)
		if err := json.Unmarshal(msg.Payload(), dst.Interface()); err != nil {
			b.logger.Printf("mqtt: decoding %s: %v", topic, err)
			return
		}
		writeCtx := types.WithChangeSource(ctx, mqttSource)
		if err := b.appCtx.Write(writeCtx, subject, property, dst.Elem().Interface()); err != nil {
			b.logger.Printf("mqtt: applying %s: %v", topic, err)
		}
	}
	token := b.client.Subscribe(topic, 1, handler)
	token.Wait()
	return token.Error()
}
