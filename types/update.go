package types

// PropertyUpdateKind tags the PropertyUpdate variant carried in a
// SubjectUpdate (spec.md §4.8).
type PropertyUpdateKind string

const (
	// UpdateValue carries a property's full serialized value. For a
	// subject-valued property the payload is the string id of the
	// referenced subject, which must be a key in the enclosing
	// SubjectUpdate.Subjects map. For collection/map-valued properties the
	// payload is an ordered slice or a map; elements follow the same rule.
	UpdateValue PropertyUpdateKind = "value"
	// UpdateCollectionItem carries one incremental collection element:
	// {index, value}.
	UpdateCollectionItem PropertyUpdateKind = "collection_item"
	// UpdateMapItem carries one incremental map element: {key, value}.
	UpdateMapItem PropertyUpdateKind = "map_item"
	// UpdateAbsence marks a property as removed.
	UpdateAbsence PropertyUpdateKind = "absence"
)

// PropertyUpdate is one property's contribution to a SubjectUpdate.
type PropertyUpdate struct {
	Kind PropertyUpdateKind `json:"kind"`
	// Value holds the payload for UpdateValue. Scalars and subject ids
	// are carried directly; ordered collections as []any; maps as
	// map[string]any (JSON object keys are always strings, per spec.md
	// §4.8 MapItem.Key).
	Value any `json:"value,omitempty"`
	// Index is set for UpdateCollectionItem.
	Index *int `json:"index,omitempty"`
	// Key is set for UpdateMapItem.
	Key *string `json:"key,omitempty"`
}

// SubjectUpdate is a wire-format-agnostic, flat, id-keyed partial or
// complete snapshot of a subject graph (spec.md §4.8). Subject ids are
// stable only within one SubjectUpdate; there is no cross-message identity.
type SubjectUpdate struct {
	// Root is the stringified subject id of the update's root.
	Root string `json:"root"`
	// Subjects maps subject-id -> property-name -> PropertyUpdate.
	Subjects map[string]map[string]PropertyUpdate `json:"subjects"`
}

// NewSubjectUpdate returns an empty SubjectUpdate rooted at root.
func NewSubjectUpdate(root string) SubjectUpdate {
	return SubjectUpdate{Root: root, Subjects: make(map[string]map[string]PropertyUpdate)}
}

// Put records one property update for a subject id, creating the subject's
// entry if necessary.
func (u *SubjectUpdate) Put(subjectID, property string, update PropertyUpdate) {
	if u.Subjects == nil {
		u.Subjects = make(map[string]map[string]PropertyUpdate)
	}
	bag, ok := u.Subjects[subjectID]
	if !ok {
		bag = make(map[string]PropertyUpdate)
		u.Subjects[subjectID] = bag
	}
	bag[property] = update
}

// MessageType enumerates the wire envelope's message kinds (spec.md §4.8).
type MessageType string

const (
	MessageHello      MessageType = "hello"
	MessageWelcome    MessageType = "welcome"
	MessageUpdate     MessageType = "update"
	MessageHeartbeat  MessageType = "heartbeat"
	MessageError      MessageType = "error"
	MessageResync     MessageType = "resync" // supplemental, see SPEC_FULL.md §9
)

// Envelope is the 3-tuple [type, correlation-id-or-none, payload] every
// wire message is wrapped in (spec.md §4.8).
type Envelope struct {
	Type          MessageType `json:"type"`
	CorrelationID string      `json:"correlationId,omitempty"`
	Payload       any         `json:"payload"`
}

// HelloPayload is the client->server Hello payload.
type HelloPayload struct {
	Version int    `json:"version"`
	Format  string `json:"format"`
}

// WelcomePayload is the server->client Welcome payload.
type WelcomePayload struct {
	Version  int           `json:"version"`
	Format   string        `json:"format"`
	State    SubjectUpdate `json:"state"`
	Sequence uint64        `json:"sequence"`
}

// UpdatePayload carries a (possibly partial) SubjectUpdate plus the
// broadcast sequence it was assigned.
type UpdatePayload struct {
	SubjectUpdate
	Sequence uint64 `json:"sequence"`
}

// HeartbeatPayload reports the server's current sequence without
// incrementing it.
type HeartbeatPayload struct {
	Sequence uint64 `json:"sequence"`
}

// ErrorPayload carries a machine-readable code plus a human message.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Codec serializes and deserializes envelopes for one wire format. JSON is
// the default (protocol/codec.go); it is pluggable per spec.md §4.8.
type Codec interface {
	Encode(env Envelope) ([]byte, error)
	// Decode parses the envelope and leaves Payload as a raw, codec-typed
	// value (e.g. map[string]any for JSON); callers re-decode Payload into
	// a concrete *Payload struct once they know the Type.
	Decode(data []byte) (Envelope, error)
	// DecodePayload re-decodes a raw, codec-typed payload into dst.
	DecodePayload(raw any, dst any) error
	Name() string
}
