package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/reactivegraph/interceptor/types"
)

// JSONCodec is the default wire codec: a three-element JSON array envelope
// `[type, correlation-id-or-null, payload]` (spec.md §4.8). Kept distinct
// from types.Envelope's Go-side field names so the wire shape stays exactly
// the compact array form regardless of how the envelope struct evolves.
type JSONCodec struct{}

func NewJSONCodec() *JSONCodec { return &JSONCodec{} }

func (c *JSONCodec) Name() string { return "json" }

type wireEnvelope [3]json.RawMessage

func (c *JSONCodec) Encode(env types.Envelope) ([]byte, error) {
	typeJSON, err := json.Marshal(env.Type)
	if err != nil {
		return nil, err
	}
	var corrJSON json.RawMessage
	if env.CorrelationID == "" {
		corrJSON = json.RawMessage("null")
	} else {
		corrJSON, err = json.Marshal(env.CorrelationID)
		if err != nil {
			return nil, err
		}
	}
	payloadJSON, err := json.Marshal(env.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEnvelope{typeJSON, corrJSON, payloadJSON})
}

func (c *JSONCodec) Decode(data []byte) (types.Envelope, error) {
	var raw [3]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return types.Envelope{}, &types.ProtocolError{Code: "bad_envelope", Message: err.Error()}
	}
	var msgType types.MessageType
	if err := json.Unmarshal(raw[0], &msgType); err != nil {
		return types.Envelope{}, &types.ProtocolError{Code: "bad_envelope", Message: "invalid type: " + err.Error()}
	}
	var correlationID string
	if len(raw[1]) > 0 && string(raw[1]) != "null" {
		if err := json.Unmarshal(raw[1], &correlationID); err != nil {
			return types.Envelope{}, &types.ProtocolError{Code: "bad_envelope", Message: "invalid correlation id: " + err.Error()}
		}
	}

	var payload any
	if err := json.Unmarshal(raw[2], &payload); err != nil {
		return types.Envelope{}, &types.ProtocolError{Code: "bad_envelope", Message: "invalid payload: " + err.Error()}
	}

	return types.Envelope{Type: msgType, CorrelationID: correlationID, Payload: payload}, nil
}

// DecodePayload converts an Envelope.Payload (as produced by Decode — a
// generic map[string]any from encoding/json) into a concrete payload
// struct, e.g. *types.WelcomePayload. Uses mapstructure rather than a
// marshal/remarshal round trip, the same decode-loosely-typed-maps
// approach the teacher's dynamic msg.Data handling favors.
func (c *JSONCodec) DecodePayload(raw any, dst any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           dst,
		WeaklyTypedInput: true,
		TagName:          "json",
		// UpdatePayload embeds SubjectUpdate; encoding/json flattens its
		// fields into the payload object, so decode them the same way.
		Squash: true,
	})
	if err != nil {
		return fmt.Errorf("building payload decoder: %w", err)
	}
	return decoder.Decode(raw)
}

var _ types.Codec = (*JSONCodec)(nil)
