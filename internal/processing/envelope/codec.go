// Package envelope decodes and encodes the event envelope shared by every topic.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/vietddude/collector/internal/core/domain"
)

const (
	// DefaultSource is stamped on every outbound event.
	DefaultSource = "exception-collector-service"

	// OutboundVersion is the envelope version of outbound events.
	OutboundVersion = "1.0"

	supportedVersions = ">= 1.0, < 2.0"
	schemaURL         = "envelope.schema.json"
)

var (
	// ErrUnknownEventType is returned for an eventType with no registered decoder.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrUnsupportedVersion is returned when eventVersion is outside the accepted range.
	ErrUnsupportedVersion = errors.New("unsupported event version")
)

const envelopeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["eventId", "eventType", "eventVersion", "occurredOn", "payload"],
  "properties": {
    "eventId":       {"type": "string", "minLength": 1},
    "eventType":     {"type": "string", "minLength": 1},
    "eventVersion":  {"type": "string", "minLength": 1},
    "occurredOn":    {"type": "string", "minLength": 1},
    "source":        {"type": "string"},
    "correlationId": {"type": "string"},
    "causationId":   {"type": "string"},
    "payload": {
      "type": "object",
      "required": ["transactionId"],
      "properties": {
        "transactionId": {"type": "string", "minLength": 1}
      }
    }
  }
}`

type decodeFunc func(payload []byte) (domain.InboundEvent, error)

func decoderFor[T any, P interface {
	*T
	domain.InboundEvent
}]() decodeFunc {
	return func(payload []byte) (domain.InboundEvent, error) {
		var v T
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		return P(&v), nil
	}
}

// Codec validates inbound envelopes and builds outbound ones.
type Codec struct {
	schema   *jsonschema.Schema
	versions *semver.Constraints
	decoders map[domain.EventType]decodeFunc
	source   string
	now      func() time.Time
}

// NewCodec compiles the envelope schema. An empty source uses DefaultSource.
func NewCodec(source string) (*Codec, error) {
	if source == "" {
		source = DefaultSource
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(schemaURL, strings.NewReader(envelopeSchema)); err != nil {
		return nil, fmt.Errorf("failed to load envelope schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile envelope schema: %w", err)
	}

	versions, err := semver.NewConstraint(supportedVersions)
	if err != nil {
		return nil, fmt.Errorf("failed to parse version constraint: %w", err)
	}

	return &Codec{
		schema:   schema,
		versions: versions,
		source:   source,
		now:      time.Now,
		decoders: map[domain.EventType]decodeFunc{
			domain.EventOrderRejected:      decoderFor[domain.OrderRejected](),
			domain.EventOrderCancelled:     decoderFor[domain.OrderCancelled](),
			domain.EventCollectionRejected: decoderFor[domain.CollectionRejected](),
			domain.EventDistributionFailed: decoderFor[domain.DistributionFailed](),
			domain.EventValidationError:    decoderFor[domain.ValidationError](),
		},
	}, nil
}

// Decode validates raw bytes as an envelope and decodes its payload into the
// variant registered for its eventType.
func (c *Codec) Decode(raw []byte) (*domain.Envelope, domain.InboundEvent, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, fmt.Errorf("invalid json: %w", err)
	}
	if err := c.schema.Validate(doc); err != nil {
		return nil, nil, fmt.Errorf("invalid envelope: %w", err)
	}

	var env domain.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, fmt.Errorf("invalid envelope: %w", err)
	}

	v, err := semver.NewVersion(env.EventVersion)
	if err != nil || !c.versions.Check(v) {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, env.EventVersion)
	}

	decode, ok := c.decoders[env.EventType]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.EventType)
	}
	ev, err := decode(env.Payload)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid %s payload: %w", env.EventType, err)
	}
	return &env, ev, nil
}

// Encode wraps payload in a fresh outbound envelope.
func (c *Codec) Encode(eventType domain.EventType, payload any, correlationID, causationID string) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	env := domain.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  OutboundVersion,
		OccurredOn:    c.now().UTC(),
		Source:        c.source,
		CorrelationID: correlationID,
		CausationID:   causationID,
		Payload:       body,
	}
	return json.Marshal(env)
}
