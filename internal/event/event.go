// Package event defines the immutable industrial event model and the
// deterministic canonicalize/hash/sign pipeline that turns an Event into
// a tamper-evident SignedEvent.
package event

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Type identifies the kind of industrial event.
type Type string

// Event types.
const (
	TypeTelemetry        Type = "TELEMETRY"
	TypeAlarm            Type = "ALARM"
	TypeCommand          Type = "COMMAND"
	TypeAcknowledgement  Type = "ACKNOWLEDGEMENT"
	TypeMaintenance      Type = "MAINTENANCE"
	TypeBlueprintChange  Type = "BLUEPRINT_CHANGE"
	TypeCodeGeneration   Type = "CODE_GENERATION"
	TypeDeploymentIntent Type = "DEPLOYMENT_INTENT"
)

// Origin identifies what class of actor produced an event.
type Origin string

// Origin types.
const (
	OriginGateway Origin = "GATEWAY"
	OriginUser    Origin = "USER"
	OriginAgent   Origin = "AGENT"
	OriginSystem  Origin = "SYSTEM"
)

// Errors returned by event validation.
var (
	ErrUnknownType      = errors.New("event: unknown event type")
	ErrUnknownOrigin    = errors.New("event: unknown origin type")
	ErrMissingSiteID    = errors.New("event: site id is required")
	ErrMissingOriginID  = errors.New("event: origin id is required")
	ErrZeroTimestamp    = errors.New("event: source timestamp is required")
	ErrPayloadMismatch  = errors.New("event: payload kind does not match event type")
	ErrMissingSignature = errors.New("event: signature is required")
)

var validTypes = map[Type]bool{
	TypeTelemetry:        true,
	TypeAlarm:            true,
	TypeCommand:          true,
	TypeAcknowledgement:  true,
	TypeMaintenance:      true,
	TypeBlueprintChange:  true,
	TypeCodeGeneration:   true,
	TypeDeploymentIntent: true,
}

var validOrigins = map[Origin]bool{
	OriginGateway: true,
	OriginUser:    true,
	OriginAgent:   true,
	OriginSystem:  true,
}

// Event is an immutable fact observed somewhere in the plant. It is never
// mutated after creation; everything downstream operates on copies or on
// the derived SignedEvent.
type Event struct {
	ID              string    `json:"id"`
	Type            Type      `json:"type"`
	SiteID          string    `json:"site_id"`
	AssetID         string    `json:"asset_id,omitempty"`
	SourceTimestamp time.Time `json:"source_timestamp"`
	Origin          Origin    `json:"origin_type"`
	OriginID        string    `json:"origin_id"`
	Payload         Payload   `json:"payload,omitempty"`
	Details         string    `json:"details,omitempty"`
}

// Validate checks structural completeness. Events failing validation are
// rejected at ingestion and never reach the accumulator.
func (e *Event) Validate() error {
	if !validTypes[e.Type] {
		return fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	if e.SiteID == "" {
		return ErrMissingSiteID
	}
	if e.OriginID == "" {
		return ErrMissingOriginID
	}
	if !validOrigins[e.Origin] {
		return fmt.Errorf("%w: %q", ErrUnknownOrigin, e.Origin)
	}
	if e.SourceTimestamp.IsZero() {
		return ErrZeroTimestamp
	}
	if e.Payload != nil {
		if k := e.Payload.Kind(); k != "" && k != e.Type {
			return fmt.Errorf("%w: payload %q, event %q", ErrPayloadMismatch, k, e.Type)
		}
	}
	return nil
}

// SignedEvent is an Event plus its content hash and origin signature.
// Hash is a pure function of the event's semantic fields; Signature is
// computed over the raw hash bytes with the signer's key material.
type SignedEvent struct {
	Event
	Hash      string `json:"hash"`
	Signature []byte `json:"signature"`
	Scheme    string `json:"scheme"`
}

// HashEvent computes the lowercase-hex SHA-256 content hash over the
// event's canonical form.
func HashEvent(e *Event) (string, error) {
	canonical, err := Canonicalize(e)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// NewSignedEvent validates, hashes, and signs an event. It is pure given
// (event, signer): no clock reads beyond the event's own SourceTimestamp,
// no randomness. Identical inputs yield identical hash and signature.
func NewSignedEvent(e Event, s Signer) (*SignedEvent, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	hash, err := HashEvent(&e)
	if err != nil {
		return nil, err
	}
	digest, err := hex.DecodeString(hash)
	if err != nil {
		return nil, err
	}
	sig, err := s.Sign(digest)
	if err != nil {
		return nil, fmt.Errorf("sign event: %w", err)
	}
	return &SignedEvent{
		Event:     e,
		Hash:      hash,
		Signature: sig,
		Scheme:    s.Scheme(),
	}, nil
}

// HashBytes decodes a lowercase-hex content hash into raw digest bytes.
func HashBytes(hash string) ([]byte, error) {
	b, err := hex.DecodeString(hash)
	if err != nil {
		return nil, fmt.Errorf("event: malformed hash %q: %w", hash, err)
	}
	if len(b) != sha256.Size {
		return nil, fmt.Errorf("event: hash must be %d bytes, got %d", sha256.Size, len(b))
	}
	return b, nil
}
