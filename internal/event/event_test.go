package event

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testSigner(t *testing.T) Signer {
	t.Helper()
	s, err := NewHMACSigner([]byte("shared-test-key"))
	if err != nil {
		t.Fatalf("new hmac signer: %v", err)
	}
	return s
}

func baseEvent() Event {
	return Event{
		ID:              "evt-001",
		Type:            TypeTelemetry,
		SiteID:          "plant-7",
		AssetID:         "pump-12",
		SourceTimestamp: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		Origin:          OriginGateway,
		OriginID:        "gw-01",
		Payload:         TelemetryPayload{Metric: "flow_rate", Value: 42.5, Unit: "m3/h", Quality: "good"},
	}
}

func TestHashIsDeterministic(t *testing.T) {
	e := baseEvent()
	h1, err := HashEvent(&e)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, err := HashEvent(&e)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("same event hashed differently: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("hash must be 64 hex chars, got %d", len(h1))
	}
}

func TestHashIgnoresEventID(t *testing.T) {
	// The ID is an ingestion handle, not a semantic field.
	a := baseEvent()
	b := baseEvent()
	b.ID = "completely-different"

	ha, _ := HashEvent(&a)
	hb, _ := HashEvent(&b)
	if ha != hb {
		t.Fatal("event id must not influence the content hash")
	}
}

func TestHashCoversEverySemanticField(t *testing.T) {
	base := baseEvent()
	baseHash, err := HashEvent(&base)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	mutations := map[string]func(*Event){
		"type":             func(e *Event) { e.Type = TypeAlarm; e.Payload = nil },
		"site_id":          func(e *Event) { e.SiteID = "plant-8" },
		"asset_id":         func(e *Event) { e.AssetID = "pump-13" },
		"source_timestamp": func(e *Event) { e.SourceTimestamp = e.SourceTimestamp.Add(time.Nanosecond) },
		"origin_type":      func(e *Event) { e.Origin = OriginSystem },
		"origin_id":        func(e *Event) { e.OriginID = "gw-02" },
		"payload":          func(e *Event) { e.Payload = TelemetryPayload{Metric: "flow_rate", Value: 42.6} },
		"details":          func(e *Event) { e.Details = "recalibrated" },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			e := baseEvent()
			mutate(&e)
			h, err := HashEvent(&e)
			if err != nil {
				t.Fatalf("hash: %v", err)
			}
			if h == baseHash {
				t.Fatalf("mutating %s did not change the hash", name)
			}
		})
	}
}

func TestMapPayloadKeyOrderIndependence(t *testing.T) {
	// Two JSON encodings of the same object, keys in different order,
	// must decode to payloads that canonicalize identically.
	p1, err := DecodePayload("CUSTOM", []byte(`{"a":1,"b":{"x":true,"y":"z"},"c":[1,2]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	p2, err := DecodePayload("CUSTOM", []byte(`{"c":[1,2],"b":{"y":"z","x":true},"a":1}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	e1 := baseEvent()
	e1.Type = TypeCommand
	e1.Payload = CommandPayload{Command: "noop", Parameters: map[string]any(p1.(MapPayload))}
	e2 := baseEvent()
	e2.Type = TypeCommand
	e2.Payload = CommandPayload{Command: "noop", Parameters: map[string]any(p2.(MapPayload))}

	h1, _ := HashEvent(&e1)
	h2, _ := HashEvent(&e2)
	if h1 != h2 {
		t.Fatal("map key order must not influence the content hash")
	}
}

func TestCanonicalizeRejectsUnsupportedValue(t *testing.T) {
	e := baseEvent()
	e.Type = TypeCommand
	e.Payload = CommandPayload{Command: "set", Parameters: map[string]any{"ch": make(chan int)}}
	if _, err := HashEvent(&e); err == nil {
		t.Fatal("unsupported payload value must be rejected")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Event)
		want   error
	}{
		{"valid", func(e *Event) {}, nil},
		{"unknown type", func(e *Event) { e.Type = "BOGUS" }, ErrUnknownType},
		{"missing site", func(e *Event) { e.SiteID = "" }, ErrMissingSiteID},
		{"missing origin id", func(e *Event) { e.OriginID = "" }, ErrMissingOriginID},
		{"unknown origin", func(e *Event) { e.Origin = "ROBOT" }, ErrUnknownOrigin},
		{"zero timestamp", func(e *Event) { e.SourceTimestamp = time.Time{} }, ErrZeroTimestamp},
		{"payload mismatch", func(e *Event) { e.Payload = AlarmPayload{AlarmCode: "A1", Severity: "high"} }, ErrPayloadMismatch},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := baseEvent()
			tc.mutate(&e)
			err := e.Validate()
			if tc.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestNewSignedEventHMAC(t *testing.T) {
	s := testSigner(t)
	se, err := NewSignedEvent(baseEvent(), s)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if se.Scheme != "hmac-sha256" {
		t.Fatalf("scheme = %q", se.Scheme)
	}

	digest, err := HashBytes(se.Hash)
	if err != nil {
		t.Fatalf("hash bytes: %v", err)
	}
	if !s.Verify(digest, se.Signature) {
		t.Fatal("signature must verify over the raw digest")
	}

	// A different key must not verify.
	other, _ := NewHMACSigner([]byte("other-key"))
	if other.Verify(digest, se.Signature) {
		t.Fatal("signature verified under the wrong key")
	}
}

func TestNewSignedEventEd25519(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	s, err := NewEd25519Signer(priv)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	se, err := NewSignedEvent(baseEvent(), s)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if se.Scheme != "ed25519" {
		t.Fatalf("scheme = %q", se.Scheme)
	}

	verifier, err := NewEd25519Verifier(pub)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	digest, _ := HashBytes(se.Hash)
	if !verifier.Verify(digest, se.Signature) {
		t.Fatal("verify-only instance must accept the signature")
	}
	if _, err := verifier.Sign(digest); !errors.Is(err, ErrNoPrivateKey) {
		t.Fatalf("verify-only Sign: got %v, want ErrNoPrivateKey", err)
	}

	digest[0] ^= 0x01
	if verifier.Verify(digest, se.Signature) {
		t.Fatal("tampered digest must not verify")
	}
}

func TestNewSignedEventRejectsInvalid(t *testing.T) {
	e := baseEvent()
	e.SiteID = ""
	if _, err := NewSignedEvent(e, testSigner(t)); !errors.Is(err, ErrMissingSiteID) {
		t.Fatalf("got %v, want ErrMissingSiteID", err)
	}
}

func TestDecodePayloadTyped(t *testing.T) {
	p, err := DecodePayload(TypeAlarm, []byte(`{"alarm_code":"OVERTEMP","severity":"critical","active":true}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ap, ok := p.(AlarmPayload)
	if !ok {
		t.Fatalf("got %T, want AlarmPayload", p)
	}
	if ap.AlarmCode != "OVERTEMP" || !ap.Active {
		t.Fatalf("unexpected payload: %+v", ap)
	}
}

func TestDecodePayloadEmpty(t *testing.T) {
	p, err := DecodePayload(TypeTelemetry, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p != nil {
		t.Fatalf("empty input must decode to nil, got %T", p)
	}
}

func TestLoadEd25519PrivateKeyRawSeed(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	path := filepath.Join(t.TempDir(), "key")
	if err := os.WriteFile(path, seed, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	priv, err := LoadEd25519PrivateKey(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := ed25519.NewKeyFromSeed(seed)
	if !priv.Equal(want) {
		t.Fatal("loaded key does not match the seed")
	}
}
