// Package server exposes the administrative HTTP surface of anchord:
// event ingestion, batch statistics, proof queries, compliance reports,
// and health probes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"anchord/internal/batch"
	"anchord/internal/event"
	"anchord/internal/merkle"
	"anchord/internal/metrics"
	"anchord/internal/schema"
	"anchord/internal/store"
)

// IngestRequest is the wire form of an incoming event.
type IngestRequest struct {
	ID              string          `json:"id,omitempty"`
	Type            event.Type      `json:"type"`
	SiteID          string          `json:"site_id"`
	AssetID         string          `json:"asset_id,omitempty"`
	SourceTimestamp time.Time       `json:"source_timestamp"`
	OriginType      event.Origin    `json:"origin_type"`
	OriginID        string          `json:"origin_id"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Details         string          `json:"details,omitempty"`
}

// IngestResult reports what happened to an accepted event.
type IngestResult struct {
	ID       string `json:"id"`
	Hash     string `json:"hash"`
	Scheme   string `json:"scheme"`
	Buffered bool   `json:"buffered"`
}

// Service ties the ingestion pipeline together: schema validation,
// signing, persistence, and batch accumulation.
type Service struct {
	signer    event.Signer
	validator *schema.Validator
	store     store.Store
	manager   *batch.Manager
	met       *metrics.Pipeline
	log       *slog.Logger
}

// NewService creates the ingestion service.
func NewService(signer event.Signer, validator *schema.Validator, st store.Store, mgr *batch.Manager, met *metrics.Pipeline, log *slog.Logger) *Service {
	return &Service{
		signer:    signer,
		validator: validator,
		store:     st,
		manager:   mgr,
		met:       met,
		log:       log.With("component", "ingest"),
	}
}

// Ingest validates, signs, persists, and buffers one event. Input errors
// are returned synchronously; the event never enters the accumulator.
func (s *Service) Ingest(ctx context.Context, req *IngestRequest) (*IngestResult, error) {
	if s.validator != nil {
		if err := s.validator.ValidatePayload(req.Type, req.Payload); err != nil {
			s.met.EventsRejected.Inc()
			return nil, err
		}
	}

	payload, err := event.DecodePayload(req.Type, req.Payload)
	if err != nil {
		s.met.EventsRejected.Inc()
		return nil, err
	}

	e := event.Event{
		ID:              req.ID,
		Type:            req.Type,
		SiteID:          req.SiteID,
		AssetID:         req.AssetID,
		SourceTimestamp: req.SourceTimestamp,
		Origin:          req.OriginType,
		OriginID:        req.OriginID,
		Payload:         payload,
		Details:         req.Details,
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	se, err := event.NewSignedEvent(e, s.signer)
	if err != nil {
		s.met.EventsRejected.Inc()
		return nil, err
	}

	if err := s.store.PersistEvent(ctx, se); err != nil {
		s.met.EventsRejected.Inc()
		return nil, fmt.Errorf("persist event: %w", err)
	}

	leaf, err := merkle.DecodeHex(se.Hash)
	if err != nil {
		return nil, fmt.Errorf("decode event hash: %w", err)
	}

	buffered := true
	if err := s.manager.Accumulator().Add(se.ID, leaf); err != nil {
		if !errors.Is(err, batch.ErrDisabled) {
			return nil, fmt.Errorf("buffer event: %w", err)
		}
		// Batching disabled: the event is signed and stored but will
		// not be anchored until batching is re-enabled.
		buffered = false
	}

	s.met.EventsIngested.Inc()
	s.met.PendingEvents.Set(int64(s.manager.Accumulator().PendingCount()))
	s.log.Debug("event ingested", "id", se.ID, "type", se.Type, "site", se.SiteID, "buffered", buffered)

	return &IngestResult{
		ID:       se.ID,
		Hash:     se.Hash,
		Scheme:   se.Scheme,
		Buffered: buffered,
	}, nil
}
