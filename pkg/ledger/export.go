package ledger

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/canonicalize"
)

var (
	// ErrInvalidTimeRange is returned when start time is after end time.
	ErrInvalidTimeRange = errors.New("ledger: start_time must be before end_time")
	// ErrNoEvents is returned when the export filter matches nothing.
	ErrNoEvents = errors.New("ledger: no events match filter")
)

// EvidenceManifest describes an exported evidence pack.
type EvidenceManifest struct {
	PackID      string    `json:"pack_id"`
	GeneratedAt time.Time `json:"generated_at"`
	StartSeq    uint64    `json:"start_sequence"`
	EndSeq      uint64    `json:"end_sequence"`
	EventCount  int       `json:"event_count"`
	ChainHead   string    `json:"chain_head"`
	Checksum    string    `json:"checksum"`
}

// Exporter produces compliance evidence packs from the audit trail.
type Exporter struct {
	ledger Ledger
}

func NewExporter(l Ledger) *Exporter {
	return &Exporter{ledger: l}
}

// GeneratePack creates a zip containing the matching events (JSON lines) and
// a manifest with a checksum over the event stream. Returns the archive and
// its checksum.
func (e *Exporter) GeneratePack(ctx context.Context, f Filter) ([]byte, string, error) {
	if f.StartTime != nil && f.EndTime != nil && f.StartTime.After(*f.EndTime) {
		return nil, "", ErrInvalidTimeRange
	}

	events, err := e.ledger.Query(ctx, f)
	if err != nil {
		return nil, "", err
	}
	if len(events) == 0 {
		return nil, "", ErrNoEvents
	}

	var stream bytes.Buffer
	enc := json.NewEncoder(&stream)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return nil, "", fmt.Errorf("evidence pack encode: %w", err)
		}
	}
	checksum := canonicalize.HashBytes(stream.Bytes())

	manifest := EvidenceManifest{
		PackID:      uuid.New().String(),
		GeneratedAt: time.Now().UTC(),
		StartSeq:    events[0].Sequence,
		EndSeq:      events[len(events)-1].Sequence,
		EventCount:  len(events),
		ChainHead:   events[len(events)-1].Hash,
		Checksum:    checksum,
	}
	manifestBytes, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("evidence pack manifest: %w", err)
	}

	var archive bytes.Buffer
	zw := zip.NewWriter(&archive)
	for name, content := range map[string][]byte{
		"events.jsonl":  stream.Bytes(),
		"manifest.json": manifestBytes,
	} {
		w, err := zw.Create(name)
		if err != nil {
			return nil, "", fmt.Errorf("evidence pack create %s: %w", name, err)
		}
		if _, err := w.Write(content); err != nil {
			return nil, "", fmt.Errorf("evidence pack write %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, "", fmt.Errorf("evidence pack close: %w", err)
	}

	return archive.Bytes(), checksum, nil
}
