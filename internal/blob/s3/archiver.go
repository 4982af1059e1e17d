package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alanyoungcy/narrativebet/internal/crypto"
	"github.com/alanyoungcy/narrativebet/internal/domain"
)

// Object names under a market's archive prefix.
const (
	EventsObject      = "events.jsonl"
	SettlementObject  = "settlement.json"
	AttestationObject = "attestation.json"
)

// MarketPrefix is the key prefix of one market's archive.
//
//	markets/{id}/events.jsonl
//	markets/{id}/settlement.json
//	markets/{id}/attestation.json
func MarketPrefix(marketID string) string {
	return "markets/" + marketID + "/"
}

// Archiver implements domain.Archiver. It copies a settled market's full
// event log as JSONL plus the frozen settlement, and optionally an EIP-712
// attestation over the settlement bytes. Nothing is deleted from the primary
// store.
type Archiver struct {
	writer   domain.BlobWriter
	reader   domain.BlobReader
	events   domain.EventLog
	audit    domain.AuditStore
	attestor *crypto.Attestor
	partSize int64
	now      func() time.Time
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, events domain.EventLog, audit domain.AuditStore) *Archiver {
	return &Archiver{
		writer:   writer,
		reader:   reader,
		events:   events,
		audit:    audit,
		partSize: minPartSize,
		now:      time.Now,
	}
}

// WithAttestor signs every archived settlement.
func (a *Archiver) WithAttestor(att *crypto.Attestor) *Archiver {
	a.attestor = att
	return a
}

// ArchiveMarket uploads the market's archive and returns the number of
// events written. The market must be RESOLVED or VOIDED.
func (a *Archiver) ArchiveMarket(ctx context.Context, marketID string) (int64, error) {
	envs, err := a.events.Load(ctx, marketID, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: load events: %w", marketID, err)
	}
	if len(envs) == 0 {
		return 0, fmt.Errorf("s3blob: archive %s: %w", marketID, domain.ErrNotFound)
	}
	st, err := finalSettlement(envs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: %w", marketID, err)
	}

	eventsJSONL, err := marshalJSONL(envs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: marshal events: %w", marketID, err)
	}
	settlementJSON, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: marshal settlement: %w", marketID, err)
	}

	prefix := MarketPrefix(marketID)
	if err := a.put(ctx, prefix+EventsObject, eventsJSONL, "application/x-ndjson"); err != nil {
		return 0, err
	}

	lastSeq := envs[len(envs)-1].Seq
	if a.attestor != nil {
		att, err := a.attestor.Attest(marketID, lastSeq, settlementJSON)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive %s: attest: %w", marketID, err)
		}
		attJSON, err := json.MarshalIndent(att, "", "  ")
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive %s: marshal attestation: %w", marketID, err)
		}
		if err := a.put(ctx, prefix+AttestationObject, attJSON, "application/json"); err != nil {
			return 0, err
		}
	}
	// The settlement object is written last: its presence marks the archive
	// complete.
	if err := a.put(ctx, prefix+SettlementObject, settlementJSON, "application/json"); err != nil {
		return 0, err
	}

	count := int64(len(envs))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.market", map[string]any{
			"market_id":   marketID,
			"path":        prefix,
			"count":       count,
			"seq":         lastSeq,
			"attested":    a.attestor != nil,
			"archived_at": a.now().UTC().Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive %s: audit log: %w", marketID, err)
		}
	}
	return count, nil
}

// Archived reports whether a complete archive exists for marketID.
func (a *Archiver) Archived(ctx context.Context, marketID string) (bool, error) {
	ok, err := a.reader.Exists(ctx, MarketPrefix(marketID)+SettlementObject)
	if err != nil {
		return false, fmt.Errorf("s3blob: archived %s: %w", marketID, err)
	}
	return ok, nil
}

// ReadSettlement loads an archived settlement and, when an attestation was
// archived next to it, verifies the signature for chainID.
func (a *Archiver) ReadSettlement(ctx context.Context, marketID string, chainID int64) (domain.Settlement, error) {
	prefix := MarketPrefix(marketID)
	raw, err := a.read(ctx, prefix+SettlementObject)
	if err != nil {
		return domain.Settlement{}, err
	}
	attRaw, err := a.read(ctx, prefix+AttestationObject)
	switch {
	case err == nil:
		var att crypto.Attestation
		if err := json.Unmarshal(attRaw, &att); err != nil {
			return domain.Settlement{}, fmt.Errorf("s3blob: decode attestation %s: %w", marketID, err)
		}
		if err := crypto.VerifyAttestation(att, raw, chainID); err != nil {
			return domain.Settlement{}, fmt.Errorf("s3blob: verify %s: %w", marketID, err)
		}
	case !isDomainNotFound(err):
		return domain.Settlement{}, err
	}

	var st domain.Settlement
	if err := json.Unmarshal(raw, &st); err != nil {
		return domain.Settlement{}, fmt.Errorf("s3blob: decode settlement %s: %w", marketID, err)
	}
	return st, nil
}

func (a *Archiver) put(ctx context.Context, path string, data []byte, contentType string) error {
	var err error
	if int64(len(data)) > a.partSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(data), a.partSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(data), contentType)
	}
	if err != nil {
		return fmt.Errorf("s3blob: upload %s: %w", path, err)
	}
	return nil
}

func (a *Archiver) read(ctx context.Context, path string) ([]byte, error) {
	rc, err := a.reader.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("s3blob: read %s: %w", path, err)
	}
	return data, nil
}

// finalSettlement returns the settlement frozen by the log's terminal event.
func finalSettlement(envs []domain.Envelope) (domain.Settlement, error) {
	for i := len(envs) - 1; i >= 0; i-- {
		switch envs[i].Kind {
		case domain.EventMarketResolved, domain.EventMarketVoided:
		default:
			continue
		}
		ev, err := envs[i].Decode()
		if err != nil {
			return domain.Settlement{}, err
		}
		switch e := ev.(type) {
		case domain.MarketResolved:
			return e.Settlement, nil
		case domain.MarketVoided:
			return e.Settlement, nil
		}
	}
	return domain.Settlement{}, domain.ErrNotResolved
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*Archiver)(nil)
