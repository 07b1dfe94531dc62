package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mbetel/invochat/internal/index"
	"github.com/mbetel/invochat/internal/invoice"
)

var (
	// ErrEmptyBatch is returned when a session is requested for zero invoices.
	ErrEmptyBatch = errors.New("invoice batch is empty")
	// ErrNotFound is returned for unknown or expired session ids.
	ErrNotFound = errors.New("session not found")
	// ErrAccessDenied is returned when the requester does not own the session.
	ErrAccessDenied = errors.New("session access denied")
)

// Embedder generates embedding vectors for a batch of texts, all-or-nothing.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Manager owns the session lifecycle: creation, access checks, activity
// refresh, explicit deletion, and the periodic expiry sweep.
type Manager struct {
	store      *Store
	embedder   Embedder
	ttl        time.Duration
	sweepEvery time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewManager creates a Manager. ttl <= 0 defaults to 2 hours, sweepEvery <= 0
// to 5 minutes.
func NewManager(embedder Embedder, ttl, sweepEvery time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	if sweepEvery <= 0 {
		sweepEvery = 5 * time.Minute
	}
	return &Manager{
		store:      NewStore(),
		embedder:   embedder,
		ttl:        ttl,
		sweepEvery: sweepEvery,
		logger:     slog.Default(),
		now:        time.Now,
	}
}

// TTL returns the configured inactivity time-to-live.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Count returns the number of live sessions.
func (m *Manager) Count() int { return m.store.Len() }

// Create builds a session from an invoice batch and publishes it. One fact is
// indexed per invoice plus one per line item. Construction is all-or-nothing:
// if any embedding fails, nothing is published and the error surfaces
// unchanged. The returned session id is crypto-random and never reused.
func (m *Manager) Create(ctx context.Context, ownerID string, batch []invoice.Record) (*Session, error) {
	if len(batch) == 0 {
		return nil, ErrEmptyBatch
	}

	var (
		facts    []index.Fact
		texts    []string
		warnings []string
	)
	for i, rec := range batch {
		warnings = append(warnings, rec.Validate()...)

		facts = append(facts, index.Fact{
			ID:       fmt.Sprintf("inv-%d", i),
			Record:   i,
			LineItem: -1,
			Text:     rec.CanonicalText(),
		})
		texts = append(texts, rec.CanonicalText())

		for j := range rec.LineItems {
			text := rec.LineItemText(j)
			if text == "" {
				continue
			}
			facts = append(facts, index.Fact{
				ID:       fmt.Sprintf("inv-%d-li-%d", i, j),
				Record:   i,
				LineItem: j,
				Text:     text,
			})
			texts = append(texts, text)
		}
	}

	vectors, err := m.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("building session index: %w", err)
	}

	ix := index.New()
	for i, fact := range facts {
		if err := ix.Add(fact, vectors[i]); err != nil {
			return nil, fmt.Errorf("indexing fact %s: %w", fact.ID, err)
		}
	}

	now := m.now()
	s := &Session{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		CreatedAt: now,
		Index:     ix,
		Records:   batch,
		Warnings:  warnings,
	}
	s.Touch(now)
	m.store.Put(s)

	m.logger.Info("session created",
		"session_id", s.ID,
		"invoices", len(batch),
		"facts", ix.Len(),
		"warnings", len(warnings),
	)
	return s, nil
}

// Get resolves a session for a requester. Unknown and expired ids are
// indistinguishable to the caller; a wrong owner is rejected here so callers
// never have to enforce isolation themselves.
func (m *Manager) Get(id, requesterID string) (*Session, error) {
	s, ok := m.store.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	if m.now().Sub(s.LastActivity()) > m.ttl {
		// Expired but not yet swept: evict now, report not found.
		m.store.Delete(id)
		return nil, ErrNotFound
	}
	if s.OwnerID != requesterID {
		return nil, ErrAccessDenied
	}
	return s, nil
}

// Touch refreshes a session's activity timestamp. Unknown ids are ignored.
func (m *Manager) Touch(id string) {
	if s, ok := m.store.Get(id); ok {
		s.Touch(m.now())
	}
}

// Delete removes a session. Deleting an already-gone session is a no-op;
// deleting someone else's session is denied.
func (m *Manager) Delete(id, requesterID string) error {
	s, ok := m.store.Get(id)
	if !ok {
		return nil
	}
	if s.OwnerID != requesterID {
		return ErrAccessDenied
	}
	if m.store.Delete(id) {
		m.logger.Info("session deleted", "session_id", id)
	}
	return nil
}

// SweepExpired evicts every session idle longer than the TTL and returns the
// number evicted.
func (m *Manager) SweepExpired(now time.Time) int {
	evicted := 0
	for _, id := range m.store.expired(m.ttl, now) {
		if m.store.Delete(id) {
			evicted++
		}
	}
	if evicted > 0 {
		m.logger.Info("expired sessions swept", "evicted", evicted, "remaining", m.store.Len())
	}
	return evicted
}

// Run sweeps expired sessions on a fixed interval until ctx is cancelled.
// The sweep runs independently of request traffic so memory stays bounded
// even when no further requests arrive.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SweepExpired(m.now())
		}
	}
}
