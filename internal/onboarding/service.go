// Package onboarding is the intake stage: it turns raw discovery notes
// into a normalized brief. Storage is in-memory; the saga compensates by
// deleting the rows it caused, scoped to the brief ID.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicateBrief signals that a brief with the same ID already exists.
// Re-running intake for a live brief is a caller bug, not a retry.
var ErrDuplicateBrief = errors.New("onboarding: duplicate brief id")

type Service struct {
	mu      sync.RWMutex
	intakes map[string]*IntakeRecord // keyed by intake ID
	briefs  map[string]*Brief        // keyed by brief ID
}

func NewService() *Service {
	return &Service{
		intakes: make(map[string]*IntakeRecord),
		briefs:  make(map[string]*Brief),
	}
}

// Normalize records the intake and persists the normalized brief, returning
// the brief ID. The ID is caller-supplied so it can act as an idempotency
// key; a collision with an existing brief fails loudly.
func (s *Service) Normalize(ctx context.Context, briefID, discoveryNotes string) (string, error) {
	if briefID == "" {
		return "", fmt.Errorf("onboarding: brief id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.briefs[briefID]; exists {
		return "", fmt.Errorf("brief %q: %w", briefID, ErrDuplicateBrief)
	}

	now := time.Now().UTC()
	intakeID := uuid.NewString()
	s.intakes[intakeID] = &IntakeRecord{
		ID:             intakeID,
		BriefID:        briefID,
		DiscoveryNotes: discoveryNotes,
		ReceivedAt:     now,
	}
	s.briefs[briefID] = &Brief{
		ID:           briefID,
		Scope:        normalizeScope(discoveryNotes),
		NormalizedAt: now,
	}

	slog.InfoContext(ctx, "brief normalized", "brief_id", briefID)
	return briefID, nil
}

// DeleteBrief removes the intake and brief rows for briefID, children
// first, and returns how many rows were removed. Deleting an already-clean
// brief is a silent no-op so compensation can re-run safely.
func (s *Service) DeleteBrief(ctx context.Context, briefID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, intake := range s.intakes {
		if intake.BriefID == briefID {
			delete(s.intakes, id)
			removed++
		}
	}
	if _, exists := s.briefs[briefID]; exists {
		delete(s.briefs, briefID)
		removed++
	}
	return removed, nil
}

func (s *Service) BriefCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.briefs)
}

func (s *Service) IntakeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.intakes)
}

// normalizeScope collapses whitespace in the discovery notes; an empty
// intake still yields a workable scope line.
func normalizeScope(notes string) string {
	scope := strings.Join(strings.Fields(notes), " ")
	if scope == "" {
		return "general engagement"
	}
	return scope
}
