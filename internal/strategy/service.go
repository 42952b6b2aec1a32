// Package strategy is the planning stage: it produces a strategy document
// for a normalized brief.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Document is the persisted strategy for one brief.
type Document struct {
	ID         string
	BriefID    string
	ClientID   string
	Objectives []string
	CreatedAt  time.Time
}

// GenerateInput carries the context the planner needs beyond the brief ID.
type GenerateInput struct {
	ClientID   string
	Objectives []string
}

type Service struct {
	mu        sync.RWMutex
	documents map[string]*Document
}

func NewService() *Service {
	return &Service{documents: make(map[string]*Document)}
}

// Generate persists a strategy document for the brief and returns its ID.
func (s *Service) Generate(ctx context.Context, briefID string, in GenerateInput) (string, error) {
	if briefID == "" {
		return "", fmt.Errorf("strategy: brief id is required")
	}

	objectives := in.Objectives
	if len(objectives) == 0 {
		objectives = []string{"establish baseline positioning"}
	}

	doc := &Document{
		ID:         uuid.NewString(),
		BriefID:    briefID,
		ClientID:   in.ClientID,
		Objectives: objectives,
		CreatedAt:  time.Now().UTC(),
	}

	s.mu.Lock()
	s.documents[doc.ID] = doc
	s.mu.Unlock()

	slog.InfoContext(ctx, "strategy generated", "brief_id", briefID, "strategy_id", doc.ID)
	return doc.ID, nil
}

// DeleteDocument removes the strategy document by ID and returns how many
// rows were removed. Idempotent: a missing document is a silent no-op.
func (s *Service) DeleteDocument(ctx context.Context, strategyID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.documents[strategyID]; !exists {
		return 0, nil
	}
	delete(s.documents, strategyID)
	return 1, nil
}

func (s *Service) DocumentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents)
}
