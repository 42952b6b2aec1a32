// Package production is the drafting stage: it renders a content draft
// with its channel bundles and assets from a strategy document.
package production

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// channels each draft is bundled for. Fixed here; a real renderer would
// take them from the strategy.
var channels = []string{"social", "email"}

// assetKinds produced per bundle.
var assetKinds = []string{"copy", "visual"}

type Service struct {
	mu      sync.RWMutex
	drafts  map[string]*Draft
	bundles map[string]*Bundle
	assets  map[string]*BundleAsset
}

func NewService() *Service {
	return &Service{
		drafts:  make(map[string]*Draft),
		bundles: make(map[string]*Bundle),
		assets:  make(map[string]*BundleAsset),
	}
}

// GenerateDraft persists a draft for the strategy together with one bundle
// per channel and the bundle assets, and returns the draft ID.
func (s *Service) GenerateDraft(ctx context.Context, strategyID string) (string, error) {
	if strategyID == "" {
		return "", fmt.Errorf("production: strategy id is required")
	}

	draft := &Draft{
		ID:         uuid.NewString(),
		StrategyID: strategyID,
		Headline:   "draft for strategy " + strategyID,
		CreatedAt:  time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.drafts[draft.ID] = draft
	for _, channel := range channels {
		bundle := &Bundle{ID: uuid.NewString(), DraftID: draft.ID, Channel: channel}
		s.bundles[bundle.ID] = bundle
		for _, kind := range assetKinds {
			asset := &BundleAsset{
				ID:       uuid.NewString(),
				BundleID: bundle.ID,
				Kind:     kind,
				URI:      fmt.Sprintf("asset://%s/%s/%s", draft.ID, channel, kind),
			}
			s.assets[asset.ID] = asset
		}
	}

	slog.InfoContext(ctx, "draft generated", "strategy_id", strategyID, "draft_id", draft.ID)
	return draft.ID, nil
}

// DeleteDraft removes the draft and everything under it, children first:
// bundle assets, then bundles, then the draft row. Returns how many rows
// were removed; re-running against a deleted draft is a silent no-op.
func (s *Service) DeleteDraft(ctx context.Context, draftID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bundleIDs := make(map[string]bool)
	for id, bundle := range s.bundles {
		if bundle.DraftID == draftID {
			bundleIDs[id] = true
		}
	}

	removed := 0
	for id, asset := range s.assets {
		if bundleIDs[asset.BundleID] {
			delete(s.assets, id)
			removed++
		}
	}
	for id := range bundleIDs {
		delete(s.bundles, id)
		removed++
	}
	if _, exists := s.drafts[draftID]; exists {
		delete(s.drafts, draftID)
		removed++
	}
	return removed, nil
}

func (s *Service) DraftCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.drafts)
}

func (s *Service) BundleCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bundles)
}

func (s *Service) AssetCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.assets)
}
