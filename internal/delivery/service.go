// Package delivery is the packaging stage: it assembles the final
// delivery package and its artifacts for an approved draft.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Package is the deliverable handed to the client.
type Package struct {
	ID        string
	DraftID   string
	Status    string
	CreatedAt time.Time
}

// Artifact is a single file inside a package. Child of Package; deleted
// first on compensation.
type Artifact struct {
	ID        string
	PackageID string
	Kind      string
	URI       string
}

// artifactKinds bundled into every package.
var artifactKinds = []string{"final_copy", "render_manifest"}

type Service struct {
	mu        sync.RWMutex
	packages  map[string]*Package
	artifacts map[string]*Artifact
}

func NewService() *Service {
	return &Service{
		packages:  make(map[string]*Package),
		artifacts: make(map[string]*Artifact),
	}
}

// CreatePackage persists a package with its artifacts for the draft and
// returns the package ID.
func (s *Service) CreatePackage(ctx context.Context, draftID string) (string, error) {
	if draftID == "" {
		return "", fmt.Errorf("delivery: draft id is required")
	}

	pkg := &Package{
		ID:        uuid.NewString(),
		DraftID:   draftID,
		Status:    "READY",
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.packages[pkg.ID] = pkg
	for _, kind := range artifactKinds {
		artifact := &Artifact{
			ID:        uuid.NewString(),
			PackageID: pkg.ID,
			Kind:      kind,
			URI:       fmt.Sprintf("artifact://%s/%s", pkg.ID, kind),
		}
		s.artifacts[artifact.ID] = artifact
	}
	s.mu.Unlock()

	slog.InfoContext(ctx, "package created", "draft_id", draftID, "package_id", pkg.ID)
	return pkg.ID, nil
}

// DeletePackage removes the artifacts and the package row for packageID,
// children first, and returns how many rows were removed. Idempotent.
func (s *Service) DeletePackage(ctx context.Context, packageID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, artifact := range s.artifacts {
		if artifact.PackageID == packageID {
			delete(s.artifacts, id)
			removed++
		}
	}
	if _, exists := s.packages[packageID]; exists {
		delete(s.packages, packageID)
		removed++
	}
	return removed, nil
}

func (s *Service) PackageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.packages)
}

func (s *Service) ArtifactCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.artifacts)
}
