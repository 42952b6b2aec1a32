package production

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateDraftCreatesBundlesAndAssets(t *testing.T) {
	svc := NewService()

	draftID, err := svc.GenerateDraft(context.Background(), "strategy-1")
	require.NoError(t, err)
	require.NotEmpty(t, draftID)

	assert.Equal(t, 1, svc.DraftCount())
	assert.Equal(t, 2, svc.BundleCount())
	assert.Equal(t, 4, svc.AssetCount())
}

func TestDeleteDraftCascadesChildrenFirst(t *testing.T) {
	svc := NewService()
	ctx := context.Background()

	draftID, err := svc.GenerateDraft(ctx, "strategy-1")
	require.NoError(t, err)
	otherID, err := svc.GenerateDraft(ctx, "strategy-2")
	require.NoError(t, err)

	removed, err := svc.DeleteDraft(ctx, draftID)
	require.NoError(t, err)
	assert.Equal(t, 7, removed, "1 draft + 2 bundles + 4 assets")

	// The other draft's rows are untouched.
	assert.Equal(t, 1, svc.DraftCount())
	assert.Equal(t, 2, svc.BundleCount())
	assert.Equal(t, 4, svc.AssetCount())

	// Second delete is a true no-op.
	removed, err = svc.DeleteDraft(ctx, draftID)
	require.NoError(t, err)
	assert.Zero(t, removed)

	_ = otherID
}

func TestGenerateDraftRequiresStrategyID(t *testing.T) {
	svc := NewService()

	_, err := svc.GenerateDraft(context.Background(), "")
	assert.Error(t, err)
}
