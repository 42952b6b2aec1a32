package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateDefaultsObjectives(t *testing.T) {
	svc := NewService()

	id, err := svc.Generate(context.Background(), "brief-1", GenerateInput{ClientID: "client-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, svc.DocumentCount())
}

func TestGenerateRequiresBriefID(t *testing.T) {
	svc := NewService()

	_, err := svc.Generate(context.Background(), "", GenerateInput{ClientID: "client-1"})
	assert.Error(t, err)
	assert.Zero(t, svc.DocumentCount())
}

func TestDeleteDocumentIsIdempotent(t *testing.T) {
	svc := NewService()
	ctx := context.Background()

	id, err := svc.Generate(ctx, "brief-1", GenerateInput{
		ClientID:   "client-1",
		Objectives: []string{"grow retention"},
	})
	require.NoError(t, err)

	removed, err := svc.DeleteDocument(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Zero(t, svc.DocumentCount())

	removed, err = svc.DeleteDocument(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, removed, "second delete is a true no-op")
}
