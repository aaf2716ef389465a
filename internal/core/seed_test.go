package core

import (
	"cicdcopilot/internal/mopparse"
	"cicdcopilot/pkg/domain"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedDemoDataPopulatesEmptyStore(t *testing.T) {
	svc := NewInMemoryService(nil)
	ctx := context.Background()

	seeded, res, err := svc.SeedDemoData(ctx)
	require.NoError(t, err)
	require.True(t, seeded)
	assert.Empty(t, res.Violations)

	user, err := svc.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, DemoUsername, user.Username)
	assert.Equal(t, "john@devplatform.co", user.Email)

	files, err := svc.ListMopFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 3)
	for _, f := range files {
		doc, err := mopparse.Parse(f.Content)
		require.NoError(t, err, f.Name)
		assert.Equal(t, f.Name, doc.Title)
		assert.Equal(t, "Description for "+f.Name, f.Description)
	}

	summaries, err := svc.ListPipelineSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 3)
	for _, s := range summaries {
		assert.Equal(t, 3, s.StepCount, s.Name)
		assert.Equal(t, 1, s.SharedWith, s.Name)
		executions, err := svc.ListExecutions(ctx, s.ID)
		require.NoError(t, err)
		require.Len(t, executions, 1)
		assert.Equal(t, domain.ExecutionStatusCompleted, executions[0].Status)
	}

	members, err := svc.ListTeamMembers(ctx)
	require.NoError(t, err)
	assert.Len(t, members, 3)

	for _, share := range svc.Store().ListSharedPipelines() {
		assert.NotEqual(t, share.SharedByUserID, share.SharedWithUserID)
	}
}

func TestSeedDemoDataSkipsPopulatedStore(t *testing.T) {
	svc := NewInMemoryService(nil)
	ctx := context.Background()

	_, _, err := svc.UploadMopFile(ctx, UploadInput{Filename: "x.txt", ContentType: "text/plain", Data: []byte("hello")})
	require.NoError(t, err)

	seeded, _, err := svc.SeedDemoData(ctx)
	require.NoError(t, err)
	assert.False(t, seeded)
	assert.Len(t, svc.Store().ListPipelines(), 0)

	again := NewInMemoryService(nil)
	_, _, err = again.SeedDemoData(ctx)
	require.NoError(t, err)
	seeded, _, err = again.SeedDemoData(ctx)
	require.NoError(t, err)
	assert.False(t, seeded)
}

func TestSeedMopContentConvertsToStages(t *testing.T) {
	content := seedMopContent(seedMops[1])
	doc, err := mopparse.Parse(content)
	require.NoError(t, err)
	require.Len(t, doc.Steps, 5)
	assert.Equal(t, "Train Model", doc.Steps[2].Name)
	assert.Equal(t, "ml_train", doc.Steps[2].Type)
	assert.Equal(t, 3, doc.Steps[2].Position)
}
