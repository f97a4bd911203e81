package sweep

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/modmail-bot/internal/models"
	"github.com/xaenox/modmail-bot/internal/platform/platformtest"
	"github.com/xaenox/modmail-bot/internal/storage"
	"go.uber.org/zap"
)

type containers map[string]string

func (c containers) ContainerName(ctx context.Context, categoryID string) (string, error) {
	switch name, ok := c[categoryID]; {
	case !ok:
		return "", models.NotFoundf("category %s", categoryID)
	case name == "!error":
		return "", errors.New("gateway unavailable")
	default:
		return name, nil
	}
}

func TestCheckReportsMissingAndRenamed(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	for _, cat := range []*models.Category{
		{ID: "1", Name: "support", Active: true, Token: "a"},
		{ID: "2", Name: "billing", Active: true, Token: "b"},
		{ID: "3", Name: "appeals", Active: true, Token: "c"},
		{ID: "4", Name: "flaky", Active: true, Token: "d"},
		{ID: "5", Name: "retired", Active: false, Token: "e"},
	} {
		require.NoError(t, store.UpsertCategory(ctx, cat))
	}
	staff := platformtest.NewStaff()

	s, err := New(store, containers{"1": "Support", "2": "payments", "4": "!error"}, staff, "alerts", "", zap.NewNop())
	require.NoError(t, err)

	findings, err := s.Check(ctx)
	require.NoError(t, err)
	require.Len(t, findings, 2)

	byID := map[string]Finding{}
	for _, f := range findings {
		byID[f.Category.ID] = f
	}
	assert.Equal(t, "payments", byID["2"].ActualName)
	assert.True(t, byID["3"].Missing())

	alerts := staff.SentTo("alerts")
	require.Len(t, alerts, 2)
	assert.Equal(t, "Categories not correctly synced!", alerts[0].Post.Title)
}

func TestNewRejectsBadSchedule(t *testing.T) {
	_, err := New(storage.NewMemoryStorage(), containers{}, nil, "", "every five minutes", zap.NewNop())
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestRunStopsWithContext(t *testing.T) {
	s, err := New(storage.NewMemoryStorage(), containers{}, nil, "", DefaultSchedule, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, s.Run(ctx))
}
