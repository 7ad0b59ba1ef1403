package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/storefront-checkout/internal/coordinator/sagalog"
)

func TestRepository_SaveAndRead(t *testing.T) {
	ctx := context.Background()
	repo, err := Open(filepath.Join(t.TempDir(), "saga.db"))
	require.NoError(t, err)
	defer repo.Close()

	started := sagalog.NewEntry(ctx, "checkout", "key-1", sagalog.StatusStarted, "", `{"email":"a@b.c"}`, nil)
	require.NoError(t, repo.Save(ctx, started))

	failed := sagalog.NewEntry(ctx, "checkout", "key-1", sagalog.StatusFailed, "Request_Intent_Step", "", []string{"declined"})
	failed.UpdatedAt = started.UpdatedAt.Add(time.Millisecond)
	require.NoError(t, repo.Save(ctx, failed))

	latest, err := repo.GetLatest(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, sagalog.StatusFailed, latest.Status)
	assert.Equal(t, "Request_Intent_Step", latest.CurrentStep)
	assert.Equal(t, `["declined"]`, latest.ErrorMessages)
	assert.Equal(t, "checkout", latest.Kind)
	assert.Empty(t, latest.Payload)

	history, err := repo.History(ctx, "key-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, `{"email":"a@b.c"}`, history[0].Payload)

	_, err = repo.GetLatest(ctx, "missing")
	assert.Error(t, err)
}
