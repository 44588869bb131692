package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalAppendAndList(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "audit", "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	ctx := context.Background()
	at := time.UnixMilli(1_700_000_000_000).UTC()
	require.NoError(t, j.Append(ctx, Entry{At: at, Entity: EntitySignal, EntityID: "s1", From: "PENDING", To: "APPROVED", Actor: "ops"}))
	require.NoError(t, j.Append(ctx, Entry{At: at.Add(time.Minute), Entity: EntitySignal, EntityID: "s1", From: "APPROVED", To: "FAILED", Reason: "insufficient margin"}))
	require.NoError(t, j.Append(ctx, Entry{Entity: EntityPosition, EntityID: "p1", To: "OPEN"}))

	got, err := j.List(ctx, EntitySignal, "s1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "APPROVED", got[0].To)
	assert.Equal(t, at, got[0].At)
	assert.Equal(t, "insufficient margin", got[1].Reason)
}

func TestJournalRejectsEmptyPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}

func TestJournalClosed(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "j.db"))
	require.NoError(t, err)
	require.NoError(t, j.Close())
	assert.Error(t, j.Append(context.Background(), Entry{Entity: EntitySignal, EntityID: "x", To: "PENDING"}))
	assert.NoError(t, j.Close())
}
