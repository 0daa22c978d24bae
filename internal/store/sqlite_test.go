package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeforge/internal/approval"
	"codeforge/internal/types"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "suspensions.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(createdAt time.Time) *approval.SuspensionRecord {
	return &approval.SuspensionRecord{
		Handle:         uuid.NewString(),
		Code:           "package main\n\nfunc Run(input map[string]interface{}) (map[string]interface{}, error) { return nil, nil }",
		TaskObjective:  "compute the mean of a list",
		SafetyConcerns: []string{"domain risk categories: hardware"},
		Request:        &types.ExecutionRequest{TaskObjective: "compute the mean of a list", SessionKey: "s1"},
		Attempt:        1,
		CreatedAt:      createdAt,
	}
}

func TestPutClaimRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	record := testRecord(time.Now().UTC())
	require.NoError(t, s.Put(ctx, record))

	got, err := s.Claim(ctx, record.Handle)
	require.NoError(t, err)
	assert.Equal(t, record.Handle, got.Handle)
	assert.Equal(t, record.Code, got.Code)
	assert.Equal(t, record.SafetyConcerns, got.SafetyConcerns)
	assert.Equal(t, record.Request.SessionKey, got.Request.SessionKey)
}

func TestClaimConsumesExactlyOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	record := testRecord(time.Now().UTC())
	require.NoError(t, s.Put(ctx, record))

	_, err := s.Claim(ctx, record.Handle)
	require.NoError(t, err)

	_, err = s.Claim(ctx, record.Handle)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestClaimUnknownHandle(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Claim(context.Background(), "no-such-handle")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListOrdersOldestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	newer := testRecord(time.Now().UTC())
	older := testRecord(time.Now().UTC().Add(-time.Hour))
	require.NoError(t, s.Put(ctx, newer))
	require.NoError(t, s.Put(ctx, older))

	records, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, older.Handle, records[0].Handle)
	assert.Equal(t, newer.Handle, records[1].Handle)
}

func TestDeleteOlderThan(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stale := testRecord(time.Now().UTC().Add(-48 * time.Hour))
	fresh := testRecord(time.Now().UTC())
	require.NoError(t, s.Put(ctx, stale))
	require.NoError(t, s.Put(ctx, fresh))

	n, err := s.DeleteOlderThan(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Claim(ctx, stale.Handle)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.Claim(ctx, fresh.Handle)
	require.NoError(t, err)
}

func TestSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "suspensions.db")
	ctx := context.Background()

	s1, err := Open(path, nil)
	require.NoError(t, err)
	record := testRecord(time.Now().UTC())
	require.NoError(t, s1.Put(ctx, record))
	require.NoError(t, s1.Close())

	s2, err := Open(path, nil)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Claim(ctx, record.Handle)
	require.NoError(t, err)
	assert.Equal(t, record.TaskObjective, got.TaskObjective)
}
