package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/store/memory"
	"github.com/xraph/bursar/store/storetest"
)

func TestConformance(t *testing.T) {
	defer goleak.VerifyNone(t)
	storetest.Run(t, func(*testing.T) store.Store { return memory.New() })
}

func TestSetFailure(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	var snaps []store.Snapshot
	unsub, err := s.Subscribe(ctx, "fees", store.Query{}, func(snap store.Snapshot) {
		snaps = append(snaps, snap)
	})
	require.NoError(t, err)
	defer unsub()

	boom := errors.New("offline")
	s.SetFailure(boom)

	_, err = s.Get(ctx, "fees", "x")
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)
	_, err = s.Put(ctx, "fees", "x", store.Document{})
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)

	require.NotEmpty(t, snaps)
	assert.Error(t, snaps[len(snaps)-1].Err)

	s.SetFailure(nil)
	_, err = s.Put(ctx, "fees", "x", store.Document{"name": "Tuition"})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len("fees"))
	assert.NoError(t, snaps[len(snaps)-1].Err)
}

func TestStoredDocumentsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	doc := store.Document{"name": "Tuition"}
	_, err := s.Put(ctx, "fees", "f1", doc)
	require.NoError(t, err)
	doc["name"] = "changed"

	got, err := s.Get(ctx, "fees", "f1")
	require.NoError(t, err)
	assert.Equal(t, "Tuition", got.String("name"))

	got["name"] = "changed again"
	again, err := s.Get(ctx, "fees", "f1")
	require.NoError(t, err)
	assert.Equal(t, "Tuition", again.String("name"))
}

func TestClosed(t *testing.T) {
	s := memory.New()
	require.NoError(t, s.Close())
	assert.Error(t, s.Ping(context.Background()))
}
