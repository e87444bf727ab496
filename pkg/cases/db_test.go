package cases

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/mdao/pkg/stores"
)

func setupStore(t *testing.T) *stores.SQLiteStore {
	t.Helper()

	store, err := stores.NewSQLiteStore(stores.Config{Path: stores.MemoryPath})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.Migrate(ctx))
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.CreateRun(ctx, &stores.Run{
		ID:     "run-1",
		Study:  "study",
		Driver: "driver",
		Status: stores.RunStatusRunning,
	}))
	return store
}

func TestDBRecorderRoundTrip(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	rec := NewDBRecorder(store, "run-1")
	assert.Equal(t, "run-1", rec.RunID())

	first := NewCase("first", []Item{
		{Name: "comp.x", Value: 3.0},
		{Name: "comp.n", Value: 2},
		{Name: "comp.s", Value: "text"},
		{Name: "comp.arr", Value: []float64{1, 2.5}},
	}, []string{"comp.y"})
	first.Outputs[0].Value = 9.0

	second := NewCase("second", []Item{{Name: "comp.x", Value: 4.5}}, []string{"comp.y"})
	second.Msg = "comp: variable 'y' must be in the range [0, 10], but attempted value is 11"

	require.NoError(t, rec.Record(ctx, first))
	require.NoError(t, rec.Record(ctx, second))
	require.NoError(t, rec.Close())

	got, err := LoadRun(ctx, store, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, first.UUID, got[0].UUID)
	assert.Equal(t, first.Inputs, got[0].Inputs)
	assert.Equal(t, first.Outputs, got[0].Outputs)

	assert.Equal(t, "second", got[1].Label)
	assert.Equal(t, second.Msg, got[1].Msg)
	y, ok := got[1].Output("comp.y")
	assert.True(t, ok)
	assert.Nil(t, y)
}

func TestDBRecorderUnknownRun(t *testing.T) {
	store := setupStore(t)

	rec := NewDBRecorder(store, "missing")
	err := rec.Record(context.Background(), NewCase("x", nil, nil))
	assert.Error(t, err)
}
