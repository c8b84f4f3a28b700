package memstore_test

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/vinted-notifier/internal/adapter/repo/memstore"
	"github.com/fairyhunter13/vinted-notifier/internal/domain"
)

func TestQueries_CreateUniqueURL(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()

	id, err := st.Queries().Create(ctx, domain.Query{URL: "https://www.vinted.de/catalog?order=newest_first&search_text=shoes"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	_, err = st.Queries().Create(ctx, domain.Query{URL: "https://www.vinted.de/catalog?order=newest_first&search_text=shoes"})
	require.ErrorIs(t, err, domain.ErrConflict)

	qs, err := st.Queries().List(ctx)
	require.NoError(t, err)
	assert.Len(t, qs, 1)
}

func TestQueries_WatermarkMonotonic(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	id, err := st.Queries().Create(ctx, domain.Query{URL: "u"})
	require.NoError(t, err)

	require.NoError(t, st.Queries().UpdateWatermark(ctx, id, 100))
	require.NoError(t, st.Queries().UpdateWatermark(ctx, id, 50))
	q, err := st.Queries().Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(100), q.LastItemTS)

	require.NoError(t, st.Queries().UpdateWatermark(ctx, id, 150))
	q, _ = st.Queries().Get(ctx, id)
	assert.Equal(t, int64(150), q.LastItemTS)
}

func TestQueries_DeleteCascadesItems(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	id, _ := st.Queries().Create(ctx, domain.Query{URL: "u"})
	require.NoError(t, st.Items().Insert(ctx, domain.Item{ID: "a", QueryID: id}))

	require.NoError(t, st.Queries().Delete(ctx, id))
	ok, err := st.Items().Exists(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestItems_InsertConflict(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	require.NoError(t, st.Items().Insert(ctx, domain.Item{ID: "a"}))
	err := st.Items().Insert(ctx, domain.Item{ID: "a"})
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestItems_PruneOldestKeepsNewest(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, st.Items().Insert(ctx, domain.Item{ID: strconv.Itoa(i), PublishedTS: int64(i)}))
	}
	deleted, err := st.Items().PruneOldest(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(6), deleted)

	n, err := st.Items().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	// oldest gone, newest kept
	ok, _ := st.Items().Exists(ctx, "0")
	assert.False(t, ok)
	ok, _ = st.Items().Exists(ctx, "9")
	assert.True(t, ok)
}

func TestItems_ListFiltersByQueryURL(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	q1, _ := st.Queries().Create(ctx, domain.Query{URL: "u1"})
	q2, _ := st.Queries().Create(ctx, domain.Query{URL: "u2"})
	require.NoError(t, st.Items().Insert(ctx, domain.Item{ID: "a", QueryID: q1, FoundTS: 1}))
	require.NoError(t, st.Items().Insert(ctx, domain.Item{ID: "b", QueryID: q2, FoundTS: 2}))
	require.NoError(t, st.Items().Insert(ctx, domain.Item{ID: "c", QueryID: q1, FoundTS: 3}))

	got, err := st.Items().List(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID) // newest first

	all, err := st.Items().List(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestParameters_Increment(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	n, err := st.Parameters().Increment(ctx, domain.ParamAPIRequests)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, _ = st.Parameters().Increment(ctx, domain.ParamAPIRequests)
	assert.Equal(t, int64(2), n)

	v, err := st.Parameters().Get(ctx, domain.ParamAPIRequests)
	require.NoError(t, err)
	assert.Equal(t, "2", v)
}

func TestParameters_GetMissing(t *testing.T) {
	st := memstore.New()
	_, err := st.Parameters().Get(context.Background(), "nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAllowlist(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	require.NoError(t, st.Allowlist().Add(ctx, "DE"))
	require.ErrorIs(t, st.Allowlist().Add(ctx, "DE"), domain.ErrConflict)
	require.NoError(t, st.Allowlist().Add(ctx, "AT"))

	got, err := st.Allowlist().List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AT", "DE"}, got)

	require.NoError(t, st.Allowlist().Remove(ctx, "AT"))
	require.NoError(t, st.Allowlist().Clear(ctx))
	got, _ = st.Allowlist().List(ctx)
	assert.Empty(t, got)
}
