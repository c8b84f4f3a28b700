package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/vinted-notifier/internal/adapter/repo/memstore"
	"github.com/fairyhunter13/vinted-notifier/internal/domain"
)

func TestAddQuery_CanonicalizesAndDedupes(t *testing.T) {
	store := memstore.New()
	admin := NewAdmin(store)
	ctx := context.Background()

	q, created, err := admin.AddQuery(ctx, "https://www.vinted.de/catalog?search_text=shoes&order=relevance&time=1&page=2", "Shoes", nil)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Contains(t, q.URL, "order=newest_first")
	assert.NotContains(t, q.URL, "time=")
	assert.NotContains(t, q.URL, "page=")

	// Same search with different volatile params is the same query.
	dup, created, err := admin.AddQuery(ctx, "https://www.vinted.de/catalog?search_text=shoes&time=999", "", nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, q.ID, dup.ID)

	queries, err := admin.ListQueries(ctx)
	require.NoError(t, err)
	assert.Len(t, queries, 1)
}

func TestAddQuery_RejectsRelativeURL(t *testing.T) {
	admin := NewAdmin(memstore.New())
	_, _, err := admin.AddQuery(context.Background(), "/catalog?search_text=x", "", nil)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestRemoveQuery_ByIDAndAll(t *testing.T) {
	store := memstore.New()
	admin := NewAdmin(store)
	ctx := context.Background()

	q1, _, err := admin.AddQuery(ctx, "https://x.test/catalog?search_text=a", "", nil)
	require.NoError(t, err)
	_, _, err = admin.AddQuery(ctx, "https://x.test/catalog?search_text=b", "", nil)
	require.NoError(t, err)

	require.NoError(t, admin.RemoveQuery(ctx, "1"))
	_, err = store.Queries().Get(ctx, q1.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.Error(t, admin.RemoveQuery(ctx, "banana"))

	require.NoError(t, admin.RemoveQuery(ctx, "all"))
	queries, err := admin.ListQueries(ctx)
	require.NoError(t, err)
	assert.Empty(t, queries)
}

func TestQueryDisplayName(t *testing.T) {
	assert.Equal(t, "Shoes", QueryDisplayName(domain.Query{Name: "Shoes", URL: "https://x.test/catalog?search_text=a"}))
	assert.Equal(t, "boots", QueryDisplayName(domain.Query{URL: "https://x.test/catalog?search_text=boots"}))
	assert.Equal(t, "https://x.test/catalog?brand_ids%5B%5D=2",
		QueryDisplayName(domain.Query{URL: "https://x.test/catalog?brand_ids%5B%5D=2"}))
}

func TestFormattedQueryList(t *testing.T) {
	admin := NewAdmin(memstore.New())
	ctx := context.Background()

	_, _, err := admin.AddQuery(ctx, "https://x.test/catalog?search_text=boots", "", nil)
	require.NoError(t, err)
	_, _, err = admin.AddQuery(ctx, "https://x.test/catalog?search_text=hats", "Nice hats", nil)
	require.NoError(t, err)

	list, err := admin.FormattedQueryList(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1. boots\n2. Nice hats", list)
}

func TestUpdateQueryAndThreadID(t *testing.T) {
	store := memstore.New()
	admin := NewAdmin(store)
	ctx := context.Background()

	q, _, err := admin.AddQuery(ctx, "https://x.test/catalog?search_text=a", "", nil)
	require.NoError(t, err)

	require.NoError(t, admin.UpdateQuery(ctx, q.ID, "https://x.test/catalog?search_text=b&time=3", "Renamed"))
	got, err := store.Queries().Get(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Contains(t, got.URL, "search_text=b")
	assert.NotContains(t, got.URL, "time=")

	threadID := int64(5)
	require.NoError(t, admin.UpdateThreadID(ctx, q.ID, &threadID))
	got, err = store.Queries().Get(ctx, q.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ThreadID)
	assert.Equal(t, int64(5), *got.ThreadID)
}

func TestCountryAllowlist(t *testing.T) {
	admin := NewAdmin(memstore.New())
	ctx := context.Background()

	list, err := admin.AddCountry(ctx, " de ")
	require.NoError(t, err)
	assert.Equal(t, []string{"DE"}, list)

	// Adding again is not an error.
	list, err = admin.AddCountry(ctx, "DE")
	require.NoError(t, err)
	assert.Equal(t, []string{"DE"}, list)

	_, err = admin.AddCountry(ctx, "DEU")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = admin.AddCountry(ctx, "d1")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	list, err = admin.AddCountry(ctx, "fr")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = admin.RemoveCountry(ctx, "de")
	require.NoError(t, err)
	assert.Equal(t, []string{"FR"}, list)

	require.NoError(t, admin.ClearAllowlist(ctx))
	list, err = admin.Allowlist(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestItems_LimitClamped(t *testing.T) {
	store := memstore.New()
	admin := NewAdmin(store)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Items().Insert(ctx, domain.Item{ID: id}))
	}
	items, err := admin.Items(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, items, 3)

	items, err = admin.Items(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}
