package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/vinted-notifier/internal/domain"
)

// ItemRepo persists discovered listings.
type ItemRepo struct{ Pool PgxPool }

// NewItemRepo constructs an ItemRepo with the given pool.
func NewItemRepo(p PgxPool) *ItemRepo { return &ItemRepo{Pool: p} }

const itemCols = `item, title, price::text, currency, COALESCE(timestamp,0)::bigint,
	COALESCE(photo_url,''), COALESCE(brand_title,''), COALESCE(size_title,''),
	COALESCE(found_at,0)::bigint, COALESCE(item_url,''), COALESCE(query_id,0)`

func scanItem(row pgx.Row) (domain.Item, error) {
	var it domain.Item
	err := row.Scan(&it.ID, &it.Title, &it.Price, &it.Currency, &it.PublishedTS,
		&it.PhotoURL, &it.BrandTitle, &it.SizeTitle, &it.FoundTS, &it.URL, &it.QueryID)
	if err != nil {
		return domain.Item{}, err
	}
	return it, nil
}

// Exists reports whether the item id was seen before.
func (r *ItemRepo) Exists(ctx context.Context, id string) (bool, error) {
	tracer := otel.Tracer("repo.items")
	ctx, span := tracer.Start(ctx, "items.Exists")
	defer span.End()
	var one int
	err := r.Pool.QueryRow(ctx, `SELECT 1 FROM items WHERE item=$1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("op=item.exists: %w", err)
	}
	return true, nil
}

// Insert stores a new item; duplicates map to ErrConflict via the primary key.
func (r *ItemRepo) Insert(ctx context.Context, it domain.Item) error {
	tracer := otel.Tracer("repo.items")
	ctx, span := tracer.Start(ctx, "items.Insert")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "items"))
	var size *string
	if it.SizeTitle != "" {
		size = &it.SizeTitle
	}
	var photo *string
	if it.PhotoURL != "" {
		photo = &it.PhotoURL
	}
	sql := `INSERT INTO items (item, title, price, currency, timestamp, photo_url, brand_title, size_title, found_at, item_url, query_id)
		VALUES ($1,$2,$3::decimal,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err := r.Pool.Exec(ctx, sql, it.ID, it.Title, it.Price, it.Currency, it.PublishedTS,
		photo, it.BrandTitle, size, it.FoundTS, it.URL, it.QueryID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("op=item.insert: %w", domain.ErrConflict)
		}
		return fmt.Errorf("op=item.insert: %w", err)
	}
	return nil
}

// Count returns the number of stored items.
func (r *ItemRepo) Count(ctx context.Context) (int64, error) {
	tracer := otel.Tracer("repo.items")
	ctx, span := tracer.Start(ctx, "items.Count")
	defer span.End()
	var n int64
	if err := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM items`).Scan(&n); err != nil {
		return 0, fmt.Errorf("op=item.count: %w", err)
	}
	return n, nil
}

// PruneOldest deletes the oldest rows until at most keep remain.
func (r *ItemRepo) PruneOldest(ctx context.Context, keep int) (int64, error) {
	tracer := otel.Tracer("repo.items")
	ctx, span := tracer.Start(ctx, "items.PruneOldest")
	defer span.End()
	sql := `DELETE FROM items WHERE item IN (
		SELECT item FROM items ORDER BY timestamp ASC NULLS FIRST
		OFFSET 0 LIMIT GREATEST((SELECT COUNT(*) FROM items) - $1, 0)
	)`
	tag, err := r.Pool.Exec(ctx, sql, keep)
	if err != nil {
		return 0, fmt.Errorf("op=item.prune: %w", err)
	}
	return tag.RowsAffected(), nil
}

// List returns items newest first, optionally scoped to a query URL.
func (r *ItemRepo) List(ctx context.Context, queryURL string, limit int) ([]domain.Item, error) {
	tracer := otel.Tracer("repo.items")
	ctx, span := tracer.Start(ctx, "items.List")
	defer span.End()
	if limit <= 0 {
		limit = 50
	}
	var (
		rows pgx.Rows
		err  error
	)
	if queryURL != "" {
		sql := `SELECT ` + itemCols + ` FROM items
			WHERE query_id = (SELECT id FROM queries WHERE url=$1)
			ORDER BY found_at DESC NULLS LAST LIMIT $2`
		rows, err = r.Pool.Query(ctx, sql, queryURL, limit)
	} else {
		sql := `SELECT ` + itemCols + ` FROM items ORDER BY found_at DESC NULLS LAST LIMIT $1`
		rows, err = r.Pool.Query(ctx, sql, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("op=item.list: %w", err)
	}
	defer rows.Close()
	var out []domain.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("op=item.list: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=item.list: %w", err)
	}
	return out, nil
}

// LastFound returns the most recently discovered item.
func (r *ItemRepo) LastFound(ctx context.Context) (domain.Item, error) {
	tracer := otel.Tracer("repo.items")
	ctx, span := tracer.Start(ctx, "items.LastFound")
	defer span.End()
	sql := `SELECT ` + itemCols + ` FROM items ORDER BY found_at DESC NULLS LAST LIMIT 1`
	it, err := scanItem(r.Pool.QueryRow(ctx, sql))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Item{}, fmt.Errorf("op=item.last_found: %w", domain.ErrNotFound)
		}
		return domain.Item{}, fmt.Errorf("op=item.last_found: %w", err)
	}
	return it, nil
}

// DeleteAll clears the items table.
func (r *ItemRepo) DeleteAll(ctx context.Context) error {
	tracer := otel.Tracer("repo.items")
	ctx, span := tracer.Start(ctx, "items.DeleteAll")
	defer span.End()
	if _, err := r.Pool.Exec(ctx, `DELETE FROM items`); err != nil {
		return fmt.Errorf("op=item.delete_all: %w", err)
	}
	return nil
}

// PerDay returns the average discovery rate over the stored window.
func (r *ItemRepo) PerDay(ctx context.Context) (float64, error) {
	tracer := otel.Tracer("repo.items")
	ctx, span := tracer.Start(ctx, "items.PerDay")
	defer span.End()
	sql := `SELECT COALESCE(
		COUNT(*)::float / GREATEST(EXTRACT(EPOCH FROM now()) - MIN(found_at)::float, 86400) * 86400,
		0) FROM items`
	var rate float64
	if err := r.Pool.QueryRow(ctx, sql).Scan(&rate); err != nil {
		return 0, fmt.Errorf("op=item.per_day: %w", err)
	}
	return rate, nil
}
