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

// QueryRepo persists saved searches.
type QueryRepo struct{ Pool PgxPool }

// NewQueryRepo constructs a QueryRepo with the given pool.
func NewQueryRepo(p PgxPool) *QueryRepo { return &QueryRepo{Pool: p} }

const queryCols = `id, url, COALESCE(query_name,''), COALESCE(last_item,0)::bigint, thread_id, priority`

func scanQuery(row pgx.Row) (domain.Query, error) {
	var q domain.Query
	if err := row.Scan(&q.ID, &q.URL, &q.Name, &q.LastItemTS, &q.ThreadID, &q.Priority); err != nil {
		return domain.Query{}, err
	}
	return q, nil
}

// Create inserts a new query and returns its id. The unique constraint on url
// maps to ErrConflict.
func (r *QueryRepo) Create(ctx context.Context, q domain.Query) (int64, error) {
	tracer := otel.Tracer("repo.queries")
	ctx, span := tracer.Start(ctx, "queries.Create")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "queries"))
	var name *string
	if q.Name != "" {
		name = &q.Name
	}
	var id int64
	sql := `INSERT INTO queries (url, query_name, last_item, thread_id, priority) VALUES ($1,$2,$3,$4,$5) RETURNING id`
	err := r.Pool.QueryRow(ctx, sql, q.URL, name, q.LastItemTS, q.ThreadID, q.Priority).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, fmt.Errorf("op=query.create: %w", domain.ErrConflict)
		}
		return 0, fmt.Errorf("op=query.create: %w", err)
	}
	return id, nil
}

// Get loads a query by id.
func (r *QueryRepo) Get(ctx context.Context, id int64) (domain.Query, error) {
	tracer := otel.Tracer("repo.queries")
	ctx, span := tracer.Start(ctx, "queries.Get")
	defer span.End()
	q, err := scanQuery(r.Pool.QueryRow(ctx, `SELECT `+queryCols+` FROM queries WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Query{}, fmt.Errorf("op=query.get: %w", domain.ErrNotFound)
		}
		return domain.Query{}, fmt.Errorf("op=query.get: %w", err)
	}
	return q, nil
}

// GetByURL loads a query by its canonical URL.
func (r *QueryRepo) GetByURL(ctx context.Context, url string) (domain.Query, error) {
	tracer := otel.Tracer("repo.queries")
	ctx, span := tracer.Start(ctx, "queries.GetByURL")
	defer span.End()
	q, err := scanQuery(r.Pool.QueryRow(ctx, `SELECT `+queryCols+` FROM queries WHERE url=$1`, url))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Query{}, fmt.Errorf("op=query.get_by_url: %w", domain.ErrNotFound)
		}
		return domain.Query{}, fmt.Errorf("op=query.get_by_url: %w", err)
	}
	return q, nil
}

// List returns all queries ordered by id.
func (r *QueryRepo) List(ctx context.Context) ([]domain.Query, error) {
	tracer := otel.Tracer("repo.queries")
	ctx, span := tracer.Start(ctx, "queries.List")
	defer span.End()
	rows, err := r.Pool.Query(ctx, `SELECT `+queryCols+` FROM queries ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("op=query.list: %w", err)
	}
	defer rows.Close()
	var out []domain.Query
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, fmt.Errorf("op=query.list: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=query.list: %w", err)
	}
	return out, nil
}

// Update rewrites the mutable fields of a query.
func (r *QueryRepo) Update(ctx context.Context, q domain.Query) error {
	tracer := otel.Tracer("repo.queries")
	ctx, span := tracer.Start(ctx, "queries.Update")
	defer span.End()
	var name *string
	if q.Name != "" {
		name = &q.Name
	}
	sql := `UPDATE queries SET url=$2, query_name=$3, thread_id=$4, priority=$5 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, sql, q.ID, q.URL, name, q.ThreadID, q.Priority)
	if err != nil {
		return fmt.Errorf("op=query.update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=query.update: %w", domain.ErrNotFound)
	}
	return nil
}

// UpdateThreadID sets or clears the notifier routing key.
func (r *QueryRepo) UpdateThreadID(ctx context.Context, id int64, threadID *int64) error {
	tracer := otel.Tracer("repo.queries")
	ctx, span := tracer.Start(ctx, "queries.UpdateThreadID")
	defer span.End()
	tag, err := r.Pool.Exec(ctx, `UPDATE queries SET thread_id=$2 WHERE id=$1`, id, threadID)
	if err != nil {
		return fmt.Errorf("op=query.update_thread: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=query.update_thread: %w", domain.ErrNotFound)
	}
	return nil
}

// UpdateWatermark raises last_item to ts; it never lowers it.
func (r *QueryRepo) UpdateWatermark(ctx context.Context, id int64, ts int64) error {
	tracer := otel.Tracer("repo.queries")
	ctx, span := tracer.Start(ctx, "queries.UpdateWatermark")
	defer span.End()
	sql := `UPDATE queries SET last_item=$2 WHERE id=$1 AND (last_item IS NULL OR last_item < $2)`
	if _, err := r.Pool.Exec(ctx, sql, id, ts); err != nil {
		return fmt.Errorf("op=query.update_watermark: %w", err)
	}
	return nil
}

// Delete removes a query; items cascade via the FK.
func (r *QueryRepo) Delete(ctx context.Context, id int64) error {
	tracer := otel.Tracer("repo.queries")
	ctx, span := tracer.Start(ctx, "queries.Delete")
	defer span.End()
	tag, err := r.Pool.Exec(ctx, `DELETE FROM queries WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("op=query.delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=query.delete: %w", domain.ErrNotFound)
	}
	return nil
}

// DeleteAll removes every query and, through the cascade, every item.
func (r *QueryRepo) DeleteAll(ctx context.Context) error {
	tracer := otel.Tracer("repo.queries")
	ctx, span := tracer.Start(ctx, "queries.DeleteAll")
	defer span.End()
	if _, err := r.Pool.Exec(ctx, `DELETE FROM queries`); err != nil {
		return fmt.Errorf("op=query.delete_all: %w", err)
	}
	return nil
}
