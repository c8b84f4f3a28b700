package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/vinted-notifier/internal/domain"
)

// AllowlistRepo is the set of permitted seller countries.
type AllowlistRepo struct{ Pool PgxPool }

// NewAllowlistRepo constructs an AllowlistRepo with the given pool.
func NewAllowlistRepo(p PgxPool) *AllowlistRepo { return &AllowlistRepo{Pool: p} }

// Add inserts a country code; duplicates map to ErrConflict.
func (r *AllowlistRepo) Add(ctx context.Context, country string) error {
	tracer := otel.Tracer("repo.allowlist")
	ctx, span := tracer.Start(ctx, "allowlist.Add")
	defer span.End()
	if _, err := r.Pool.Exec(ctx, `INSERT INTO allowlist (country) VALUES ($1)`, country); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("op=allowlist.add: %w", domain.ErrConflict)
		}
		return fmt.Errorf("op=allowlist.add: %w", err)
	}
	return nil
}

// Remove deletes a country code; removing an absent code is not an error.
func (r *AllowlistRepo) Remove(ctx context.Context, country string) error {
	tracer := otel.Tracer("repo.allowlist")
	ctx, span := tracer.Start(ctx, "allowlist.Remove")
	defer span.End()
	if _, err := r.Pool.Exec(ctx, `DELETE FROM allowlist WHERE country=$1`, country); err != nil {
		return fmt.Errorf("op=allowlist.remove: %w", err)
	}
	return nil
}

// List returns all allowed countries sorted.
func (r *AllowlistRepo) List(ctx context.Context) ([]string, error) {
	tracer := otel.Tracer("repo.allowlist")
	ctx, span := tracer.Start(ctx, "allowlist.List")
	defer span.End()
	rows, err := r.Pool.Query(ctx, `SELECT country FROM allowlist ORDER BY country`)
	if err != nil {
		return nil, fmt.Errorf("op=allowlist.list: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("op=allowlist.list: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=allowlist.list: %w", err)
	}
	return out, nil
}

// Clear empties the allowlist, returning to "all countries allowed".
func (r *AllowlistRepo) Clear(ctx context.Context) error {
	tracer := otel.Tracer("repo.allowlist")
	ctx, span := tracer.Start(ctx, "allowlist.Clear")
	defer span.End()
	if _, err := r.Pool.Exec(ctx, `DELETE FROM allowlist`); err != nil {
		return fmt.Errorf("op=allowlist.clear: %w", err)
	}
	return nil
}
