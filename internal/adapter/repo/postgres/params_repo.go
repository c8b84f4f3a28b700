package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/vinted-notifier/internal/domain"
)

// ParamRepo is the key/value configuration table.
type ParamRepo struct{ Pool PgxPool }

// NewParamRepo constructs a ParamRepo with the given pool.
func NewParamRepo(p PgxPool) *ParamRepo { return &ParamRepo{Pool: p} }

// Get reads one parameter value.
func (r *ParamRepo) Get(ctx context.Context, key string) (string, error) {
	tracer := otel.Tracer("repo.parameters")
	ctx, span := tracer.Start(ctx, "parameters.Get")
	defer span.End()
	var v string
	err := r.Pool.QueryRow(ctx, `SELECT value FROM parameters WHERE key=$1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("op=param.get key=%s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("op=param.get key=%s: %w", key, err)
	}
	return v, nil
}

// Set upserts one parameter value.
func (r *ParamRepo) Set(ctx context.Context, key, value string) error {
	tracer := otel.Tracer("repo.parameters")
	ctx, span := tracer.Start(ctx, "parameters.Set")
	defer span.End()
	sql := `INSERT INTO parameters (key, value) VALUES ($1,$2)
		ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value`
	if _, err := r.Pool.Exec(ctx, sql, key, value); err != nil {
		return fmt.Errorf("op=param.set key=%s: %w", key, err)
	}
	return nil
}

// Increment atomically bumps an integer-valued parameter and returns it.
// Non-numeric or missing values restart from 1.
func (r *ParamRepo) Increment(ctx context.Context, key string) (int64, error) {
	tracer := otel.Tracer("repo.parameters")
	ctx, span := tracer.Start(ctx, "parameters.Increment")
	defer span.End()
	sql := `INSERT INTO parameters (key, value) VALUES ($1,'1')
		ON CONFLICT (key) DO UPDATE SET value =
			(COALESCE(NULLIF(regexp_replace(parameters.value, '\D', '', 'g'), ''), '0')::bigint + 1)::text
		RETURNING value::bigint`
	var n int64
	if err := r.Pool.QueryRow(ctx, sql, key).Scan(&n); err != nil {
		return 0, fmt.Errorf("op=param.increment key=%s: %w", key, err)
	}
	return n, nil
}

// All returns every parameter.
func (r *ParamRepo) All(ctx context.Context) (map[string]string, error) {
	tracer := otel.Tracer("repo.parameters")
	ctx, span := tracer.Start(ctx, "parameters.All")
	defer span.End()
	rows, err := r.Pool.Query(ctx, `SELECT key, value FROM parameters`)
	if err != nil {
		return nil, fmt.Errorf("op=param.all: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("op=param.all: %w", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=param.all: %w", err)
	}
	return out, nil
}
