// Package postgres provides the PostgreSQL store adapter.
//
// It implements the domain repository interfaces over a pgx pool and owns the
// idempotent schema migrations that run at boot.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fairyhunter13/vinted-notifier/internal/domain"
)

// PgxPool is a minimal subset of pgxpool used by the repos for easy testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Store aggregates the repositories over one pool.
type Store struct {
	queries   *QueryRepo
	items     *ItemRepo
	params    *ParamRepo
	allowlist *AllowlistRepo
}

// NewStore constructs a Store with all repositories sharing the pool.
func NewStore(p PgxPool) *Store {
	return &Store{
		queries:   NewQueryRepo(p),
		items:     NewItemRepo(p),
		params:    NewParamRepo(p),
		allowlist: NewAllowlistRepo(p),
	}
}

// Queries returns the query repository.
func (s *Store) Queries() domain.QueryRepository { return s.queries }

// Items returns the item repository.
func (s *Store) Items() domain.ItemRepository { return s.items }

// Parameters returns the parameter repository.
func (s *Store) Parameters() domain.ParameterRepository { return s.params }

// Allowlist returns the allowlist repository.
func (s *Store) Allowlist() domain.AllowlistRepository { return s.allowlist }
