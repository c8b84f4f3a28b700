package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/vinted-notifier/internal/domain"
	"github.com/fairyhunter13/vinted-notifier/internal/usecase"
)

// seedYAML is the QUERY_SEED_FILE document shape.
type seedYAML struct {
	Queries []seedQuery `yaml:"queries"`
}

type seedQuery struct {
	URL      string `yaml:"url"`
	Name     string `yaml:"name"`
	ThreadID *int64 `yaml:"thread_id"`
	Priority bool   `yaml:"priority"`
}

// seedQueries applies the seed file idempotently: queries already present
// (after canonicalization) are left untouched.
func seedQueries(ctx context.Context, admin *usecase.Admin, store domain.Store, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("seed file not found: %s", path)
		}
		return err
	}
	var doc seedYAML
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("yaml parse: %w", err)
	}
	if len(doc.Queries) == 0 {
		// A bare list of URLs is accepted too.
		var urls []string
		if err := yaml.Unmarshal(b, &urls); err == nil {
			for _, u := range urls {
				doc.Queries = append(doc.Queries, seedQuery{URL: u})
			}
		}
	}
	if len(doc.Queries) == 0 {
		return fmt.Errorf("no queries to seed in %s", path)
	}

	added := 0
	for _, sq := range doc.Queries {
		q, created, err := admin.AddQuery(ctx, sq.URL, sq.Name, sq.ThreadID)
		if err != nil {
			return fmt.Errorf("seed query %q: %w", sq.URL, err)
		}
		if created {
			added++
		}
		if sq.Priority && !q.Priority {
			q.Priority = true
			if err := store.Queries().Update(ctx, q); err != nil {
				return fmt.Errorf("seed query %q: set priority: %w", sq.URL, err)
			}
		}
	}
	slog.Info("query seed applied",
		slog.String("file", path),
		slog.Int("total", len(doc.Queries)),
		slog.Int("added", added))
	return nil
}
