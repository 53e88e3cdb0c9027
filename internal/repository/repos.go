package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Mosqlimate-project/Data-platform-sub000/internal/domain"
)

// RepoRepository reads the platform's registered repositories. The identity
// core only consults it to mark provider repositories as unavailable; it
// never mutates the table.
type RepoRepository struct {
	q querier
}

// RegisteredNames returns which of the given full names are already
// registered for the provider.
func (r *RepoRepository) RegisteredNames(ctx context.Context, provider domain.Provider, names []string) (map[string]bool, error) {
	if len(names) == 0 {
		return map[string]bool{}, nil
	}

	query, args, err := sqlx.In(
		`SELECT name FROM repositories WHERE provider = ? AND name IN (?)`,
		provider, names)
	if err != nil {
		return nil, fmt.Errorf("build registered names query: %w", err)
	}
	query = r.q.Rebind(query)

	var registered []string
	if err := r.q.SelectContext(ctx, &registered, query, args...); err != nil {
		return nil, fmt.Errorf("list registered repositories: %w", err)
	}

	result := make(map[string]bool, len(registered))
	for _, name := range registered {
		result[name] = true
	}
	return result, nil
}
