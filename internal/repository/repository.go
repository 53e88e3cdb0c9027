// Package repository implements data access for users, OAuth accounts and
// registered repositories on PostgreSQL.
package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// querier is satisfied by both *sqlx.DB and *sqlx.Tx so repositories can run
// inside or outside a transaction.
type querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// Store bundles the repositories over one database handle.
type Store struct {
	db    *sqlx.DB
	Users *UserRepository
	OAuth *OAuthAccountRepository
	Repos *RepoRepository
}

// NewStore creates a Store over the database connection.
func NewStore(db *sqlx.DB) *Store {
	return &Store{
		db:    db,
		Users: &UserRepository{q: db},
		OAuth: &OAuthAccountRepository{q: db},
		Repos: &RepoRepository{q: db},
	}
}

// Transact runs fn with a Store bound to a single transaction, committing on
// nil and rolling back otherwise. Nested calls join the outer transaction.
func (s *Store) Transact(ctx context.Context, fn func(*Store) error) error {
	if s.db == nil {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txStore := &Store{
		Users: &UserRepository{q: tx},
		OAuth: &OAuthAccountRepository{q: tx},
		Repos: &RepoRepository{q: tx},
	}
	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
