package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("record not found")

// Store groups the repositories the publication engine works with and offers a
// unit of work over them.
type Store interface {
	Posts() PostRepository
	Media() PostMediaRepository
	Publications() PublicationRepository
	SocialAccounts() SocialAccountRepository

	// WithTransaction runs fn against a Store bound to a single transaction.
	// The transaction commits when fn returns nil and rolls back otherwise.
	WithTransaction(ctx context.Context, fn func(tx Store) error) error
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

type sqlStore struct {
	db   *sql.DB
	q    querier
	inTx bool
}

func NewStore(db *sql.DB) Store {
	return &sqlStore{db: db, q: db}
}

func (s *sqlStore) Posts() PostRepository {
	return &postRepository{q: s.q}
}

func (s *sqlStore) Media() PostMediaRepository {
	return &postMediaRepository{q: s.q}
}

func (s *sqlStore) Publications() PublicationRepository {
	return &publicationRepository{q: s.q}
}

func (s *sqlStore) SocialAccounts() SocialAccountRepository {
	return &socialAccountRepository{q: s.q}
}

func (s *sqlStore) WithTransaction(ctx context.Context, fn func(tx Store) error) (err error) {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(&sqlStore{db: s.db, q: tx, inTx: true}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
