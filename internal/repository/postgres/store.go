package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/ReviewGo/internal/repository"
	"github.com/utafrali/ReviewGo/pkg/database"
)

// Store implements repository.Store. Reads outside Do go to the pool;
// repositories handed to Do callbacks share one READ COMMITTED transaction.
type Store struct {
	db        database.Conn
	reviews   *ReviewRepository
	summaries *SummaryRepository
}

// NewStore creates a store over db, normally a *pgxpool.Pool.
func NewStore(db database.Conn) *Store {
	return &Store{
		db:        db,
		reviews:   NewReviewRepository(db),
		summaries: NewSummaryRepository(db),
	}
}

// Reviews returns the pool-bound review repository.
func (s *Store) Reviews() repository.ReviewRepository { return s.reviews }

// Summaries returns the pool-bound summary repository.
func (s *Store) Summaries() repository.SummaryRepository { return s.summaries }

// Do runs fn in a transaction.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return database.WithTx(ctx, s.db, database.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, txScope{
			reviews:   NewReviewRepository(tx),
			summaries: NewSummaryRepository(tx),
		})
	})
}

type txScope struct {
	reviews   *ReviewRepository
	summaries *SummaryRepository
}

func (t txScope) Reviews() repository.ReviewRepository { return t.reviews }
func (t txScope) Summaries() repository.SummaryRepository { return t.summaries }
