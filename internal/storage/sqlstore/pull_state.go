package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"blogsync/internal/domain"
)

// PullStateStore remembers when each remote was last pulled.
type PullStateStore struct {
	db *sqlx.DB
}

func NewPullStateStore(db *sqlx.DB) *PullStateStore {
	return &PullStateStore{db: db}
}

// Get returns the state for remote, or a zero state if it was never pulled.
func (s *PullStateStore) Get(ctx context.Context, remote string) (*domain.PullState, error) {
	ex := GetExecutor(ctx, s.db)

	var state domain.PullState
	err := sqlx.GetContext(ctx, ex, &state, ex.Rebind(`
		SELECT remote, last_pulled_at, total_pulled
		FROM pull_state
		WHERE remote = ?`), remote)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.PullState{Remote: remote}, nil
	}
	if err != nil {
		return nil, domain.NewStorageError("get pull state", err)
	}
	state.LastPulledAt = state.LastPulledAt.UTC()
	return &state, nil
}

func (s *PullStateStore) Update(ctx context.Context, state *domain.PullState) error {
	ex := GetExecutor(ctx, s.db)

	_, err := ex.ExecContext(ctx, ex.Rebind(`
		INSERT INTO pull_state (remote, last_pulled_at, total_pulled)
		VALUES (?, ?, ?)
		ON CONFLICT (remote) DO UPDATE SET
			last_pulled_at = EXCLUDED.last_pulled_at,
			total_pulled = EXCLUDED.total_pulled`),
		state.Remote,
		state.LastPulledAt.UTC(),
		state.TotalPulled,
	)
	return domain.NewStorageError("update pull state", err)
}
