package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"blogsync/internal/domain"
)

type termTables struct {
	terms string
	links string
}

func tablesFor(ns domain.Namespace) termTables {
	if ns == domain.NamespaceTag {
		return termTables{terms: "terms_tag", links: "item_tag"}
	}
	return termTables{terms: "terms_category", links: "item_category"}
}

type termRow struct {
	ID       int64         `db:"id"`
	Name     string        `db:"name"`
	RemoteID sql.NullInt64 `db:"remote_id"`
}

func (r termRow) toDomain() domain.Term {
	return domain.Term{ID: r.ID, Name: r.Name, RemoteID: r.RemoteID.Int64}
}

type TermStore struct {
	db  *sqlx.DB
	txm *TransactionManager
}

func NewTermStore(db *sqlx.DB) *TermStore {
	return &TermStore{db: db, txm: NewTransactionManager(db)}
}

// ResolveOrCreate returns the id of the term named name, creating it when
// absent. Matching is exact and case-sensitive; repeated calls never create
// a second row.
func (s *TermStore) ResolveOrCreate(ctx context.Context, ns domain.Namespace, name string) (int64, error) {
	if name == "" {
		return 0, domain.NewStorageError("resolve "+ns.String(), errors.New("empty name"))
	}

	t := tablesFor(ns)
	ex := GetExecutor(ctx, s.db)

	_, err := ex.ExecContext(ctx,
		ex.Rebind(fmt.Sprintf("INSERT INTO %s (name) VALUES (?) ON CONFLICT (name) DO NOTHING", t.terms)),
		name,
	)
	if err != nil {
		return 0, domain.NewStorageError("resolve "+ns.String(), fmt.Errorf("insert %q: %w", name, err))
	}

	var id int64
	err = sqlx.GetContext(ctx, ex, &id,
		ex.Rebind(fmt.Sprintf("SELECT id FROM %s WHERE name = ?", t.terms)),
		name,
	)
	if err != nil {
		return 0, domain.NewStorageError("resolve "+ns.String(), fmt.Errorf("select %q: %w", name, err))
	}
	return id, nil
}

func (s *TermStore) List(ctx context.Context, ns domain.Namespace) ([]domain.Term, error) {
	ex := GetExecutor(ctx, s.db)

	var rows []termRow
	err := sqlx.SelectContext(ctx, ex, &rows,
		fmt.Sprintf("SELECT id, name, remote_id FROM %s ORDER BY name", tablesFor(ns).terms),
	)
	if err != nil {
		return nil, domain.NewStorageError("list "+ns.String()+" terms", err)
	}

	terms := make([]domain.Term, len(rows))
	for i, r := range rows {
		terms[i] = r.toDomain()
	}
	return terms, nil
}

// RemoteIDByName reports the server id cached for name, if any.
func (s *TermStore) RemoteIDByName(ctx context.Context, ns domain.Namespace, name string) (int64, bool, error) {
	ex := GetExecutor(ctx, s.db)

	var remoteID sql.NullInt64
	err := sqlx.GetContext(ctx, ex, &remoteID,
		ex.Rebind(fmt.Sprintf("SELECT remote_id FROM %s WHERE name = ?", tablesFor(ns).terms)),
		name,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, domain.NewStorageError("lookup "+ns.String()+" remote id", err)
	}
	if !remoteID.Valid || remoteID.Int64 <= 0 {
		return 0, false, nil
	}
	return remoteID.Int64, true, nil
}

// ByRemoteID returns the term bound to a server id.
func (s *TermStore) ByRemoteID(ctx context.Context, ns domain.Namespace, remoteID int64) (*domain.Term, error) {
	ex := GetExecutor(ctx, s.db)

	var row termRow
	err := sqlx.GetContext(ctx, ex, &row,
		ex.Rebind(fmt.Sprintf("SELECT id, name, remote_id FROM %s WHERE remote_id = ? ORDER BY id LIMIT 1", tablesFor(ns).terms)),
		remoteID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s with remote id %d: %w", ns, remoteID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, domain.NewStorageError("lookup "+ns.String()+" by remote id", err)
	}
	term := row.toDomain()
	return &term, nil
}

// ImportRemote binds remoteID to the term called name. When no term has that
// name but one already holds remoteID (a placeholder, or a term renamed on
// the server), that term is renamed so existing relations follow it. When
// both exist, the holder's relations move to name and the holder is dropped.
func (s *TermStore) ImportRemote(ctx context.Context, ns domain.Namespace, name string, remoteID int64) (int64, error) {
	if name == "" || remoteID <= 0 {
		return 0, fmt.Errorf("invalid remote %s %q (%d)", ns, name, remoteID)
	}

	t := tablesFor(ns)
	var id int64

	err := s.txm.WithTransaction(ctx, func(txCtx context.Context) error {
		ex := GetExecutor(txCtx, s.db)

		err := sqlx.GetContext(txCtx, ex, &id,
			ex.Rebind(fmt.Sprintf("SELECT id FROM %s WHERE name = ?", t.terms)),
			name,
		)
		switch {
		case err == nil:
			if err := s.mergeHolders(txCtx, t, remoteID, id); err != nil {
				return err
			}
			_, err = ex.ExecContext(txCtx,
				ex.Rebind(fmt.Sprintf("UPDATE %s SET remote_id = ? WHERE id = ?", t.terms)),
				remoteID, id,
			)
			return err
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		err = sqlx.GetContext(txCtx, ex, &id,
			ex.Rebind(fmt.Sprintf("SELECT id FROM %s WHERE remote_id = ? ORDER BY id LIMIT 1", t.terms)),
			remoteID,
		)
		switch {
		case err == nil:
			_, err = ex.ExecContext(txCtx,
				ex.Rebind(fmt.Sprintf("UPDATE %s SET name = ? WHERE id = ?", t.terms)),
				name, id,
			)
			return err
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		return sqlx.GetContext(txCtx, ex, &id,
			ex.Rebind(fmt.Sprintf("INSERT INTO %s (name, remote_id) VALUES (?, ?) RETURNING id", t.terms)),
			name, remoteID,
		)
	})
	if err != nil {
		return 0, domain.NewStorageError("import "+ns.String(), err)
	}
	return id, nil
}

// mergeHolders folds every other term bound to remoteID into targetID.
// Items already linked to targetID keep their existing position.
func (s *TermStore) mergeHolders(ctx context.Context, t termTables, remoteID, targetID int64) error {
	ex := GetExecutor(ctx, s.db)

	var holders []int64
	err := sqlx.SelectContext(ctx, ex, &holders,
		ex.Rebind(fmt.Sprintf("SELECT id FROM %s WHERE remote_id = ? AND id <> ?", t.terms)),
		remoteID, targetID,
	)
	if err != nil {
		return fmt.Errorf("find holders of remote id %d: %w", remoteID, err)
	}

	for _, holder := range holders {
		_, err := ex.ExecContext(ctx,
			ex.Rebind(fmt.Sprintf(`
				INSERT INTO %[1]s (item_id, term_id, position)
				SELECT item_id, CAST(? AS BIGINT), position FROM %[1]s WHERE term_id = ?
				ON CONFLICT DO NOTHING`, t.links)),
			targetID, holder,
		)
		if err != nil {
			return fmt.Errorf("move relations of term %d: %w", holder, err)
		}

		if _, err := ex.ExecContext(ctx,
			ex.Rebind(fmt.Sprintf("DELETE FROM %s WHERE term_id = ?", t.links)),
			holder,
		); err != nil {
			return fmt.Errorf("clear relations of term %d: %w", holder, err)
		}

		if _, err := ex.ExecContext(ctx,
			ex.Rebind(fmt.Sprintf("DELETE FROM %s WHERE id = ?", t.terms)),
			holder,
		); err != nil {
			return fmt.Errorf("drop term %d: %w", holder, err)
		}
	}
	return nil
}
