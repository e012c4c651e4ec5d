package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"blogsync/internal/domain"
)

var namespaces = []domain.Namespace{domain.NamespaceCategory, domain.NamespaceTag}

const itemColumns = `id, remote_id, title, body, excerpt, published_at, author, status, featured_image_url, featured_media_id, synced_hash`

type itemRow struct {
	ID               int64     `db:"id"`
	RemoteID         int64     `db:"remote_id"`
	Title            string    `db:"title"`
	Body             string    `db:"body"`
	Excerpt          string    `db:"excerpt"`
	PublishedAt      time.Time `db:"published_at"`
	Author           string    `db:"author"`
	Status           int       `db:"status"`
	FeaturedImageURL string    `db:"featured_image_url"`
	FeaturedMediaID  int64     `db:"featured_media_id"`
	SyncedHash       string    `db:"synced_hash"`
}

func (r itemRow) toDomain() *domain.Item {
	return &domain.Item{
		ID:               r.ID,
		RemoteID:         r.RemoteID,
		Title:            r.Title,
		Body:             r.Body,
		Excerpt:          r.Excerpt,
		PublishedAt:      r.PublishedAt.UTC(),
		Author:           r.Author,
		Status:           domain.Status(r.Status),
		FeaturedImageURL: r.FeaturedImageURL,
		FeaturedMediaID:  r.FeaturedMediaID,
		SyncedHash:       r.SyncedHash,
	}
}

type ItemStore struct {
	db    *sqlx.DB
	terms *TermStore
	txm   *TransactionManager
}

func NewItemStore(db *sqlx.DB) *ItemStore {
	return &ItemStore{
		db:    db,
		terms: NewTermStore(db),
		txm:   NewTransactionManager(db),
	}
}

// Save inserts item when its id is unset or unknown, otherwise overwrites
// the row. Category and tag relations are replaced wholesale in the same
// transaction. On success item.ID and item.RemoteID hold the stored values;
// on failure item is left untouched.
func (s *ItemStore) Save(ctx context.Context, item *domain.Item) error {
	var id, remoteID int64

	err := s.txm.WithTransaction(ctx, func(txCtx context.Context) error {
		ex := GetExecutor(txCtx, s.db)

		exists := false
		if item.ID > 0 {
			var count int
			err := sqlx.GetContext(txCtx, ex, &count, ex.Rebind("SELECT COUNT(*) FROM items WHERE id = ?"), item.ID)
			if err != nil {
				return fmt.Errorf("check item: %w", err)
			}
			exists = count > 0
		}

		publishedAt := item.PublishedAt
		if publishedAt.IsZero() {
			publishedAt = time.Now()
		}
		publishedAt = publishedAt.UTC()

		newRemoteID := item.RemoteID
		if newRemoteID <= 0 {
			newRemoteID = domain.NoRemoteID
		}

		if exists {
			query := `
				UPDATE items SET
					remote_id = CASE WHEN CAST(? AS BIGINT) > 0 THEN CAST(? AS BIGINT) ELSE remote_id END,
					title = ?,
					body = ?,
					excerpt = ?,
					published_at = ?,
					author = ?,
					status = ?,
					featured_image_url = ?,
					featured_media_id = ?,
					synced_hash = ?
				WHERE id = ?
				RETURNING id, remote_id`

			row := ex.QueryRowxContext(txCtx, ex.Rebind(query),
				newRemoteID, newRemoteID,
				item.Title,
				item.Body,
				item.Excerpt,
				publishedAt,
				item.Author,
				int(item.Status),
				item.FeaturedImageURL,
				item.FeaturedMediaID,
				item.SyncedHash,
				item.ID,
			)
			if err := row.Scan(&id, &remoteID); err != nil {
				return fmt.Errorf("update item: %w", err)
			}
		} else {
			query := `
				INSERT INTO items (
					remote_id, title, body, excerpt, published_at, author,
					status, featured_image_url, featured_media_id, synced_hash
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				RETURNING id, remote_id`

			row := ex.QueryRowxContext(txCtx, ex.Rebind(query),
				newRemoteID,
				item.Title,
				item.Body,
				item.Excerpt,
				publishedAt,
				item.Author,
				int(item.Status),
				item.FeaturedImageURL,
				item.FeaturedMediaID,
				item.SyncedHash,
			)
			if err := row.Scan(&id, &remoteID); err != nil {
				return fmt.Errorf("insert item: %w", err)
			}
		}

		for _, ns := range namespaces {
			if err := s.replaceRelations(txCtx, ns, id, item.Names(ns)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.NewStorageError("save item", err)
	}

	item.ID = id
	item.RemoteID = remoteID
	return nil
}

func (s *ItemStore) replaceRelations(ctx context.Context, ns domain.Namespace, itemID int64, names []string) error {
	t := tablesFor(ns)
	ex := GetExecutor(ctx, s.db)

	_, err := ex.ExecContext(ctx,
		ex.Rebind(fmt.Sprintf("DELETE FROM %s WHERE item_id = ?", t.links)),
		itemID,
	)
	if err != nil {
		return fmt.Errorf("clear %s relations: %w", ns, err)
	}

	for pos, name := range names {
		if name == "" {
			continue
		}
		termID, err := s.terms.ResolveOrCreate(ctx, ns, name)
		if err != nil {
			return err
		}

		_, err = ex.ExecContext(ctx,
			ex.Rebind(fmt.Sprintf("INSERT INTO %s (item_id, term_id, position) VALUES (?, ?, ?) ON CONFLICT DO NOTHING", t.links)),
			itemID, termID, pos,
		)
		if err != nil {
			return fmt.Errorf("link %s %q: %w", ns, name, err)
		}
	}
	return nil
}

// Delete removes the item and its relations.
func (s *ItemStore) Delete(ctx context.Context, id int64) error {
	err := s.txm.WithTransaction(ctx, func(txCtx context.Context) error {
		ex := GetExecutor(txCtx, s.db)

		for _, ns := range namespaces {
			_, err := ex.ExecContext(txCtx,
				ex.Rebind(fmt.Sprintf("DELETE FROM %s WHERE item_id = ?", tablesFor(ns).links)),
				id,
			)
			if err != nil {
				return fmt.Errorf("delete %s relations: %w", ns, err)
			}
		}

		res, err := ex.ExecContext(txCtx, ex.Rebind("DELETE FROM items WHERE id = ?"), id)
		if err != nil {
			return fmt.Errorf("delete item: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("item %d: %w", id, domain.ErrNotFound)
		}
		return nil
	})
	return domain.NewStorageError("delete item", err)
}

// Get returns the item with its category and tag names, or ErrNotFound.
func (s *ItemStore) Get(ctx context.Context, id int64) (*domain.Item, error) {
	return s.getOne(ctx, "id", id)
}

// GetByRemoteID returns the oldest local item bound to a server id.
func (s *ItemStore) GetByRemoteID(ctx context.Context, remoteID int64) (*domain.Item, error) {
	if remoteID <= 0 {
		return nil, fmt.Errorf("remote id %d: %w", remoteID, domain.ErrNotFound)
	}
	return s.getOne(ctx, "remote_id", remoteID)
}

func (s *ItemStore) getOne(ctx context.Context, column string, value int64) (*domain.Item, error) {
	ex := GetExecutor(ctx, s.db)

	var row itemRow
	err := sqlx.GetContext(ctx, ex, &row,
		ex.Rebind(fmt.Sprintf("SELECT %s FROM items WHERE %s = ? ORDER BY id LIMIT 1", itemColumns, column)),
		value,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %s %d: %w", column, value, domain.ErrNotFound)
	}
	if err != nil {
		return nil, domain.NewStorageError("get item", err)
	}

	item := row.toDomain()
	if err := s.attachNames(ctx, []*domain.Item{item}); err != nil {
		return nil, domain.NewStorageError("get item", err)
	}
	return item, nil
}

// List returns items newest publish time first.
func (s *ItemStore) List(ctx context.Context, filter domain.ListFilter) ([]*domain.Item, error) {
	ex := GetExecutor(ctx, s.db)

	query := "SELECT " + itemColumns + " FROM items"
	var args []any
	if filter.PublishedOnly {
		query += " WHERE status = ?"
		args = append(args, int(domain.StatusPublished))
	}
	query += " ORDER BY published_at DESC, id DESC"

	var rows []itemRow
	if err := sqlx.SelectContext(ctx, ex, &rows, ex.Rebind(query), args...); err != nil {
		return nil, domain.NewStorageError("list items", err)
	}

	items := make([]*domain.Item, len(rows))
	for i, r := range rows {
		items[i] = r.toDomain()
	}

	if err := s.attachNames(ctx, items); err != nil {
		return nil, domain.NewStorageError("list items", err)
	}
	return items, nil
}

type relationRow struct {
	ItemID int64  `db:"item_id"`
	Name   string `db:"name"`
}

func (s *ItemStore) attachNames(ctx context.Context, items []*domain.Item) error {
	if len(items) == 0 {
		return nil
	}

	ex := GetExecutor(ctx, s.db)
	byID := make(map[int64]*domain.Item, len(items))
	ids := make([]int64, len(items))
	for i, item := range items {
		byID[item.ID] = item
		ids[i] = item.ID
	}

	for _, ns := range namespaces {
		t := tablesFor(ns)
		query, args, err := sqlx.In(fmt.Sprintf(`
			SELECT r.item_id, t.name
			FROM %s t
			INNER JOIN %s r ON r.term_id = t.id
			WHERE r.item_id IN (?)
			ORDER BY r.item_id, r.position`, t.terms, t.links), ids)
		if err != nil {
			return err
		}

		var rows []relationRow
		if err := sqlx.SelectContext(ctx, ex, &rows, ex.Rebind(query), args...); err != nil {
			return fmt.Errorf("load %s names: %w", ns, err)
		}

		for _, r := range rows {
			item := byID[r.ItemID]
			if ns == domain.NamespaceTag {
				item.Tags = append(item.Tags, r.Name)
			} else {
				item.Categories = append(item.Categories, r.Name)
			}
		}
	}
	return nil
}
