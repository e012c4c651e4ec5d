// Package taxonomy maps category and tag names to local term ids and to the
// remote service's ids. Names are the portable identity of a term; nothing
// outside this package relies on that.
package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"blogsync/internal/domain"
)

type TermStore interface {
	ResolveOrCreate(ctx context.Context, ns domain.Namespace, name string) (int64, error)
	RemoteIDByName(ctx context.Context, ns domain.Namespace, name string) (int64, bool, error)
	ByRemoteID(ctx context.Context, ns domain.Namespace, remoteID int64) (*domain.Term, error)
	ImportRemote(ctx context.Context, ns domain.Namespace, name string, remoteID int64) (int64, error)
}

type Resolver struct {
	store  TermStore
	logger *slog.Logger
}

func NewResolver(store TermStore, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		logger: logger.With("component", "taxonomy"),
	}
}

// LocalIDForName returns the local term id for name, creating the term if
// it does not exist yet.
func (r *Resolver) LocalIDForName(ctx context.Context, ns domain.Namespace, name string) (int64, error) {
	return r.store.ResolveOrCreate(ctx, ns, name)
}

// RemoteIDForName reports the remote id known for name. ok is false when the
// name has never been seen on the remote side.
func (r *Resolver) RemoteIDForName(ctx context.Context, ns domain.Namespace, name string) (int64, bool, error) {
	return r.store.RemoteIDByName(ctx, ns, name)
}

// NameForRemoteID returns the name of the term bound to remoteID. An
// unknown id gets a placeholder term ("Category12") persisted for it, so
// an item referencing it can still be ingested and later downloads agree.
func (r *Resolver) NameForRemoteID(ctx context.Context, ns domain.Namespace, remoteID int64) (string, error) {
	term, err := r.store.ByRemoteID(ctx, ns, remoteID)
	if err == nil {
		return term.Name, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}

	name := ns.PlaceholderName(remoteID)
	if _, err := r.store.ImportRemote(ctx, ns, name, remoteID); err != nil {
		return "", fmt.Errorf("create placeholder %s: %w", name, err)
	}

	r.logger.Warn("unknown remote term, created placeholder",
		"namespace", ns.String(),
		"remote_id", remoteID,
		"name", name,
	)
	return name, nil
}

// Import records the remote ids of a fetched term list.
func (r *Resolver) Import(ctx context.Context, ns domain.Namespace, terms []domain.Term) (int, error) {
	imported := 0
	for _, t := range terms {
		if t.Name == "" || t.RemoteID <= 0 {
			r.logger.Debug("skipping remote term", "namespace", ns.String(), "remote_id", t.RemoteID)
			continue
		}
		if _, err := r.store.ImportRemote(ctx, ns, t.Name, t.RemoteID); err != nil {
			return imported, fmt.Errorf("import %s %q: %w", ns, t.Name, err)
		}
		imported++
	}
	return imported, nil
}
