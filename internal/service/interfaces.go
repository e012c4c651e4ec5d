package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"blogsync/internal/domain"
)

type ItemStore interface {
	Save(ctx context.Context, item *domain.Item) error
	Get(ctx context.Context, id int64) (*domain.Item, error)
	GetByRemoteID(ctx context.Context, remoteID int64) (*domain.Item, error)
	List(ctx context.Context, filter domain.ListFilter) ([]*domain.Item, error)
	Delete(ctx context.Context, id int64) error
}

type TermImporter interface {
	Import(ctx context.Context, ns domain.Namespace, terms []domain.Term) (int, error)
}

type PullStateStore interface {
	Get(ctx context.Context, remote string) (*domain.PullState, error)
	Update(ctx context.Context, state *domain.PullState) error
}

type Remote interface {
	BaseURL() string
	FetchPosts(ctx context.Context, page, perPage int) ([]*domain.Item, int, error)
	CreatePost(ctx context.Context, item *domain.Item) (*domain.Item, error)
	UpdatePost(ctx context.Context, item *domain.Item) (*domain.Item, error)
	DeletePost(ctx context.Context, remoteID int64) (int64, error)
	FetchCategories(ctx context.Context) ([]domain.Term, error)
	FetchTags(ctx context.Context) ([]domain.Term, error)
	UploadMedia(ctx context.Context, path, title string, progress func(domain.Progress)) (*domain.Media, error)
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	Publish(ctx context.Context, event *domain.SyncEvent) error
	Close() error
}
