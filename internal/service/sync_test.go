package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"blogsync/internal/domain"
	"blogsync/internal/service/mocks"
)

type SyncServiceTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	items     *mocks.MockItemStore
	terms     *mocks.MockTermImporter
	pullState *mocks.MockPullStateStore
	remote    *mocks.MockRemote
	txManager *mocks.MockTransactionManager
	publisher *mocks.MockPublisher

	service *SyncService
	cfg     PullConfig
	logger  *slog.Logger
}

func (s *SyncServiceTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.items = mocks.NewMockItemStore(s.ctrl)
	s.terms = mocks.NewMockTermImporter(s.ctrl)
	s.pullState = mocks.NewMockPullStateStore(s.ctrl)
	s.remote = mocks.NewMockRemote(s.ctrl)
	s.txManager = mocks.NewMockTransactionManager(s.ctrl)
	s.publisher = mocks.NewMockPublisher(s.ctrl)

	s.cfg = PullConfig{PerPage: 2, MaxPages: 3}

	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	s.remote.EXPECT().BaseURL().Return("https://blog.example/wp-json/wp/v2/").AnyTimes()

	s.service = NewSyncService(
		s.items,
		s.terms,
		s.pullState,
		s.remote,
		s.txManager,
		s.publisher,
		s.logger,
		s.cfg,
	)
}

func (s *SyncServiceTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestSyncServiceTestSuite(t *testing.T) {
	suite.Run(t, new(SyncServiceTestSuite))
}

func (s *SyncServiceTestSuite) expectPullState(ctx context.Context, pulled int64) {
	remote := "https://blog.example/wp-json/wp/v2/"
	s.pullState.EXPECT().Get(ctx, remote).Return(&domain.PullState{Remote: remote, TotalPulled: 10}, nil)
	s.pullState.EXPECT().Update(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, state *domain.PullState) error {
		s.Equal(remote, state.Remote)
		s.Equal(10+pulled, state.TotalPulled)
		s.False(state.LastPulledAt.IsZero())
		return nil
	})
}

func (s *SyncServiceTestSuite) expectTx(ctx context.Context) {
	s.txManager.EXPECT().WithTransaction(ctx, gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		},
	)
}

func localItem(id, remoteID int64, status domain.Status) *domain.Item {
	item := domain.NewItem("Hello", "<p>Body</p>")
	item.ID = id
	item.RemoteID = remoteID
	item.Status = status
	item.Author = "me"
	item.FeaturedImageURL = "https://img/cover.png"
	item.SetCategories([]string{"News"})
	return item
}

func (s *SyncServiceTestSuite) TestSync_NoRemoteIDCreates() {
	ctx := context.Background()
	item := localItem(7, domain.NoRemoteID, domain.StatusPublished)

	s.items.EXPECT().Get(ctx, int64(7)).Return(item, nil)
	s.remote.EXPECT().CreatePost(ctx, item).Return(&domain.Item{RemoteID: 42, Title: "server title"}, nil)
	s.items.EXPECT().Save(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, saved *domain.Item) error {
		s.Equal(int64(7), saved.ID)
		s.Equal(int64(42), saved.RemoteID)
		s.True(saved.HasRemoteID())
		s.Equal("Hello", saved.Title)
		return nil
	})
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, ev *domain.SyncEvent) error {
		s.Equal(domain.OperationCreate, ev.Action)
		s.True(ev.Success)
		s.Equal(int64(42), ev.RemoteID)
		return nil
	})

	res, err := s.service.Sync(ctx, 7)

	s.Require().NoError(err)
	s.Equal(domain.OperationCreate, res.Operation)
	s.Equal(int64(42), res.Item.RemoteID)
	s.Equal(int64(domain.NoRemoteID), item.RemoteID, "caller's item must not be mutated")
}

func (s *SyncServiceTestSuite) TestSync_PublishedWithRemoteIDUpdates() {
	ctx := context.Background()
	item := localItem(7, 42, domain.StatusPublished)
	item.Tags = []string{"local-only"}

	published := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	reply := &domain.Item{
		RemoteID:    42,
		Title:       "Hello (edited on server)",
		Body:        "<p>Rendered</p>",
		Excerpt:     "ex",
		Status:      domain.StatusPublished,
		PublishedAt: published,
		Author:      "1",
		Categories:  []string{"News", "Category9"},
	}

	s.items.EXPECT().Get(ctx, int64(7)).Return(item, nil)
	s.remote.EXPECT().UpdatePost(ctx, item).Return(reply, nil)
	s.items.EXPECT().Save(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, saved *domain.Item) error {
		s.Equal(int64(7), saved.ID)
		s.Equal(int64(42), saved.RemoteID)
		s.Equal(reply.Title, saved.Title)
		s.Equal(reply.Body, saved.Body)
		s.Equal(published, saved.PublishedAt)
		s.Equal("me", saved.Author)
		s.Equal("https://img/cover.png", saved.FeaturedImageURL)
		s.Equal([]string{"News", "Category9"}, saved.Categories)
		s.Equal([]string{"local-only"}, saved.Tags)
		return nil
	})
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	res, err := s.service.Sync(ctx, 7)

	s.Require().NoError(err)
	s.Equal(domain.OperationUpdate, res.Operation)
}

func (s *SyncServiceTestSuite) TestSync_DraftWithStaleRemoteIDCreates() {
	ctx := context.Background()
	item := localItem(7, 42, domain.StatusDraft)

	s.items.EXPECT().Get(ctx, int64(7)).Return(item, nil)
	s.remote.EXPECT().CreatePost(ctx, item).Return(&domain.Item{RemoteID: 43}, nil)
	s.items.EXPECT().Save(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, saved *domain.Item) error {
		s.Equal(int64(43), saved.RemoteID)
		return nil
	})
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	res, err := s.service.Sync(ctx, 7)

	s.Require().NoError(err)
	s.Equal(domain.OperationCreate, res.Operation)
}

func (s *SyncServiceTestSuite) TestSync_RemoteFailureLeavesStoreUntouched() {
	ctx := context.Background()
	item := localItem(7, 42, domain.StatusPublished)
	remoteErr := &domain.ProtocolError{StatusCode: 500, Code: "internal", Message: "boom"}

	s.items.EXPECT().Get(ctx, int64(7)).Return(item, nil)
	s.remote.EXPECT().UpdatePost(ctx, item).Return(nil, remoteErr)
	s.items.EXPECT().Save(gomock.Any(), gomock.Any()).Times(0)
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, ev *domain.SyncEvent) error {
		s.False(ev.Success)
		s.Contains(ev.Error, "HTTP 500")
		return nil
	})

	res, err := s.service.Sync(ctx, 7)

	s.Nil(res)
	s.ErrorIs(err, domain.ErrProtocol)
	s.Equal(int64(42), item.RemoteID)
	s.Equal("Hello", item.Title)

	s.items.EXPECT().Get(ctx, int64(7)).Return(item, nil)
	state, err := s.service.State(ctx, 7)
	s.Require().NoError(err)
	s.Equal(domain.SyncStateFailed, state)
	s.ErrorIs(s.service.LastError(7), domain.ErrProtocol)
}

func (s *SyncServiceTestSuite) TestSync_StorageFailureAfterRemoteSuccess() {
	ctx := context.Background()
	item := localItem(7, domain.NoRemoteID, domain.StatusPublished)

	s.items.EXPECT().Get(ctx, int64(7)).Return(item, nil)
	s.remote.EXPECT().CreatePost(ctx, item).Return(&domain.Item{RemoteID: 42}, nil)
	s.items.EXPECT().Save(ctx, gomock.Any()).Return(&domain.StorageError{Op: "save item", Err: errors.New("disk full")})
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	_, err := s.service.Sync(ctx, 7)

	s.ErrorIs(err, domain.ErrStorage)
}

func (s *SyncServiceTestSuite) TestSync_PublishFailureDoesNotFailSync() {
	ctx := context.Background()
	item := localItem(7, domain.NoRemoteID, domain.StatusDraft)

	s.items.EXPECT().Get(ctx, int64(7)).Return(item, nil)
	s.remote.EXPECT().CreatePost(ctx, item).Return(&domain.Item{RemoteID: 1}, nil)
	s.items.EXPECT().Save(ctx, gomock.Any()).Return(nil)
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(errors.New("broker down"))

	_, err := s.service.Sync(ctx, 7)

	s.NoError(err)
}

func (s *SyncServiceTestSuite) TestSync_NilPublisher() {
	ctx := context.Background()
	svc := NewSyncService(s.items, s.terms, s.pullState, s.remote, s.txManager, nil, s.logger, s.cfg)
	item := localItem(7, domain.NoRemoteID, domain.StatusDraft)

	s.items.EXPECT().Get(ctx, int64(7)).Return(item, nil)
	s.remote.EXPECT().CreatePost(ctx, item).Return(&domain.Item{RemoteID: 1}, nil)
	s.items.EXPECT().Save(ctx, gomock.Any()).Return(nil)

	_, err := svc.Sync(ctx, 7)

	s.NoError(err)
}

func (s *SyncServiceTestSuite) TestSyncAsync_RejectsSecondSyncOfSameItem() {
	ctx := context.Background()
	item := localItem(7, domain.NoRemoteID, domain.StatusPublished)

	release := make(chan struct{})
	s.items.EXPECT().Get(ctx, int64(7)).Return(item, nil)
	s.remote.EXPECT().CreatePost(ctx, item).DoAndReturn(func(context.Context, *domain.Item) (*domain.Item, error) {
		<-release
		return &domain.Item{RemoteID: 42}, nil
	})
	s.items.EXPECT().Save(ctx, gomock.Any()).Return(nil)
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	first := s.service.SyncAsync(ctx, 7)

	state, err := s.service.State(ctx, 7)
	s.Require().NoError(err)
	s.Equal(domain.SyncStatePublishing, state)

	second := <-s.service.SyncAsync(ctx, 7)
	s.ErrorIs(second.Err, domain.ErrSyncInFlight)

	_, err = s.service.Sync(ctx, 7)
	s.ErrorIs(err, domain.ErrSyncInFlight)

	close(release)
	res := <-first
	s.Require().NoError(res.Err)
	s.Equal(int64(42), res.Item.RemoteID)
}

func (s *SyncServiceTestSuite) TestState_Transitions() {
	ctx := context.Background()
	item := localItem(7, domain.NoRemoteID, domain.StatusPublished)

	s.items.EXPECT().Get(ctx, int64(7)).Return(item, nil)
	state, err := s.service.State(ctx, 7)
	s.Require().NoError(err)
	s.Equal(domain.SyncStateLocalOnly, state)

	var persisted *domain.Item
	s.items.EXPECT().Get(ctx, int64(7)).Return(item, nil)
	s.remote.EXPECT().CreatePost(ctx, item).Return(&domain.Item{RemoteID: 42}, nil)
	s.items.EXPECT().Save(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, saved *domain.Item) error {
		s.NotEmpty(saved.SyncedHash)
		persisted = saved.Clone()
		return nil
	})
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)
	_, err = s.service.Sync(ctx, 7)
	s.Require().NoError(err)

	s.items.EXPECT().Get(ctx, int64(7)).Return(persisted.Clone(), nil)
	state, err = s.service.State(ctx, 7)
	s.Require().NoError(err)
	s.Equal(domain.SyncStateSynced, state)

	edited := persisted.Clone()
	edited.Title = "Edited offline"
	s.items.EXPECT().Get(ctx, int64(7)).Return(edited, nil)
	state, err = s.service.State(ctx, 7)
	s.Require().NoError(err)
	s.Equal(domain.SyncStateStale, state)

	// A later run only has what the store kept.
	restarted := NewSyncService(s.items, s.terms, s.pullState, s.remote, s.txManager, s.publisher, s.logger, s.cfg)
	s.items.EXPECT().Get(ctx, int64(7)).Return(edited.Clone(), nil)
	state, err = restarted.State(ctx, 7)
	s.Require().NoError(err)
	s.Equal(domain.SyncStateStale, state)

	s.items.EXPECT().Get(ctx, int64(7)).Return(persisted.Clone(), nil)
	state, err = restarted.State(ctx, 7)
	s.Require().NoError(err)
	s.Equal(domain.SyncStateSynced, state)
}

func (s *SyncServiceTestSuite) TestPull_ImportsTermsAndReconcilesPosts() {
	ctx := context.Background()

	categories := []domain.Term{{Name: "News", RemoteID: 3}}
	tags := []domain.Term{{Name: "go", RemoteID: 5}}
	s.remote.EXPECT().FetchCategories(ctx).Return(categories, nil)
	s.terms.EXPECT().Import(ctx, domain.NamespaceCategory, categories).Return(1, nil)
	s.remote.EXPECT().FetchTags(ctx).Return(tags, nil)
	s.terms.EXPECT().Import(ctx, domain.NamespaceTag, tags).Return(1, nil)

	fresh := &domain.Item{RemoteID: 100, Title: "From server", Status: domain.StatusPublished}
	changed := &domain.Item{RemoteID: 101, Title: "Server edit", Status: domain.StatusPublished}
	s.remote.EXPECT().FetchPosts(ctx, 1, 2).Return([]*domain.Item{fresh, changed}, 2, nil)

	last := &domain.Item{RemoteID: 102, Title: "Last"}
	s.remote.EXPECT().FetchPosts(ctx, 2, 2).Return([]*domain.Item{last}, 2, nil)

	s.txManager.EXPECT().WithTransaction(ctx, gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		},
	).Times(3)

	s.items.EXPECT().GetByRemoteID(ctx, int64(100)).Return(nil, domain.ErrNotFound)
	s.items.EXPECT().GetByRemoteID(ctx, int64(101)).Return(localItem(5, 101, domain.StatusPublished), nil)
	s.items.EXPECT().GetByRemoteID(ctx, int64(102)).Return(nil, errors.New("db gone"))

	var savedTitles []string
	s.items.EXPECT().Save(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, saved *domain.Item) error {
		savedTitles = append(savedTitles, saved.Title)
		s.NotEmpty(saved.SyncedHash)
		if saved.RemoteID == 100 {
			s.Equal(int64(0), saved.ID)
			saved.ID = 9
		} else {
			s.Equal(int64(5), saved.ID)
			s.Equal("me", saved.Author)
		}
		return nil
	}).Times(2)
	s.expectPullState(ctx, 2)

	stats, err := s.service.Pull(ctx)

	s.Require().NoError(err)
	s.Equal(1, stats.Categories)
	s.Equal(1, stats.Tags)
	s.Equal(3, stats.Fetched)
	s.Equal(1, stats.New)
	s.Equal(1, stats.Updated)
	s.Equal(1, stats.Errors)
	s.Equal([]string{"From server", "Server edit"}, savedTitles)
}

func (s *SyncServiceTestSuite) TestPull_SkipsItemsWithLocalEdits() {
	ctx := context.Background()

	synced := localItem(5, 101, domain.StatusPublished)
	s.Require().NoError(stamp(synced))
	edited := synced.Clone()
	edited.Body = "unsent local edit"

	s.remote.EXPECT().FetchCategories(ctx).Return(nil, nil)
	s.terms.EXPECT().Import(ctx, domain.NamespaceCategory, gomock.Any()).Return(0, nil)
	s.remote.EXPECT().FetchTags(ctx).Return(nil, nil)
	s.terms.EXPECT().Import(ctx, domain.NamespaceTag, gomock.Any()).Return(0, nil)
	s.remote.EXPECT().FetchPosts(ctx, 1, 2).Return([]*domain.Item{{RemoteID: 101, Title: "Server"}}, 1, nil)
	s.expectTx(ctx)
	s.items.EXPECT().GetByRemoteID(ctx, int64(101)).Return(edited, nil)
	s.items.EXPECT().Save(gomock.Any(), gomock.Any()).Times(0)
	s.expectPullState(ctx, 0)

	stats, err := s.service.Pull(ctx)

	s.Require().NoError(err)
	s.Equal(1, stats.Skipped)
	s.Equal(0, stats.Updated)
}

func (s *SyncServiceTestSuite) TestPull_UpdatesUneditedSyncedItem() {
	ctx := context.Background()

	synced := localItem(5, 101, domain.StatusPublished)
	s.Require().NoError(stamp(synced))

	s.remote.EXPECT().FetchCategories(ctx).Return(nil, nil)
	s.terms.EXPECT().Import(ctx, domain.NamespaceCategory, gomock.Any()).Return(0, nil)
	s.remote.EXPECT().FetchTags(ctx).Return(nil, nil)
	s.terms.EXPECT().Import(ctx, domain.NamespaceTag, gomock.Any()).Return(0, nil)
	s.remote.EXPECT().FetchPosts(ctx, 1, 2).Return([]*domain.Item{{RemoteID: 101, Title: "Server"}}, 1, nil)
	s.expectTx(ctx)
	s.items.EXPECT().GetByRemoteID(ctx, int64(101)).Return(synced, nil)
	s.items.EXPECT().Save(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, saved *domain.Item) error {
		s.Equal("Server", saved.Title)
		s.NotEqual(synced.SyncedHash, saved.SyncedHash)
		edited, err := editedSinceSync(saved)
		s.Require().NoError(err)
		s.False(edited)
		return nil
	})
	s.expectPullState(ctx, 1)

	stats, err := s.service.Pull(ctx)

	s.Require().NoError(err)
	s.Equal(1, stats.Updated)
}

func (s *SyncServiceTestSuite) TestPull_StopsPastLastPage() {
	ctx := context.Background()

	s.remote.EXPECT().FetchCategories(ctx).Return(nil, nil)
	s.terms.EXPECT().Import(ctx, domain.NamespaceCategory, gomock.Any()).Return(0, nil)
	s.remote.EXPECT().FetchTags(ctx).Return(nil, nil)
	s.terms.EXPECT().Import(ctx, domain.NamespaceTag, gomock.Any()).Return(0, nil)
	s.remote.EXPECT().FetchPosts(ctx, 1, 2).Return(nil, 0,
		&domain.ProtocolError{StatusCode: 400, Code: codeInvalidPage})
	s.expectPullState(ctx, 0)

	stats, err := s.service.Pull(ctx)

	s.Require().NoError(err)
	s.Equal(0, stats.Fetched)
}

func (s *SyncServiceTestSuite) TestPull_FetchFailure() {
	ctx := context.Background()

	s.remote.EXPECT().FetchCategories(ctx).Return(nil, &domain.TransportError{Op: "GET", Err: errors.New("offline")})

	stats, err := s.service.Pull(ctx)

	s.Nil(stats)
	s.ErrorIs(err, domain.ErrTransport)
}

func (s *SyncServiceTestSuite) TestPull_StateUpdateFailure() {
	ctx := context.Background()

	s.remote.EXPECT().FetchCategories(ctx).Return(nil, nil)
	s.terms.EXPECT().Import(ctx, domain.NamespaceCategory, gomock.Any()).Return(0, nil)
	s.remote.EXPECT().FetchTags(ctx).Return(nil, nil)
	s.terms.EXPECT().Import(ctx, domain.NamespaceTag, gomock.Any()).Return(0, nil)
	s.remote.EXPECT().FetchPosts(ctx, 1, 2).Return(nil, 0, nil)
	s.pullState.EXPECT().Get(ctx, gomock.Any()).Return(nil, &domain.StorageError{Op: "get pull state", Err: errors.New("locked")})

	stats, err := s.service.Pull(ctx)

	s.NotNil(stats)
	s.ErrorIs(err, domain.ErrStorage)
}

func (s *SyncServiceTestSuite) TestDelete_RemoteThenLocal() {
	ctx := context.Background()
	item := localItem(7, 42, domain.StatusPublished)

	gomock.InOrder(
		s.items.EXPECT().Get(ctx, int64(7)).Return(item, nil),
		s.remote.EXPECT().DeletePost(ctx, int64(42)).Return(int64(42), nil),
		s.items.EXPECT().Delete(ctx, int64(7)).Return(nil),
	)
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, ev *domain.SyncEvent) error {
		s.Equal(domain.OperationDelete, ev.Action)
		s.True(ev.Success)
		return nil
	})

	s.NoError(s.service.Delete(ctx, 7, true))
}

func (s *SyncServiceTestSuite) TestDelete_RemoteFailureKeepsLocal() {
	ctx := context.Background()
	item := localItem(7, 42, domain.StatusPublished)

	s.items.EXPECT().Get(ctx, int64(7)).Return(item, nil)
	s.remote.EXPECT().DeletePost(ctx, int64(42)).Return(int64(0), &domain.ProtocolError{StatusCode: 404})
	s.items.EXPECT().Delete(gomock.Any(), gomock.Any()).Times(0)
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	s.ErrorIs(s.service.Delete(ctx, 7, true), domain.ErrProtocol)
}

func (s *SyncServiceTestSuite) TestDelete_InFlightBlocksSyncButIsNotPublishing() {
	ctx := context.Background()
	item := localItem(7, 42, domain.StatusPublished)

	release := make(chan struct{})
	started := make(chan struct{})
	s.items.EXPECT().Get(ctx, int64(7)).Return(item, nil)
	s.remote.EXPECT().DeletePost(ctx, int64(42)).DoAndReturn(func(context.Context, int64) (int64, error) {
		close(started)
		<-release
		return 42, nil
	})
	s.items.EXPECT().Delete(ctx, int64(7)).Return(nil)
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	done := make(chan error, 1)
	go func() { done <- s.service.Delete(ctx, 7, true) }()
	<-started

	s.items.EXPECT().Get(ctx, int64(7)).Return(item, nil)
	state, err := s.service.State(ctx, 7)
	s.Require().NoError(err)
	s.NotEqual(domain.SyncStatePublishing, state)

	_, err = s.service.Sync(ctx, 7)
	s.ErrorIs(err, domain.ErrSyncInFlight)

	close(release)
	s.NoError(<-done)
}

func (s *SyncServiceTestSuite) TestDelete_LocalOnly() {
	ctx := context.Background()
	item := localItem(7, domain.NoRemoteID, domain.StatusDraft)

	s.items.EXPECT().Get(ctx, int64(7)).Return(item, nil)
	s.items.EXPECT().Delete(ctx, int64(7)).Return(nil)
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	s.NoError(s.service.Delete(ctx, 7, true))
}

func (s *SyncServiceTestSuite) TestUploadFeaturedImage() {
	ctx := context.Background()
	item := localItem(7, 42, domain.StatusPublished)
	item.FeaturedImageURL = ""

	s.items.EXPECT().Get(ctx, int64(7)).Return(item, nil)
	s.remote.EXPECT().UploadMedia(ctx, "/tmp/cover.png", "", gomock.Any()).
		Return(&domain.Media{RemoteID: 12, URL: "https://blog/cover.png"}, nil)
	s.items.EXPECT().Save(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, saved *domain.Item) error {
		s.Equal("https://blog/cover.png", saved.FeaturedImageURL)
		s.Equal(int64(12), saved.FeaturedMediaID)
		return nil
	})

	updated, err := s.service.UploadFeaturedImage(ctx, 7, "/tmp/cover.png", nil)

	s.Require().NoError(err)
	s.True(updated.HasFeaturedMedia())
	s.Empty(item.FeaturedImageURL)
}

func (s *SyncServiceTestSuite) TestUploadFeaturedImage_BlocksConcurrentSync() {
	ctx := context.Background()
	item := localItem(7, 42, domain.StatusPublished)

	release := make(chan struct{})
	started := make(chan struct{})
	s.items.EXPECT().Get(ctx, int64(7)).Return(item, nil)
	s.remote.EXPECT().UploadMedia(ctx, "/tmp/cover.png", "", gomock.Any()).DoAndReturn(
		func(context.Context, string, string, func(domain.Progress)) (*domain.Media, error) {
			close(started)
			<-release
			return &domain.Media{RemoteID: 12, URL: "https://blog/cover.png"}, nil
		})
	s.items.EXPECT().Save(ctx, gomock.Any()).Return(nil)

	type uploadResult struct {
		item *domain.Item
		err  error
	}
	done := make(chan uploadResult, 1)
	go func() {
		updated, err := s.service.UploadFeaturedImage(ctx, 7, "/tmp/cover.png", nil)
		done <- uploadResult{updated, err}
	}()
	<-started

	res := <-s.service.SyncAsync(ctx, 7)
	s.ErrorIs(res.Err, domain.ErrSyncInFlight)

	_, err := s.service.UploadFeaturedImage(ctx, 7, "/tmp/other.png", nil)
	s.ErrorIs(err, domain.ErrSyncInFlight)

	close(release)
	up := <-done
	s.Require().NoError(up.err)
	s.Equal(int64(12), up.item.FeaturedMediaID)

	s.items.EXPECT().Get(ctx, int64(7)).Return(up.item, nil)
	state, err := s.service.State(ctx, 7)
	s.Require().NoError(err)
	s.NotEqual(domain.SyncStatePublishing, state)
}

func (s *SyncServiceTestSuite) TestUploadFeaturedImage_UploadFails() {
	ctx := context.Background()

	s.items.EXPECT().Get(ctx, int64(7)).Return(localItem(7, 42, domain.StatusPublished), nil)
	s.remote.EXPECT().UploadMedia(ctx, "/tmp/cover.png", "", gomock.Any()).
		Return(nil, &domain.ConfigurationError{Field: "file", Message: "too large"})
	s.items.EXPECT().Save(gomock.Any(), gomock.Any()).Times(0)

	_, err := s.service.UploadFeaturedImage(ctx, 7, "/tmp/cover.png", nil)

	s.ErrorIs(err, domain.ErrConfiguration)
}
