package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/hashstructure/v2"

	"blogsync/internal/domain"
)

// codeInvalidPage is the server's error code for a page past the last one.
const codeInvalidPage = "rest_post_invalid_page_number"

// PullConfig bounds how much of the remote post list a pull reads.
type PullConfig struct {
	PerPage  int
	MaxPages int
}

// SyncService reconciles local items with the remote service. At most one
// sync, delete or image upload runs per local item at a time; a second
// request for the same item fails with domain.ErrSyncInFlight.
type SyncService struct {
	items     ItemStore
	terms     TermImporter
	pullState PullStateStore
	remote    Remote
	txManager TransactionManager
	publisher Publisher
	logger    *slog.Logger
	config    PullConfig

	mu       sync.Mutex
	inFlight map[int64]activity
	failed   map[int64]error
}

// activity is what currently holds an item's in-flight slot.
type activity int

const (
	activitySync activity = iota
	activityDelete
	activityUpload
)

func NewSyncService(
	items ItemStore,
	terms TermImporter,
	pullState PullStateStore,
	remote Remote,
	txManager TransactionManager,
	publisher Publisher,
	logger *slog.Logger,
	cfg PullConfig,
) *SyncService {
	if cfg.PerPage <= 0 {
		cfg.PerPage = 100
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	return &SyncService{
		items:     items,
		terms:     terms,
		pullState: pullState,
		remote:    remote,
		txManager: txManager,
		publisher: publisher,
		logger:    logger.With("component", "sync"),
		config:    cfg,
		inFlight:  make(map[int64]activity),
		failed:    make(map[int64]error),
	}
}

// Sync pushes one local item to the remote service and persists the
// reconciled result. On any failure the store is left untouched.
func (s *SyncService) Sync(ctx context.Context, localID int64) (*domain.SyncResult, error) {
	if err := s.begin(localID, activitySync); err != nil {
		return nil, err
	}
	res := s.sync(ctx, localID)
	if res.Err != nil {
		return nil, res.Err
	}
	return &res, nil
}

// SyncAsync is Sync without blocking the caller. The channel receives
// exactly one result. The item counts as in flight once SyncAsync returns.
func (s *SyncService) SyncAsync(ctx context.Context, localID int64) <-chan domain.SyncResult {
	ch := make(chan domain.SyncResult, 1)
	if err := s.begin(localID, activitySync); err != nil {
		ch <- domain.SyncResult{LocalID: localID, Err: err}
		return ch
	}
	go func() {
		ch <- s.sync(ctx, localID)
	}()
	return ch
}

func (s *SyncService) sync(ctx context.Context, localID int64) (res domain.SyncResult) {
	res.LocalID = localID
	defer func() { s.finish(localID, res) }()

	item, err := s.items.Get(ctx, localID)
	if err != nil {
		res.Err = fmt.Errorf("load item %d: %w", localID, err)
		return res
	}

	res.Operation = decide(item)
	logger := s.logger.With("local_id", localID, "operation", res.Operation)
	logger.Info("sync started", "remote_id", item.RemoteID, "status", item.Status.String())

	var reply *domain.Item
	switch res.Operation {
	case domain.OperationUpdate:
		reply, err = s.remote.UpdatePost(ctx, item)
	default:
		reply, err = s.remote.CreatePost(ctx, item)
	}
	if err != nil {
		logger.Error("sync failed", "error", err)
		res.Err = fmt.Errorf("%s post: %w", res.Operation, err)
		s.publish(ctx, res.Operation, item, res.Err)
		return res
	}

	merged := reconcile(item, reply, res.Operation)
	if err := stamp(merged); err != nil {
		res.Err = fmt.Errorf("fingerprint synced item: %w", err)
		return res
	}
	if err := s.items.Save(ctx, merged); err != nil {
		logger.Error("persist synced item failed", "error", err)
		res.Err = fmt.Errorf("save synced item: %w", err)
		s.publish(ctx, res.Operation, item, res.Err)
		return res
	}

	logger.Info("sync completed", "remote_id", merged.RemoteID)
	res.Item = merged
	s.publish(ctx, res.Operation, merged, nil)
	return res
}

// decide picks update only for a published item the server already knows;
// drafts and never-synced items are always created.
func decide(item *domain.Item) domain.Operation {
	if item.HasRemoteID() && item.Status == domain.StatusPublished {
		return domain.OperationUpdate
	}
	return domain.OperationCreate
}

// reconcile builds the row persisted after a successful call. The local id
// and local-only fields always come from local.
func reconcile(local, reply *domain.Item, op domain.Operation) *domain.Item {
	merged := local.Clone()
	merged.RemoteID = reply.RemoteID
	if op == domain.OperationCreate {
		return merged
	}

	merged.Title = reply.Title
	merged.Body = reply.Body
	merged.Excerpt = reply.Excerpt
	merged.Status = reply.Status
	merged.PublishedAt = reply.PublishedAt
	// Names the server could not be told about are kept.
	merged.SetCategories(append(slices.Clone(local.Categories), reply.Categories...))
	merged.SetTags(append(slices.Clone(local.Tags), reply.Tags...))
	return merged
}

// State reports where an item is in its sync lifecycle.
func (s *SyncService) State(ctx context.Context, localID int64) (domain.SyncState, error) {
	s.mu.Lock()
	act, busy := s.inFlight[localID]
	_, failed := s.failed[localID]
	s.mu.Unlock()

	if busy && act == activitySync {
		return domain.SyncStatePublishing, nil
	}

	item, err := s.items.Get(ctx, localID)
	if err != nil {
		return domain.SyncStateLocalOnly, err
	}

	switch {
	case failed:
		return domain.SyncStateFailed, nil
	case !item.HasRemoteID():
		return domain.SyncStateLocalOnly, nil
	case item.SyncedHash == "":
		// Stored before fingerprints were kept; nothing to compare against.
		return domain.SyncStateSynced, nil
	}

	edited, err := editedSinceSync(item)
	if err != nil {
		return domain.SyncStateSynced, err
	}
	if edited {
		return domain.SyncStateStale, nil
	}
	return domain.SyncStateSynced, nil
}

// LastError returns the error of the most recent failed sync of an item.
func (s *SyncService) LastError(localID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed[localID]
}

// Pull imports remote categories and tags, then reconciles remote posts
// into the store by remote id. Local items with unsent edits are skipped.
func (s *SyncService) Pull(ctx context.Context) (*domain.PullStats, error) {
	startTime := time.Now()
	s.logger.Info("starting pull",
		"per_page", s.config.PerPage,
		"max_pages", s.config.MaxPages,
	)

	stats := &domain.PullStats{}

	categories, err := s.remote.FetchCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch categories: %w", err)
	}
	if stats.Categories, err = s.terms.Import(ctx, domain.NamespaceCategory, categories); err != nil {
		return nil, fmt.Errorf("import categories: %w", err)
	}

	tags, err := s.remote.FetchTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch tags: %w", err)
	}
	if stats.Tags, err = s.terms.Import(ctx, domain.NamespaceTag, tags); err != nil {
		return nil, fmt.Errorf("import tags: %w", err)
	}

	for page := 1; page <= s.config.MaxPages; page++ {
		posts, totalPages, err := s.remote.FetchPosts(ctx, page, s.config.PerPage)
		if err != nil {
			if isPastLastPage(err) {
				break
			}
			if page == 1 {
				return nil, fmt.Errorf("fetch posts: %w", err)
			}
			s.logger.Warn("fetch posts page failed", "page", page, "error", err)
			stats.Errors++
			break
		}

		stats.Fetched += len(posts)
		s.logger.Debug("fetched page", "page", page, "posts", len(posts))

		for _, post := range posts {
			outcome, err := s.storePulled(ctx, post)
			switch {
			case err != nil:
				s.logger.Warn("store pulled post failed", "remote_id", post.RemoteID, "error", err)
				stats.Errors++
			case outcome == pullNew:
				stats.New++
			case outcome == pullUpdated:
				stats.Updated++
			default:
				stats.Skipped++
			}
		}

		if len(posts) < s.config.PerPage || (totalPages > 0 && page >= totalPages) {
			break
		}
	}

	if err := s.updatePullState(ctx, stats); err != nil {
		return stats, fmt.Errorf("update pull state: %w", err)
	}

	stats.Duration = time.Since(startTime)

	s.logger.Info("pull completed",
		"categories", stats.Categories,
		"tags", stats.Tags,
		"fetched", stats.Fetched,
		"new", stats.New,
		"updated", stats.Updated,
		"skipped", stats.Skipped,
		"errors", stats.Errors,
		"duration", stats.Duration,
	)

	return stats, nil
}

func (s *SyncService) updatePullState(ctx context.Context, stats *domain.PullStats) error {
	state, err := s.pullState.Get(ctx, s.remote.BaseURL())
	if err != nil {
		return err
	}

	state.Remote = s.remote.BaseURL()
	state.LastPulledAt = time.Now().UTC()
	state.TotalPulled += int64(stats.New + stats.Updated)

	return s.pullState.Update(ctx, state)
}

// LastPull reports when the configured remote was last pulled.
func (s *SyncService) LastPull(ctx context.Context) (*domain.PullState, error) {
	return s.pullState.Get(ctx, s.remote.BaseURL())
}

type pullOutcome int

const (
	pullSkipped pullOutcome = iota
	pullNew
	pullUpdated
)

func (s *SyncService) storePulled(ctx context.Context, post *domain.Item) (pullOutcome, error) {
	outcome := pullSkipped
	var saved *domain.Item

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		existing, err := s.items.GetByRemoteID(txCtx, post.RemoteID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			saved = post.Clone()
			saved.ID = 0
			saved.SetCategories(post.Categories)
			saved.SetTags(post.Tags)
			outcome = pullNew
		case err != nil:
			return err
		default:
			if s.hasLocalChanges(existing) {
				return nil
			}
			saved = reconcile(existing, post, domain.OperationUpdate)
			outcome = pullUpdated
		}
		if err := stamp(saved); err != nil {
			return err
		}
		return s.items.Save(txCtx, saved)
	})
	if err != nil {
		return pullSkipped, err
	}
	return outcome, nil
}

// hasLocalChanges reports whether an item is busy or was edited since the
// remote service last confirmed it.
func (s *SyncService) hasLocalChanges(item *domain.Item) bool {
	s.mu.Lock()
	_, busy := s.inFlight[item.ID]
	s.mu.Unlock()

	if busy {
		return true
	}
	if item.SyncedHash == "" {
		return false
	}
	edited, err := editedSinceSync(item)
	return err != nil || edited
}

func isPastLastPage(err error) bool {
	var pe *domain.ProtocolError
	return errors.As(err, &pe) && pe.Code == codeInvalidPage
}

// Delete removes an item locally and, when remote is set and the item was
// published before, from the remote service first. A failed remote delete
// keeps the local item.
func (s *SyncService) Delete(ctx context.Context, localID int64, remote bool) error {
	if err := s.begin(localID, activityDelete); err != nil {
		return err
	}

	var deleteErr error
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, localID)
		if deleteErr == nil {
			delete(s.failed, localID)
		}
		s.mu.Unlock()
	}()

	item, err := s.items.Get(ctx, localID)
	if err != nil {
		deleteErr = fmt.Errorf("load item %d: %w", localID, err)
		return deleteErr
	}

	if remote && item.HasRemoteID() {
		if _, err := s.remote.DeletePost(ctx, item.RemoteID); err != nil {
			deleteErr = fmt.Errorf("delete remote post %d: %w", item.RemoteID, err)
			s.publish(ctx, domain.OperationDelete, item, deleteErr)
			return deleteErr
		}
		s.logger.Info("remote post deleted", "local_id", localID, "remote_id", item.RemoteID)
	}

	if err := s.items.Delete(ctx, localID); err != nil {
		deleteErr = fmt.Errorf("delete item %d: %w", localID, err)
		return deleteErr
	}

	s.logger.Info("item deleted", "local_id", localID)
	s.publish(ctx, domain.OperationDelete, item, nil)
	return nil
}

// UploadFeaturedImage uploads an image and stores its URL and media id on
// the item. The item still has to be synced for the remote post to show it.
func (s *SyncService) UploadFeaturedImage(ctx context.Context, localID int64, path string, progress func(domain.Progress)) (*domain.Item, error) {
	if err := s.begin(localID, activityUpload); err != nil {
		return nil, err
	}
	defer s.release(localID)

	item, err := s.items.Get(ctx, localID)
	if err != nil {
		return nil, fmt.Errorf("load item %d: %w", localID, err)
	}

	media, err := s.remote.UploadMedia(ctx, path, "", progress)
	if err != nil {
		return nil, fmt.Errorf("upload featured image: %w", err)
	}

	updated := item.Clone()
	updated.FeaturedImageURL = media.URL
	updated.FeaturedMediaID = media.RemoteID
	if err := s.items.Save(ctx, updated); err != nil {
		return nil, fmt.Errorf("save featured image: %w", err)
	}

	s.logger.Info("featured image attached",
		"local_id", localID,
		"media_id", media.RemoteID,
		"url", media.URL,
	)
	return updated, nil
}

func (s *SyncService) begin(localID int64, act activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[localID]; busy {
		return fmt.Errorf("item %d: %w", localID, domain.ErrSyncInFlight)
	}
	s.inFlight[localID] = act
	return nil
}

func (s *SyncService) release(localID int64) {
	s.mu.Lock()
	delete(s.inFlight, localID)
	s.mu.Unlock()
}

func (s *SyncService) finish(localID int64, res domain.SyncResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, localID)
	if res.Err != nil {
		s.failed[localID] = res.Err
		return
	}
	delete(s.failed, localID)
}

// syncedContent is the part of an item that reaches the remote service.
type syncedContent struct {
	RemoteID        int64
	Title           string
	Body            string
	Excerpt         string
	Status          int
	Categories      string
	Tags            string
	FeaturedMediaID int64
}

func fingerprint(item *domain.Item) (string, error) {
	h, err := hashstructure.Hash(syncedContent{
		RemoteID:        item.RemoteID,
		Title:           item.Title,
		Body:            item.Body,
		Excerpt:         item.Excerpt,
		Status:          int(item.Status),
		Categories:      strings.Join(item.Categories, "\x00"),
		Tags:            strings.Join(item.Tags, "\x00"),
		FeaturedMediaID: item.FeaturedMediaID,
	}, hashstructure.FormatV2, nil)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(h, 16), nil
}

// stamp records item's current content as confirmed by the remote service.
func stamp(item *domain.Item) error {
	fp, err := fingerprint(item)
	if err != nil {
		return err
	}
	item.SyncedHash = fp
	return nil
}

func editedSinceSync(item *domain.Item) (bool, error) {
	fp, err := fingerprint(item)
	if err != nil {
		return false, err
	}
	return fp != item.SyncedHash, nil
}

func (s *SyncService) publish(ctx context.Context, op domain.Operation, item *domain.Item, err error) {
	if s.publisher == nil {
		return
	}

	event := &domain.SyncEvent{
		Action:    op,
		LocalID:   item.ID,
		RemoteID:  item.RemoteID,
		Title:     item.Title,
		Success:   err == nil,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		event.Error = domain.UserMessage(err)
	}

	if pubErr := s.publisher.Publish(ctx, event); pubErr != nil {
		s.logger.Warn("publish sync event failed",
			"local_id", item.ID,
			"action", op,
			"error", pubErr,
		)
	}
}
