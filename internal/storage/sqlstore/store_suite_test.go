package sqlstore

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/suite"

	"blogsync/internal/domain"
)

// StoreSuite holds the behaviour shared by every dialect. Dialect suites
// embed it and provide db.
type StoreSuite struct {
	suite.Suite
	ctx   context.Context
	db    *sqlx.DB
	items *ItemStore
	terms *TermStore
}

func (s *StoreSuite) initStores() {
	s.items = NewItemStore(s.db)
	s.terms = NewTermStore(s.db)
}

func (s *StoreSuite) count(query string, args ...any) int {
	var n int
	s.Require().NoError(s.db.GetContext(s.ctx, &n, s.db.Rebind(query), args...))
	return n
}

func (s *StoreSuite) TestSave_AssignsLocalIDAndCreatesCategory() {
	item := domain.NewItem("Hello", "World")
	item.SetCategories([]string{"News"})

	s.Require().NoError(s.items.Save(s.ctx, item))

	s.GreaterOrEqual(item.ID, int64(1))
	s.Equal(domain.NoRemoteID, item.RemoteID)
	s.Equal(1, s.count("SELECT COUNT(*) FROM terms_category WHERE name = ?", "News"))
	s.Equal(1, s.count("SELECT COUNT(*) FROM item_category WHERE item_id = ?", item.ID))
}

func (s *StoreSuite) TestSave_ReplacesRelations() {
	item := domain.NewItem("Post", "")
	item.SetCategories([]string{"A", "B"})
	item.SetTags([]string{"x"})
	s.Require().NoError(s.items.Save(s.ctx, item))

	item.SetCategories([]string{"B", "C"})
	item.SetTags(nil)
	s.Require().NoError(s.items.Save(s.ctx, item))

	got, err := s.items.Get(s.ctx, item.ID)
	s.Require().NoError(err)
	s.Equal([]string{"B", "C"}, got.Categories)
	s.Empty(got.Tags)
	s.Equal(2, s.count("SELECT COUNT(*) FROM item_category WHERE item_id = ?", item.ID))
	s.Equal(3, s.count("SELECT COUNT(*) FROM terms_category"))
}

func (s *StoreSuite) TestSave_IsIdempotent() {
	item := domain.NewItem("Post", "")
	item.SetCategories([]string{"Go", "Rust"})
	s.Require().NoError(s.items.Save(s.ctx, item))
	id := item.ID

	s.Require().NoError(s.items.Save(s.ctx, item))
	s.Require().NoError(s.items.Save(s.ctx, item))

	s.Equal(id, item.ID)
	s.Equal(1, s.count("SELECT COUNT(*) FROM items"))
	s.Equal(2, s.count("SELECT COUNT(*) FROM item_category"))
}

func (s *StoreSuite) TestSave_UnknownIDInserts() {
	item := domain.NewItem("Orphan", "")
	item.ID = 999

	s.Require().NoError(s.items.Save(s.ctx, item))

	s.NotEqual(int64(999), item.ID)
	_, err := s.items.Get(s.ctx, item.ID)
	s.NoError(err)
}

func (s *StoreSuite) TestSave_RemoteIDNeverRegresses() {
	item := domain.NewItem("Synced", "")
	item.RemoteID = 42
	s.Require().NoError(s.items.Save(s.ctx, item))

	stale := item.Clone()
	stale.RemoteID = domain.NoRemoteID
	stale.Title = "Edited"
	s.Require().NoError(s.items.Save(s.ctx, stale))

	s.Equal(int64(42), stale.RemoteID)
	got, err := s.items.Get(s.ctx, item.ID)
	s.Require().NoError(err)
	s.Equal(int64(42), got.RemoteID)
	s.Equal("Edited", got.Title)
}

func (s *StoreSuite) TestGet_RoundTripsAllFields() {
	published := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	item := &domain.Item{
		RemoteID:         7,
		Title:            "Title",
		Body:             "<p>Body</p>",
		Excerpt:          "Excerpt",
		PublishedAt:      published,
		Author:           "alice",
		Status:           domain.StatusPublished,
		Categories:       []string{"Zeta", "Alpha"},
		Tags:             []string{"t1", "t2"},
		FeaturedImageURL: "https://cdn.example.com/a.png",
		FeaturedMediaID:  12,
		SyncedHash:       "9f1c2ab03e",
	}
	s.Require().NoError(s.items.Save(s.ctx, item))

	got, err := s.items.Get(s.ctx, item.ID)
	s.Require().NoError(err)
	s.True(published.Equal(got.PublishedAt))
	got.PublishedAt = item.PublishedAt
	s.Equal(item, got)
}

func (s *StoreSuite) TestGet_NotFound() {
	got, err := s.items.Get(s.ctx, 12345)
	s.Nil(got)
	s.ErrorIs(err, domain.ErrNotFound)
}

func (s *StoreSuite) TestGetByRemoteID() {
	item := domain.NewItem("Remote", "")
	item.RemoteID = 77
	s.Require().NoError(s.items.Save(s.ctx, item))

	got, err := s.items.GetByRemoteID(s.ctx, 77)
	s.Require().NoError(err)
	s.Equal(item.ID, got.ID)

	_, err = s.items.GetByRemoteID(s.ctx, 78)
	s.ErrorIs(err, domain.ErrNotFound)
	_, err = s.items.GetByRemoteID(s.ctx, domain.NoRemoteID)
	s.ErrorIs(err, domain.ErrNotFound)
}

func (s *StoreSuite) TestDelete_CascadesRelations() {
	item := domain.NewItem("Doomed", "")
	item.SetCategories([]string{"News"})
	item.SetTags([]string{"go"})
	s.Require().NoError(s.items.Save(s.ctx, item))

	s.Require().NoError(s.items.Delete(s.ctx, item.ID))

	s.Equal(0, s.count("SELECT COUNT(*) FROM items"))
	s.Equal(0, s.count("SELECT COUNT(*) FROM item_category"))
	s.Equal(0, s.count("SELECT COUNT(*) FROM item_tag"))
	s.Equal(1, s.count("SELECT COUNT(*) FROM terms_category"))

	s.ErrorIs(s.items.Delete(s.ctx, item.ID), domain.ErrNotFound)
}

func (s *StoreSuite) TestList_NewestFirstAndFilter() {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, status := range []domain.Status{domain.StatusDraft, domain.StatusPublished, domain.StatusPublished} {
		item := domain.NewItem("Post", "")
		item.PublishedAt = base.Add(time.Duration(i) * time.Hour)
		item.Status = status
		item.SetTags([]string{"t"})
		s.Require().NoError(s.items.Save(s.ctx, item))
	}

	all, err := s.items.List(s.ctx, domain.ListFilter{})
	s.Require().NoError(err)
	s.Require().Len(all, 3)
	s.True(all[0].PublishedAt.After(all[1].PublishedAt))
	s.True(all[1].PublishedAt.After(all[2].PublishedAt))
	s.Equal([]string{"t"}, all[2].Tags)

	published, err := s.items.List(s.ctx, domain.ListFilter{PublishedOnly: true})
	s.Require().NoError(err)
	s.Len(published, 2)
	for _, item := range published {
		s.Equal(domain.StatusPublished, item.Status)
	}
}

func (s *StoreSuite) TestResolveOrCreate_IsIdempotent() {
	id1, err := s.terms.ResolveOrCreate(s.ctx, domain.NamespaceCategory, "Tech")
	s.Require().NoError(err)
	id2, err := s.terms.ResolveOrCreate(s.ctx, domain.NamespaceCategory, "Tech")
	s.Require().NoError(err)

	s.Equal(id1, id2)
	s.Equal(1, s.count("SELECT COUNT(*) FROM terms_category WHERE name = ?", "Tech"))
}

func (s *StoreSuite) TestResolveOrCreate_CaseSensitiveAndNamespaced() {
	lower, err := s.terms.ResolveOrCreate(s.ctx, domain.NamespaceCategory, "tech")
	s.Require().NoError(err)
	upper, err := s.terms.ResolveOrCreate(s.ctx, domain.NamespaceCategory, "Tech")
	s.Require().NoError(err)
	s.NotEqual(lower, upper)

	_, err = s.terms.ResolveOrCreate(s.ctx, domain.NamespaceTag, "Tech")
	s.Require().NoError(err)
	s.Equal(2, s.count("SELECT COUNT(*) FROM terms_category"))
	s.Equal(1, s.count("SELECT COUNT(*) FROM terms_tag"))

	_, err = s.terms.ResolveOrCreate(s.ctx, domain.NamespaceTag, "")
	s.ErrorIs(err, domain.ErrStorage)
}

func (s *StoreSuite) TestImportRemote() {
	localID, err := s.terms.ResolveOrCreate(s.ctx, domain.NamespaceTag, "go")
	s.Require().NoError(err)

	id, err := s.terms.ImportRemote(s.ctx, domain.NamespaceTag, "go", 10)
	s.Require().NoError(err)
	s.Equal(localID, id)

	remoteID, ok, err := s.terms.RemoteIDByName(s.ctx, domain.NamespaceTag, "go")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(int64(10), remoteID)

	_, ok, err = s.terms.RemoteIDByName(s.ctx, domain.NamespaceTag, "unknown")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *StoreSuite) TestImportRemote_RenamesPlaceholder() {
	placeholder := domain.NamespaceCategory.PlaceholderName(5)
	placeholderID, err := s.terms.ImportRemote(s.ctx, domain.NamespaceCategory, placeholder, 5)
	s.Require().NoError(err)

	item := domain.NewItem("Downloaded", "")
	item.SetCategories([]string{placeholder})
	s.Require().NoError(s.items.Save(s.ctx, item))

	id, err := s.terms.ImportRemote(s.ctx, domain.NamespaceCategory, "Sport", 5)
	s.Require().NoError(err)
	s.Equal(placeholderID, id)

	got, err := s.items.Get(s.ctx, item.ID)
	s.Require().NoError(err)
	s.Equal([]string{"Sport"}, got.Categories)

	term, err := s.terms.ByRemoteID(s.ctx, domain.NamespaceCategory, 5)
	s.Require().NoError(err)
	s.Equal("Sport", term.Name)
}

func (s *StoreSuite) TestImportRemote_MovesRemoteIDBetweenNames() {
	_, err := s.terms.ImportRemote(s.ctx, domain.NamespaceCategory, "Old", 3)
	s.Require().NoError(err)
	newID, err := s.terms.ResolveOrCreate(s.ctx, domain.NamespaceCategory, "New")
	s.Require().NoError(err)

	id, err := s.terms.ImportRemote(s.ctx, domain.NamespaceCategory, "New", 3)
	s.Require().NoError(err)
	s.Equal(newID, id)

	_, ok, err := s.terms.RemoteIDByName(s.ctx, domain.NamespaceCategory, "Old")
	s.Require().NoError(err)
	s.False(ok)

	terms, err := s.terms.List(s.ctx, domain.NamespaceCategory)
	s.Require().NoError(err)
	s.Require().Len(terms, 1)
	s.Equal("New", terms[0].Name)
	s.Equal(int64(3), terms[0].RemoteID)
}

func (s *StoreSuite) TestImportRemote_MergesPlaceholderIntoExistingName() {
	placeholder := domain.NamespaceCategory.PlaceholderName(5)
	_, err := s.terms.ImportRemote(s.ctx, domain.NamespaceCategory, placeholder, 5)
	s.Require().NoError(err)
	sportID, err := s.terms.ResolveOrCreate(s.ctx, domain.NamespaceCategory, "Sport")
	s.Require().NoError(err)

	downloaded := domain.NewItem("Downloaded", "")
	downloaded.SetCategories([]string{"News", placeholder})
	s.Require().NoError(s.items.Save(s.ctx, downloaded))

	both := domain.NewItem("Both", "")
	both.SetCategories([]string{placeholder, "Sport"})
	s.Require().NoError(s.items.Save(s.ctx, both))

	id, err := s.terms.ImportRemote(s.ctx, domain.NamespaceCategory, "Sport", 5)
	s.Require().NoError(err)
	s.Equal(sportID, id)

	got, err := s.items.Get(s.ctx, downloaded.ID)
	s.Require().NoError(err)
	s.Equal([]string{"News", "Sport"}, got.Categories)

	got, err = s.items.Get(s.ctx, both.ID)
	s.Require().NoError(err)
	s.Equal([]string{"Sport"}, got.Categories)

	remoteID, ok, err := s.terms.RemoteIDByName(s.ctx, domain.NamespaceCategory, "Sport")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(int64(5), remoteID)

	s.Equal(0, s.count("SELECT COUNT(*) FROM terms_category WHERE name = ?", placeholder))
}

func (s *StoreSuite) TestPullState_GetMissingThenUpsert() {
	states := NewPullStateStore(s.db)

	state, err := states.Get(s.ctx, "https://blog.example/wp-json/wp/v2/")
	s.Require().NoError(err)
	s.True(state.LastPulledAt.IsZero())
	s.Equal(int64(0), state.TotalPulled)

	pulledAt := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	state.LastPulledAt = pulledAt
	state.TotalPulled = 5
	s.Require().NoError(states.Update(s.ctx, state))

	state.TotalPulled = 8
	s.Require().NoError(states.Update(s.ctx, state))

	got, err := states.Get(s.ctx, "https://blog.example/wp-json/wp/v2/")
	s.Require().NoError(err)
	s.Equal(int64(8), got.TotalPulled)
	s.True(pulledAt.Equal(got.LastPulledAt))
	s.Equal(1, s.count("SELECT COUNT(*) FROM pull_state"))
}
