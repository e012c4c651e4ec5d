package domain

import (
	"slices"
	"time"
)

// NoRemoteID marks an item that was never accepted by the remote service.
const NoRemoteID int64 = -1

type Status int

const (
	StatusDraft Status = iota
	StatusPublished
)

func (s Status) String() string {
	if s == StatusPublished {
		return "published"
	}
	return "draft"
}

// Item is a locally authored post. ID is assigned by the store on first
// save and never changes; RemoteID is assigned by the remote service.
type Item struct {
	ID               int64
	RemoteID         int64
	Title            string
	Body             string
	Excerpt          string
	PublishedAt      time.Time
	Author           string
	Status           Status
	Categories       []string
	Tags             []string
	FeaturedImageURL string
	FeaturedMediaID  int64

	// SyncedHash fingerprints the content the remote service last
	// confirmed. Empty when the item was never synced or pulled.
	SyncedHash string
}

// NewItem returns an unsaved draft.
func NewItem(title, body string) *Item {
	return &Item{
		RemoteID:        NoRemoteID,
		Title:           title,
		Body:            body,
		PublishedAt:     time.Now().UTC(),
		Status:          StatusDraft,
		FeaturedMediaID: -1,
	}
}

func (i *Item) IsPersisted() bool {
	return i.ID > 0
}

func (i *Item) HasRemoteID() bool {
	return i.RemoteID > 0
}

func (i *Item) HasFeaturedMedia() bool {
	return i.FeaturedMediaID > 0
}

// Clone returns a deep copy so callers can stage changes without touching
// the original.
func (i *Item) Clone() *Item {
	c := *i
	c.Categories = slices.Clone(i.Categories)
	c.Tags = slices.Clone(i.Tags)
	return &c
}

func (i *Item) SetCategories(names []string) {
	i.Categories = uniqueNames(names)
}

func (i *Item) AddCategory(name string) {
	i.Categories = uniqueNames(append(i.Categories, name))
}

func (i *Item) RemoveCategory(name string) {
	i.Categories = slices.DeleteFunc(i.Categories, func(n string) bool { return n == name })
}

func (i *Item) SetTags(names []string) {
	i.Tags = uniqueNames(names)
}

func (i *Item) AddTag(name string) {
	i.Tags = uniqueNames(append(i.Tags, name))
}

func (i *Item) RemoveTag(name string) {
	i.Tags = slices.DeleteFunc(i.Tags, func(n string) bool { return n == name })
}

// Names returns the item's term names for a namespace.
func (i *Item) Names(ns Namespace) []string {
	if ns == NamespaceTag {
		return i.Tags
	}
	return i.Categories
}

// uniqueNames keeps first occurrence order and drops empty names.
func uniqueNames(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Media is an uploaded binary as reported by the remote service.
type Media struct {
	RemoteID int64
	URL      string
}

// Progress reports bytes sent of an upload.
type Progress struct {
	Sent  int64
	Total int64
}

type ListFilter struct {
	PublishedOnly bool
}
