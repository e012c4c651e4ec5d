package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"blogsync/internal/domain"
)

const (
	wireStatusPublish = "publish"
	wireStatusDraft   = "draft"
)

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05"}

func statusToWire(s domain.Status) string {
	if s == domain.StatusPublished {
		return wireStatusPublish
	}
	return wireStatusDraft
}

func statusFromWire(s string) domain.Status {
	if s == wireStatusPublish {
		return domain.StatusPublished
	}
	return domain.StatusDraft
}

// EncodePost builds the create/update body. Names without a known remote id
// are left out rather than failing the request.
func (a *Adapter) EncodePost(ctx context.Context, item *domain.Item) ([]byte, error) {
	payload := PostPayload{
		Title:   rawField{Raw: item.Title},
		Content: rawField{Raw: item.Body},
		Excerpt: rawField{Raw: item.Excerpt},
		Status:  statusToWire(item.Status),
	}

	var err error
	if payload.Categories, err = a.remoteIDs(ctx, domain.NamespaceCategory, item.Categories); err != nil {
		return nil, err
	}
	if payload.Tags, err = a.remoteIDs(ctx, domain.NamespaceTag, item.Tags); err != nil {
		return nil, err
	}
	if item.HasFeaturedMedia() {
		payload.FeaturedMedia = item.FeaturedMediaID
	}

	return json.Marshal(payload)
}

func (a *Adapter) remoteIDs(ctx context.Context, ns domain.Namespace, names []string) ([]int64, error) {
	var ids []int64
	for _, name := range names {
		id, ok, err := a.terms.RemoteIDForName(ctx, ns, name)
		if err != nil {
			return nil, err
		}
		if !ok {
			a.logger.Warn("no remote id for term, omitting",
				"namespace", ns.String(),
				"name", name,
			)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// DecodePost turns a single post response into an unsaved item. The local
// id is never read from the wire.
func (a *Adapter) DecodePost(ctx context.Context, resp Response) (*domain.Item, error) {
	var p Post
	if err := decodeObject(resp, &p); err != nil {
		return nil, err
	}
	if p.ID <= 0 {
		return nil, &domain.ProtocolError{StatusCode: resp.StatusCode, Message: "response has no post id"}
	}
	return a.toItem(ctx, &p)
}

// DecodePosts decodes a post list, skipping entries that are not posts.
func (a *Adapter) DecodePosts(ctx context.Context, resp Response) ([]*domain.Item, error) {
	var raw []json.RawMessage
	if err := decodeArray(resp, &raw); err != nil {
		return nil, err
	}

	items := make([]*domain.Item, 0, len(raw))
	for _, r := range raw {
		var p Post
		if err := json.Unmarshal(r, &p); err != nil || p.ID <= 0 {
			a.logger.Debug("skipping malformed post entry", "error", err)
			continue
		}
		item, err := a.toItem(ctx, &p)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (a *Adapter) toItem(ctx context.Context, p *Post) (*domain.Item, error) {
	item := &domain.Item{
		RemoteID:        p.ID,
		Title:           rendered(p.Title),
		Body:            rendered(p.Content),
		Excerpt:         rendered(p.Excerpt),
		PublishedAt:     a.parseDate(p.DateGMT, p.Date),
		Author:          authorString(p.Author),
		Status:          statusFromWire(p.Status),
		FeaturedMediaID: -1,
	}
	if p.FeaturedMedia > 0 {
		item.FeaturedMediaID = p.FeaturedMedia
	}

	for _, id := range p.Categories {
		if id <= 0 {
			continue
		}
		name, err := a.terms.NameForRemoteID(ctx, domain.NamespaceCategory, id)
		if err != nil {
			return nil, err
		}
		item.AddCategory(name)
	}
	for _, id := range p.Tags {
		if id <= 0 {
			continue
		}
		name, err := a.terms.NameForRemoteID(ctx, domain.NamespaceTag, id)
		if err != nil {
			return nil, err
		}
		item.AddTag(name)
	}
	return item, nil
}

func DecodeTerms(resp Response) ([]domain.Term, error) {
	var list []APITerm
	if err := decodeArray(resp, &list); err != nil {
		return nil, err
	}
	terms := make([]domain.Term, 0, len(list))
	for _, t := range list {
		terms = append(terms, domain.Term{Name: t.Name, RemoteID: t.ID})
	}
	return terms, nil
}

func DecodeMedia(resp Response) (*domain.Media, error) {
	var m Media
	if err := decodeObject(resp, &m); err != nil {
		return nil, err
	}
	url := m.SourceURL
	if url == "" && m.GUID != nil {
		url = m.GUID.Rendered
	}
	if url == "" {
		return nil, &domain.ProtocolError{StatusCode: resp.StatusCode, Message: "response has no media url"}
	}
	id := m.ID
	if id <= 0 {
		id = -1
	}
	return &domain.Media{RemoteID: id, URL: url}, nil
}

// DecodeDeleted returns the remote id reported as deleted.
func DecodeDeleted(resp Response) (int64, error) {
	var d DeleteResponse
	if err := decodeObject(resp, &d); err != nil {
		return 0, err
	}
	if !d.Deleted {
		return 0, &domain.ProtocolError{StatusCode: resp.StatusCode, Message: "post was not deleted"}
	}
	if d.Previous == nil {
		return 0, nil
	}
	return d.Previous.ID, nil
}

// CheckStatus converts a response outside [200,300) into a ProtocolError
// carrying the server's code and message when it sent one.
func CheckStatus(resp Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	pe := &domain.ProtocolError{StatusCode: resp.StatusCode}
	var apiErr APIError
	if json.Unmarshal(resp.Body, &apiErr) == nil {
		pe.Code = apiErr.Code
		pe.Message = apiErr.Message
	}
	return pe
}

func decodeObject(resp Response, v any) error {
	if err := CheckStatus(resp); err != nil {
		return err
	}
	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 || body[0] != '{' {
		return &domain.ProtocolError{StatusCode: resp.StatusCode, Message: "expected a JSON object"}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &domain.ProtocolError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func decodeArray(resp Response, v any) error {
	if err := CheckStatus(resp); err != nil {
		return err
	}
	body := bytes.TrimSpace(resp.Body)
	if len(body) > 0 && body[0] == '{' {
		// Some servers answer list requests with an error object and 200.
		var apiErr APIError
		if json.Unmarshal(body, &apiErr) == nil && (apiErr.Code != "" || apiErr.Message != "") {
			return &domain.ProtocolError{StatusCode: resp.StatusCode, Code: apiErr.Code, Message: apiErr.Message}
		}
	}
	if len(body) == 0 || body[0] != '[' {
		return &domain.ProtocolError{StatusCode: resp.StatusCode, Message: "expected a JSON array"}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &domain.ProtocolError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func rendered(f *renderedField) string {
	if f == nil {
		return ""
	}
	return f.Rendered
}

// authorString accepts the numeric user id the service sends as well as a
// plain name.
func authorString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// parseDate prefers the GMT field and falls back to the site-local one.
// An absent or unparsable date yields the current time.
func (a *Adapter) parseDate(gmt, local string) time.Time {
	if t, ok := parseISO(gmt, time.UTC); ok {
		return t
	}
	if t, ok := parseISO(local, time.Local); ok {
		return t.UTC()
	}
	return a.now().UTC()
}

func parseISO(value string, loc *time.Location) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func formatRemoteID(id int64) string {
	return strconv.FormatInt(id, 10)
}
