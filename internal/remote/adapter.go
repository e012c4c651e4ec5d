// Package remote speaks the blog service's REST dialect: it builds requests
// for an Executor and turns responses back into domain values.
package remote

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"blogsync/internal/domain"
)

const (
	UserAgent = "blogsync/1.0"

	DefaultPerPage       = 100
	DefaultMaxUploadSize = 50 << 20
)

// Request is a single HTTP exchange handed to an Executor.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
	Upload *Upload
}

// Upload describes a multipart file body. Fields are sent as extra form
// values next to the file part.
type Upload struct {
	FieldName   string
	FileName    string
	ContentType string
	Content     io.Reader
	Size        int64
	Fields      map[string]string
	Progress    func(domain.Progress)
}

// Response is the completed exchange. Err is set when no HTTP response was
// received at all.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Err        error
}

// Executor performs requests asynchronously. The returned channel yields
// exactly one Response.
type Executor interface {
	Do(ctx context.Context, req *Request) <-chan Response
}

// TermResolver maps taxonomy names to the remote service's ids and back.
type TermResolver interface {
	RemoteIDForName(ctx context.Context, ns domain.Namespace, name string) (int64, bool, error)
	NameForRemoteID(ctx context.Context, ns domain.Namespace, remoteID int64) (string, error)
}

type Config struct {
	BaseURL       string
	Username      string
	Password      string
	MaxUploadSize int64
}

type Adapter struct {
	exec      Executor
	terms     TermResolver
	baseURL   string
	username  string
	password  string
	maxUpload int64
	logger    *slog.Logger
	now       func() time.Time
}

func New(cfg Config, exec Executor, terms TermResolver, logger *slog.Logger) *Adapter {
	maxUpload := cfg.MaxUploadSize
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadSize
	}
	return &Adapter{
		exec:      exec,
		terms:     terms,
		baseURL:   NormalizeBaseURL(cfg.BaseURL),
		username:  cfg.Username,
		password:  cfg.Password,
		maxUpload: maxUpload,
		logger:    logger.With("component", "remote"),
		now:       time.Now,
	}
}

// NormalizeBaseURL turns a site address into the API root, e.g.
// "https://blog.example" becomes "https://blog.example/wp-json/wp/v2/".
func NormalizeBaseURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return ""
	}
	if !strings.HasSuffix(u, "/") {
		u += "/"
	}
	if !strings.Contains(u, "wp-json") {
		u += "wp-json/"
	}
	if !strings.Contains(u, "wp/v2") {
		u += "wp/v2/"
	}
	return u
}

func (a *Adapter) BaseURL() string {
	return a.baseURL
}

// HasCredentials reports whether write operations can be attempted.
func (a *Adapter) HasCredentials() bool {
	return a.username != "" && a.password != ""
}

// FetchPosts returns one page of remote posts and the total page count the
// server reported (0 when absent).
func (a *Adapter) FetchPosts(ctx context.Context, page, perPage int) ([]*domain.Item, int, error) {
	if perPage <= 0 || perPage > DefaultPerPage {
		perPage = DefaultPerPage
	}
	if page < 1 {
		page = 1
	}
	query := url.Values{}
	query.Set("per_page", strconv.Itoa(perPage))
	query.Set("page", strconv.Itoa(page))

	req, err := a.newRequest(http.MethodGet, "posts", query, nil, false)
	if err != nil {
		return nil, 0, err
	}
	resp, err := a.roundTrip(ctx, req)
	if err != nil {
		return nil, 0, err
	}

	items, err := a.DecodePosts(ctx, resp)
	if err != nil {
		return nil, 0, err
	}

	totalPages, _ := strconv.Atoi(resp.Header.Get("X-WP-TotalPages"))

	a.logger.Debug("fetched posts",
		"page", page,
		"posts", len(items),
		"total_pages", totalPages,
	)
	return items, totalPages, nil
}

// CreatePost publishes an item that has no remote counterpart and returns
// the server's view of it.
func (a *Adapter) CreatePost(ctx context.Context, item *domain.Item) (*domain.Item, error) {
	body, err := a.EncodePost(ctx, item)
	if err != nil {
		return nil, err
	}
	req, err := a.newRequest(http.MethodPost, "posts", nil, body, true)
	if err != nil {
		return nil, err
	}
	resp, err := a.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	return a.DecodePost(ctx, resp)
}

// UpdatePost overwrites the remote post identified by item.RemoteID.
func (a *Adapter) UpdatePost(ctx context.Context, item *domain.Item) (*domain.Item, error) {
	if !item.HasRemoteID() {
		return nil, &domain.ConfigurationError{Field: "remote_id", Message: "item has no remote post to update"}
	}
	body, err := a.EncodePost(ctx, item)
	if err != nil {
		return nil, err
	}
	req, err := a.newRequest(http.MethodPut, "posts/"+formatRemoteID(item.RemoteID), nil, body, true)
	if err != nil {
		return nil, err
	}
	resp, err := a.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	return a.DecodePost(ctx, resp)
}

// DeletePost removes a remote post permanently, bypassing the trash.
func (a *Adapter) DeletePost(ctx context.Context, remoteID int64) (int64, error) {
	if remoteID <= 0 {
		return 0, &domain.ConfigurationError{Field: "remote_id", Message: "item has no remote post to delete"}
	}
	query := url.Values{}
	query.Set("force", "true")

	req, err := a.newRequest(http.MethodDelete, "posts/"+formatRemoteID(remoteID), query, nil, true)
	if err != nil {
		return 0, err
	}
	resp, err := a.roundTrip(ctx, req)
	if err != nil {
		return 0, err
	}
	deleted, err := DecodeDeleted(resp)
	if err != nil {
		return 0, err
	}
	if deleted == 0 {
		deleted = remoteID
	}
	return deleted, nil
}

func (a *Adapter) FetchCategories(ctx context.Context) ([]domain.Term, error) {
	return a.fetchTerms(ctx, "categories")
}

func (a *Adapter) FetchTags(ctx context.Context) ([]domain.Term, error) {
	return a.fetchTerms(ctx, "tags")
}

func (a *Adapter) fetchTerms(ctx context.Context, endpoint string) ([]domain.Term, error) {
	query := url.Values{}
	query.Set("per_page", strconv.Itoa(DefaultPerPage))

	req, err := a.newRequest(http.MethodGet, endpoint, query, nil, false)
	if err != nil {
		return nil, err
	}
	resp, err := a.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	terms, err := DecodeTerms(resp)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}
	return terms, nil
}

// UploadMedia sends an image file to the media library. progress, when not
// nil, is called as body bytes are written.
func (a *Adapter) UploadMedia(ctx context.Context, path, title string, progress func(domain.Progress)) (*domain.Media, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &domain.ConfigurationError{Field: "file", Message: err.Error()}
	}
	if info.IsDir() {
		return nil, &domain.ConfigurationError{Field: "file", Message: path + " is a directory"}
	}
	if info.Size() > a.maxUpload {
		return nil, &domain.ConfigurationError{
			Field:   "file",
			Message: fmt.Sprintf("%s is %d bytes, limit is %d", filepath.Base(path), info.Size(), a.maxUpload),
		}
	}

	req, err := a.newRequest(http.MethodPost, "media", nil, nil, true)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &domain.ConfigurationError{Field: "file", Message: err.Error()}
	}
	defer f.Close()

	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	req.Upload = &Upload{
		FieldName:   "file",
		FileName:    filepath.Base(path),
		ContentType: ImageContentType(path),
		Content:     f,
		Size:        info.Size(),
		Fields:      map[string]string{"title": title},
		Progress:    progress,
	}

	resp, err := a.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	media, err := DecodeMedia(resp)
	if err != nil {
		return nil, err
	}

	a.logger.Info("media uploaded",
		"file", filepath.Base(path),
		"media_id", media.RemoteID,
	)
	return media, nil
}

var imageTypes = map[string]string{
	".avif": "image/avif",
	".bmp":  "image/bmp",
	".gif":  "image/gif",
	".heic": "image/heic",
	".heif": "image/heif",
	".ico":  "image/vnd.microsoft.icon",
	".jpe":  "image/jpeg",
	".jpeg": "image/jpeg",
	".jpg":  "image/jpeg",
	".png":  "image/png",
	".svg":  "image/svg+xml",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".webp": "image/webp",
}

// ImageContentType maps a file extension to the image MIME type sent with
// an upload, falling back to image/<ext>. The host MIME table is not
// consulted.
func ImageContentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := imageTypes[ext]; ok {
		return ct
	}
	if ext == "" {
		return "application/octet-stream"
	}
	return "image/" + strings.TrimPrefix(ext, ".")
}

func (a *Adapter) newRequest(method, endpoint string, query url.Values, body []byte, write bool) (*Request, error) {
	if a.baseURL == "" {
		return nil, &domain.ConfigurationError{Field: "remote.base_url", Message: "is not set"}
	}
	if write && !a.HasCredentials() {
		return nil, &domain.ConfigurationError{Field: "remote.username", Message: "credentials are required to change remote content"}
	}

	u := a.baseURL + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	header := http.Header{}
	header.Set("Accept", "application/json")
	header.Set("User-Agent", UserAgent)
	if body != nil {
		header.Set("Content-Type", "application/json")
	}
	if a.HasCredentials() {
		header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(a.username+":"+a.password)))
	}

	return &Request{Method: method, URL: u, Header: header, Body: body}, nil
}

func (a *Adapter) roundTrip(ctx context.Context, req *Request) (Response, error) {
	a.logger.Debug("request", "method", req.Method, "url", req.URL)

	select {
	case resp := <-a.exec.Do(ctx, req):
		if resp.Err != nil {
			return resp, &domain.TransportError{Op: req.Method, URL: req.URL, Err: resp.Err}
		}
		if resp.Header == nil {
			resp.Header = http.Header{}
		}
		return resp, nil
	case <-ctx.Done():
		return Response{}, &domain.TransportError{Op: req.Method, URL: req.URL, Err: ctx.Err()}
	}
}
