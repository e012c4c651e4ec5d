package remote

import "encoding/json"

// rawField is the write shape of title, content and excerpt.
type rawField struct {
	Raw string `json:"raw"`
}

// renderedField is the read shape of the same fields.
type renderedField struct {
	Raw      string `json:"raw,omitempty"`
	Rendered string `json:"rendered"`
}

type PostPayload struct {
	Title         rawField `json:"title"`
	Content       rawField `json:"content"`
	Excerpt       rawField `json:"excerpt"`
	Status        string   `json:"status"`
	Categories    []int64  `json:"categories,omitempty"`
	Tags          []int64  `json:"tags,omitempty"`
	FeaturedMedia int64    `json:"featured_media,omitempty"`
}

type Post struct {
	ID            int64           `json:"id"`
	Date          string          `json:"date"`
	DateGMT       string          `json:"date_gmt"`
	Status        string          `json:"status"`
	Author        json.RawMessage `json:"author"`
	Title         *renderedField  `json:"title"`
	Content       *renderedField  `json:"content"`
	Excerpt       *renderedField  `json:"excerpt"`
	Categories    []int64         `json:"categories"`
	Tags          []int64         `json:"tags"`
	FeaturedMedia int64           `json:"featured_media"`
}

type APITerm struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Media struct {
	ID        int64          `json:"id"`
	SourceURL string         `json:"source_url"`
	GUID      *renderedField `json:"guid"`
}

type DeleteResponse struct {
	Deleted  bool  `json:"deleted"`
	Previous *Post `json:"previous"`
}

// APIError is the body the service sends with a failure status.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
