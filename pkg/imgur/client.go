// Package imgur fetches gallery albums from the Imgur v3 API.
package imgur

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pepebot/pkg/gallery"
)

const (
	// DefaultBaseURL is the public Imgur API endpoint.
	DefaultBaseURL = "https://api.imgur.com"

	defaultTimeout = 10 * time.Second
	errorBodyLimit = 512
)

// ErrFetchFailure indicates that an album could not be fetched or decoded.
var ErrFetchFailure = errors.New("imgur: fetch failure")

// Option mutates client configuration.
type Option func(*Client)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/"); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithTimeout bounds each request made by the default HTTP client.
// It has no effect together with WithHTTPClient.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// Client reads gallery albums with a static application credential.
type Client struct {
	baseURL    string
	clientID   string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates an Imgur client authenticated by clientID.
func NewClient(clientID string, options ...Option) (*Client, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, fmt.Errorf("new imgur client: missing client id")
	}

	client := &Client{
		baseURL:  DefaultBaseURL,
		clientID: clientID,
		timeout:  defaultTimeout,
	}
	for _, option := range options {
		option(client)
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: client.timeout}
	}

	return client, nil
}

type galleryResponse struct {
	Data    galleryAlbum `json:"data"`
	Success bool         `json:"success"`
	Status  int          `json:"status"`
}

type galleryAlbum struct {
	ID          string         `json:"id"`
	Title       *string        `json:"title"`
	ImagesCount int            `json:"images_count"`
	Images      []galleryImage `json:"images"`
}

type galleryImage struct {
	ID       string  `json:"id"`
	Title    *string `json:"title"`
	Type     string  `json:"type"`
	Animated bool    `json:"animated"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Size     int64   `json:"size"`
	Views    int64   `json:"views"`
	Link     string  `json:"link"`
}

// FetchGallery performs one GET of the album and returns it as a collection.
//
// Every failure wraps ErrFetchFailure. There are no retries.
func (c *Client) FetchGallery(ctx context.Context, albumID string) (gallery.Collection, error) {
	albumID = strings.TrimSpace(albumID)
	if albumID == "" {
		return gallery.Collection{}, fmt.Errorf("%w: missing album id", ErrFetchFailure)
	}

	requestURL := fmt.Sprintf("%s/3/gallery/album/%s", c.baseURL, url.PathEscape(albumID))
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return gallery.Collection{}, fmt.Errorf("%w: build request for album %s: %w", ErrFetchFailure, albumID, err)
	}
	request.Header.Set("Authorization", "Client-ID "+c.clientID)
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return gallery.Collection{}, fmt.Errorf("%w: get album %s: %w", ErrFetchFailure, albumID, err)
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(response.Body, errorBodyLimit))
		return gallery.Collection{}, fmt.Errorf(
			"%w: album %s returned status %d: %s",
			ErrFetchFailure,
			albumID,
			response.StatusCode,
			strings.TrimSpace(string(body)),
		)
	}

	var decoded galleryResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return gallery.Collection{}, fmt.Errorf("%w: decode album %s: %w", ErrFetchFailure, albumID, err)
	}
	if !decoded.Success {
		return gallery.Collection{}, fmt.Errorf(
			"%w: album %s reported success=false status=%d",
			ErrFetchFailure,
			albumID,
			decoded.Status,
		)
	}

	collection, err := decoded.Data.collection()
	if err != nil {
		return gallery.Collection{}, fmt.Errorf("%w: album %s: %w", ErrFetchFailure, albumID, err)
	}

	return collection, nil
}

func (a galleryAlbum) collection() (gallery.Collection, error) {
	entries := make([]gallery.Entry, 0, len(a.Images))
	for _, image := range a.Images {
		entries = append(entries, gallery.Entry{
			ID:        image.ID,
			Link:      image.Link,
			Title:     stringValue(image.Title),
			Type:      image.Type,
			Animated:  image.Animated,
			Width:     image.Width,
			Height:    image.Height,
			SizeBytes: image.Size,
			Views:     image.Views,
		})
	}

	return gallery.NewCollection(a.ID, stringValue(a.Title), a.ImagesCount, entries)
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}

	return *value
}
