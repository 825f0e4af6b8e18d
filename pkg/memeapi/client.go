// Package memeapi queries the meme API for one random post per call.
package memeapi

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
)

const (
	// DefaultBaseURL is the public meme API endpoint.
	DefaultBaseURL = "https://meme-api.com"

	defaultTimeout = 10 * time.Second
	errorBodyLimit = 512
)

// ErrQueryFailure indicates that a query returned no usable result.
var ErrQueryFailure = errors.New("memeapi: query failure")

// Meme is one post returned by the API.
type Meme struct {
	PostLink  string   `json:"postLink"`
	Subreddit string   `json:"subreddit"`
	Title     string   `json:"title"`
	URL       string   `json:"url"`
	NSFW      bool     `json:"nsfw"`
	Spoiler   bool     `json:"spoiler"`
	Author    string   `json:"author"`
	Ups       int      `json:"ups"`
	Preview   []string `json:"preview"`
}

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

// Client is a stateless meme API client. It is safe for concurrent use.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a meme API client.
func NewClient(options ...Option) *Client {
	client := &Client{
		baseURL: DefaultBaseURL,
		timeout: defaultTimeout,
	}
	for _, option := range options {
		option(client)
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: client.timeout}
	}

	return client
}

// Query fetches one random meme, optionally restricted to topic.
//
// An empty topic queries the default pool. Every failure wraps ErrQueryFailure.
func (c *Client) Query(ctx context.Context, topic string) (Meme, error) {
	topic = strings.TrimSpace(topic)
	requestURL := c.baseURL + "/gimme/" + url.PathEscape(topic)

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return Meme{}, fmt.Errorf("%w: build request: %w", ErrQueryFailure, err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return Meme{}, fmt.Errorf("%w: get %s: %w", ErrQueryFailure, requestURL, err)
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(response.Body, errorBodyLimit))
		return Meme{}, fmt.Errorf(
			"%w: %s returned status %d: %s",
			ErrQueryFailure,
			requestURL,
			response.StatusCode,
			strings.TrimSpace(string(body)),
		)
	}

	var meme Meme
	if err := json.NewDecoder(response.Body).Decode(&meme); err != nil {
		return Meme{}, fmt.Errorf("%w: decode %s: %w", ErrQueryFailure, requestURL, err)
	}
	if strings.TrimSpace(meme.URL) == "" {
		return Meme{}, fmt.Errorf("%w: %s returned no url", ErrQueryFailure, requestURL)
	}

	return meme, nil
}
