// Package api is a client for the LitRank REST backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"litrank-web/internal/models"

	"golang.org/x/time/rate"
)

// Client calls the backend. Requests are never retried.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	limiter    *rate.Limiter
}

// Options configures a Client. Zero values select defaults.
type Options struct {
	Timeout   time.Duration
	RPS       int
	UserAgent string
	// HTTPClient replaces the default client; Timeout is ignored when set.
	HTTPClient *http.Client
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string, opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Every(time.Second / time.Duration(opts.RPS))
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = "litrank-web"
	}

	return &Client{
		httpClient: hc,
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  ua,
		limiter:    rate.NewLimiter(limit, max(opts.RPS, 1)),
	}
}

// BaseURL returns the backend root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListBooks fetches the whole catalog.
func (c *Client) ListBooks(ctx context.Context) ([]models.Book, error) {
	var books []models.Book
	if err := c.do(ctx, http.MethodGet, "/books/", "", nil, &books); err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

// GetBook fetches a single book.
func (c *Client) GetBook(ctx context.Context, id int64) (*models.Book, error) {
	if id <= 0 {
		return nil, ErrMissingID
	}
	var b models.Book
	if err := c.do(ctx, http.MethodGet, "/books/"+strconv.FormatInt(id, 10), "", nil, &b); err != nil {
		return nil, fmt.Errorf("get book %d: %w", id, err)
	}
	return &b, nil
}

// SearchBooks runs a backend search with the given query parameters.
func (c *Client) SearchBooks(ctx context.Context, params url.Values) ([]models.Book, error) {
	path := "/books/search/"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var books []models.Book
	if err := c.do(ctx, http.MethodGet, path, "", nil, &books); err != nil {
		return nil, fmt.Errorf("search books: %w", err)
	}
	return books, nil
}

// CreateBook adds a book to the catalog.
func (c *Client) CreateBook(ctx context.Context, token string, in models.BookInput) (*models.Book, error) {
	if token == "" {
		return nil, ErrNotAuthenticated
	}
	var b models.Book
	if err := c.do(ctx, http.MethodPost, "/books/", token, in, &b); err != nil {
		return nil, fmt.Errorf("create book: %w", err)
	}
	return &b, nil
}

// UpdateBook replaces a book's fields.
func (c *Client) UpdateBook(ctx context.Context, token string, id int64, in models.BookInput) (*models.Book, error) {
	if id <= 0 {
		return nil, ErrMissingID
	}
	if token == "" {
		return nil, ErrNotAuthenticated
	}
	var b models.Book
	if err := c.do(ctx, http.MethodPut, "/books/"+strconv.FormatInt(id, 10), token, in, &b); err != nil {
		return nil, fmt.Errorf("update book %d: %w", id, err)
	}
	return &b, nil
}

// DeleteBook removes a book from the catalog.
func (c *Client) DeleteBook(ctx context.Context, token string, id int64) error {
	if id <= 0 {
		return ErrMissingID
	}
	if token == "" {
		return ErrNotAuthenticated
	}
	if err := c.do(ctx, http.MethodDelete, "/books/"+strconv.FormatInt(id, 10), token, nil, nil); err != nil {
		return fmt.Errorf("delete book %d: %w", id, err)
	}
	return nil
}

// CreateUser registers a new account. No token is needed.
func (c *Client) CreateUser(ctx context.Context, acct models.NewAccount) (*models.User, error) {
	var u models.User
	if err := c.do(ctx, http.MethodPost, "/users/", "", acct, &u); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &u, nil
}

// CurrentUser resolves the identity behind a bearer token.
func (c *Client) CurrentUser(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, ErrNotAuthenticated
	}
	var u models.User
	if err := c.do(ctx, http.MethodGet, "/users/me", token, nil, &u); err != nil {
		return nil, fmt.Errorf("current user: %w", err)
	}
	return &u, nil
}

// IssueToken exchanges credentials for a bearer token using a form-encoded body.
func (c *Client) IssueToken(ctx context.Context, username, password string) (*models.Token, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := c.newRequest(ctx, http.MethodPost, "/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var t models.Token
	if err := c.send(req, &t); err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &t, nil
}

// AddToReadingList puts a book on one of the user's reading lists.
func (c *Client) AddToReadingList(ctx context.Context, token string, userID, bookID int64, list models.ListType) error {
	path, err := readingListPath(userID, bookID)
	if err != nil {
		return err
	}
	if token == "" {
		return ErrNotAuthenticated
	}
	path += "?" + url.Values{"list": {string(list)}}.Encode()
	if err := c.do(ctx, http.MethodPost, path, token, nil, nil); err != nil {
		return fmt.Errorf("add book %d to %s: %w", bookID, list, err)
	}
	return nil
}

// InReadingList reports whether the book is on any of the user's lists.
func (c *Client) InReadingList(ctx context.Context, token string, userID, bookID int64) (bool, error) {
	path, err := readingListPath(userID, bookID)
	if err != nil {
		return false, err
	}
	if token == "" {
		return false, ErrNotAuthenticated
	}
	var in bool
	if err := c.do(ctx, http.MethodGet, path, token, nil, &in); err != nil {
		return false, fmt.Errorf("check reading list for book %d: %w", bookID, err)
	}
	return in, nil
}

// RemoveFromReadingList takes a book off the user's lists.
func (c *Client) RemoveFromReadingList(ctx context.Context, token string, userID, bookID int64) error {
	path, err := readingListPath(userID, bookID)
	if err != nil {
		return err
	}
	if token == "" {
		return ErrNotAuthenticated
	}
	if err := c.do(ctx, http.MethodDelete, path, token, nil, nil); err != nil {
		return fmt.Errorf("remove book %d from reading list: %w", bookID, err)
	}
	return nil
}

func readingListPath(userID, bookID int64) (string, error) {
	if userID <= 0 || bookID <= 0 {
		return "", ErrMissingID
	}
	return fmt.Sprintf("/users/%d/books/%d", userID, bookID), nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body, target any) error {
	var r io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(buf)
	}

	req, err := c.newRequest(ctx, method, path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.send(req, target)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) send(req *http.Request, target any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return &Error{StatusCode: resp.StatusCode, Detail: parseDetail(raw)}
	}

	if target == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
