// Package search filters the loaded catalog locally and builds backend
// search queries.
package search

import (
	"context"
	"net/url"
	"strings"

	"litrank-web/internal/models"
)

// NoResults is shown when a remote query matches nothing.
const NoResults = "No books found matching your criteria."

// FilterByTitle returns the books whose title contains q, ignoring case.
// An empty q returns all books. The input slice is not modified.
func FilterByTitle(books []models.Book, q string) []models.Book {
	q = strings.ToLower(q)
	out := make([]models.Book, 0, len(books))
	for _, b := range books {
		if strings.Contains(strings.ToLower(b.Title), q) {
			out = append(out, b)
		}
	}
	return out
}

// QueryFrom reads the advanced search fields from form values.
func QueryFrom(v url.Values) models.SearchQuery {
	return models.SearchQuery{
		Title:  strings.TrimSpace(v.Get("title")),
		Author: strings.TrimSpace(v.Get("author")),
		Genre:  strings.TrimSpace(v.Get("genre")),
		Rating: strings.TrimSpace(v.Get("rating")),
	}
}

// Values returns the non-empty fields of q as query parameters.
func Values(q models.SearchQuery) url.Values {
	v := url.Values{}
	for _, f := range []struct{ key, val string }{
		{"title", q.Title},
		{"author", q.Author},
		{"genre", q.Genre},
		{"rating", q.Rating},
	} {
		if f.val != "" {
			v.Set(f.key, f.val)
		}
	}
	return v
}

// Empty reports whether no field of q is set.
func Empty(q models.SearchQuery) bool {
	return len(Values(q)) == 0
}

// Searcher runs remote searches.
type Searcher interface {
	SearchBooks(ctx context.Context, params url.Values) ([]models.Book, error)
}

// Result of a remote query. Message is set when there is nothing to show.
type Result struct {
	Books   []models.Book
	Message string
}

// Controller runs remote queries for the search page.
type Controller struct {
	backend Searcher
}

// NewController creates a controller querying backend.
func NewController(backend Searcher) *Controller {
	return &Controller{backend: backend}
}

// Remote issues one backend search for q and replaces the result set.
func (c *Controller) Remote(ctx context.Context, q models.SearchQuery) (Result, error) {
	books, err := c.backend.SearchBooks(ctx, Values(q))
	if err != nil {
		return Result{}, err
	}
	if len(books) == 0 {
		return Result{Message: NoResults}, nil
	}
	return Result{Books: books}, nil
}
