package models

import "strconv"

// Book represents a catalog entry as served by the backend.
type Book struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Author      string  `json:"author"`
	Genre       string  `json:"genre"`
	Rating      float64 `json:"rating"`
	ImageURL    string  `json:"image_url"`
	Description string  `json:"description"`
}

// FormValues returns the book's fields keyed by their form input names.
func (b Book) FormValues() map[string]string {
	return map[string]string{
		"title":       b.Title,
		"author":      b.Author,
		"genre":       b.Genre,
		"rating":      strconv.FormatFloat(b.Rating, 'f', -1, 64),
		"image_url":   b.ImageURL,
		"description": b.Description,
	}
}

// BookInput is the payload for creating or replacing a book.
type BookInput struct {
	Title       string  `json:"title"`
	Author      string  `json:"author"`
	Genre       string  `json:"genre"`
	Rating      float64 `json:"rating"`
	ImageURL    string  `json:"image_url"`
	Description string  `json:"description"`
}

// ListType qualifies which reading list a book is added to.
type ListType string

const (
	WillRead    ListType = "will-read"
	AlreadyRead ListType = "already-read"
)

// Valid reports whether t is a known reading list.
func (t ListType) Valid() bool {
	return t == WillRead || t == AlreadyRead
}

// Label is the human readable list name, e.g. "will read".
func (t ListType) Label() string {
	switch t {
	case WillRead:
		return "will read"
	case AlreadyRead:
		return "already read"
	}
	return string(t)
}

// ReadingListEntry links a user to a book on one of their lists.
type ReadingListEntry struct {
	UserID int64 `json:"user_id"`
	BookID int64 `json:"book_id"`
}

// SearchQuery holds the advanced search form fields. Empty fields are ignored.
type SearchQuery struct {
	Title  string
	Author string
	Genre  string
	Rating string
}
