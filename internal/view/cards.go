package view

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"litrank-web/internal/models"
)

const (
	filledStar = "⭐"
	emptyStar  = "☆"
	maxStars   = 5
)

// Stars renders a rating as floor(r) filled stars followed by empty stars up
// to five. Ratings outside 0..5 are clamped so the glyph is always five
// symbols wide.
func Stars(rating float64) string {
	filled := FilledStars(rating)
	return strings.Repeat(filledStar, filled) + strings.Repeat(emptyStar, maxStars-filled)
}

// FilledStars returns floor(rating) clamped to 0..5.
func FilledStars(rating float64) int {
	if math.IsNaN(rating) {
		return 0
	}
	f := math.Floor(rating)
	switch {
	case f < 0:
		return 0
	case f > maxStars:
		return maxStars
	}
	return int(f)
}

// Control is one action button on a card. Every control is a form posting
// to Action.
type Control struct {
	Kind  string
	Label string
	// Action is the form target; empty for controls that only open a modal.
	Action string
	// Href is set for controls that navigate instead of posting.
	Href string
}

// Card is the view model of a book.
type Card struct {
	ID          int64
	Title       string
	Author      string
	Genre       string
	Description string
	ImageURL    string
	Stars       string
	Filled      int
	Empty       int
	DetailURL   string
	GenreURL    string
	Controls    []Control
}

// DetailURL links to the detail view of a book.
func DetailURL(id int64) string {
	return "book.html?id=" + strconv.FormatInt(id, 10)
}

// GenreURL links to the search page filtered by genre.
func GenreURL(genre string) string {
	return "search.html?genre=" + url.QueryEscape(genre)
}

// Controls returns the actions available for a book. Reading list controls
// are always present; update and delete appear only with a session.
func Controls(id int64, sess *models.Session) []Control {
	base := fmt.Sprintf("/books/%d", id)
	controls := []Control{
		{Kind: "will-read", Label: "Will Read", Action: base + "/lists/" + string(models.WillRead)},
		{Kind: "already-read", Label: "Read", Action: base + "/lists/" + string(models.AlreadyRead)},
	}
	if sess == nil {
		return controls
	}
	return append(controls,
		Control{Kind: "update-book", Label: "Update", Href: DetailURL(id) + "&modal=update"},
		Control{Kind: "delete-book", Label: "Delete", Href: DetailURL(id) + "&modal=delete"},
	)
}

// NewCard builds the card of one book for the given session.
func NewCard(b models.Book, sess *models.Session) Card {
	filled := FilledStars(b.Rating)
	return Card{
		ID:          b.ID,
		Title:       b.Title,
		Author:      b.Author,
		Genre:       b.Genre,
		Description: b.Description,
		ImageURL:    b.ImageURL,
		Stars:       Stars(b.Rating),
		Filled:      filled,
		Empty:       maxStars - filled,
		DetailURL:   DetailURL(b.ID),
		GenreURL:    GenreURL(b.Genre),
		Controls:    Controls(b.ID, sess),
	}
}

// Cards rebuilds the full card list. There is no diffing against a previous
// render.
func Cards(books []models.Book, sess *models.Session) []Card {
	cards := make([]Card, 0, len(books))
	for _, b := range books {
		cards = append(cards, NewCard(b, sess))
	}
	return cards
}
