package view

import (
	"math"
	"testing"
	"unicode/utf8"

	"litrank-web/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestStarsGlyphCount(t *testing.T) {
	for _, r := range []float64{0, 0.9, 1, 2.5, 3.99, 4, 5} {
		glyph := Stars(r)
		filled := int(math.Floor(r))
		assert.Equal(t, maxStars, utf8.RuneCountInString(glyph), "rating %v", r)
		assert.Equal(t, filled, countRune(glyph, '⭐'), "rating %v", r)
		assert.Equal(t, maxStars-filled, countRune(glyph, '☆'), "rating %v", r)
	}
}

func TestStarsOutOfRangeIsClamped(t *testing.T) {
	assert.Equal(t, "☆☆☆☆☆", Stars(-1))
	assert.Equal(t, "⭐⭐⭐⭐⭐", Stars(9))
	assert.Equal(t, "☆☆☆☆☆", Stars(math.NaN()))
}

func countRune(s string, r rune) int {
	n := 0
	for _, c := range s {
		if c == r {
			n++
		}
	}
	return n
}

func TestNewCardExample(t *testing.T) {
	c := NewCard(models.Book{ID: 1, Title: "Dune", Genre: "Sci Fi", Rating: 4}, nil)
	assert.Equal(t, "book.html?id=1", c.DetailURL)
	assert.Equal(t, "search.html?genre=Sci+Fi", c.GenreURL)
	assert.Equal(t, "⭐⭐⭐⭐☆", c.Stars)
	assert.Equal(t, 4, c.Filled)
	assert.Equal(t, 1, c.Empty)
}

func TestControlsDependOnlyOnSession(t *testing.T) {
	books := []models.Book{{ID: 1, Rating: 2}, {ID: 7, Rating: 5}}
	sess := &models.Session{UserID: 3, Username: "bob", Token: "t"}

	for _, c := range Cards(books, nil) {
		assert.False(t, hasControl(c, "update-book"))
		assert.False(t, hasControl(c, "delete-book"))
		assert.True(t, hasControl(c, "will-read"))
		assert.True(t, hasControl(c, "already-read"))
	}
	for _, c := range Cards(books, sess) {
		assert.True(t, hasControl(c, "update-book"))
		assert.True(t, hasControl(c, "delete-book"))
	}
}

func TestCardsFullReplace(t *testing.T) {
	first := Cards([]models.Book{{ID: 1}, {ID: 2}}, nil)
	second := Cards([]models.Book{{ID: 3}}, nil)
	assert.Len(t, first, 2)
	assert.Len(t, second, 1)
	assert.Empty(t, Cards(nil, nil))
}

func TestControlActions(t *testing.T) {
	ctl := Controls(9, &models.Session{})
	assert.Equal(t, "/books/9/lists/will-read", ctl[0].Action)
	assert.Equal(t, "/books/9/lists/already-read", ctl[1].Action)
	assert.Equal(t, "book.html?id=9&modal=update", ctl[2].Href)
	assert.Equal(t, "book.html?id=9&modal=delete", ctl[3].Href)
}

func hasControl(c Card, kind string) bool {
	for _, ctl := range c.Controls {
		if ctl.Kind == kind {
			return true
		}
	}
	return false
}
