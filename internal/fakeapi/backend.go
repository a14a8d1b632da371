// Package fakeapi is an in-memory implementation of the LitRank REST backend.
// It backs the development server and the test suites.
package fakeapi

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"litrank-web/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// TokenTTL is the lifetime of issued bearer tokens.
const TokenTTL = 30 * time.Minute

// ErrUsernameTaken is returned when registering an existing username.
var ErrUsernameTaken = errors.New("username already registered")

type account struct {
	models.User
	passwordHash []byte
}

type fault struct {
	status int
	detail string
}

// Backend holds the catalog, accounts and reading lists in memory.
type Backend struct {
	mu       sync.Mutex
	secret   []byte
	books    map[int64]models.Book
	nextBook int64
	users    map[string]*account
	nextUser int64
	lists    map[int64]map[int64]models.ListType
	faults   map[string]fault
	requests map[string]int
}

// New creates an empty backend signing tokens with secret.
func New(secret string) *Backend {
	return &Backend{
		secret:   []byte(secret),
		books:    make(map[int64]models.Book),
		nextBook: 1,
		users:    make(map[string]*account),
		nextUser: 1,
		lists:    make(map[int64]map[int64]models.ListType),
		faults:   make(map[string]fault),
		requests: make(map[string]int),
	}
}

// Seed adds books to the catalog. Books without an id get the next free one.
func (b *Backend) Seed(books ...models.Book) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, book := range books {
		if book.ID == 0 {
			book.ID = b.nextBook
		}
		if book.ID >= b.nextBook {
			b.nextBook = book.ID + 1
		}
		b.books[book.ID] = book
	}
}

// LoadCSV seeds books from a CSV file with a header of
// id,title,author,genre,rating,image_url[,description].
func (b *Backend) LoadCSV(r io.Reader) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	field := func(rec []string, name string) string {
		if i, ok := col[name]; ok && i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	var books []models.Book
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read record: %w", err)
		}
		id, _ := strconv.ParseInt(field(rec, "id"), 10, 64)
		rating, _ := strconv.ParseFloat(field(rec, "rating"), 64)
		books = append(books, models.Book{
			ID:          id,
			Title:       field(rec, "title"),
			Author:      field(rec, "author"),
			Genre:       field(rec, "genre"),
			Rating:      rating,
			ImageURL:    field(rec, "image_url"),
			Description: field(rec, "description"),
		})
	}
	b.Seed(books...)
	return len(books), nil
}

// AddUser registers an account directly, bypassing HTTP.
func (b *Backend) AddUser(username, email, password string) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.users[username]; ok {
		return nil, ErrUsernameTaken
	}
	acct := &account{
		User:         models.User{ID: b.nextUser, Username: username, Email: email},
		passwordHash: hash,
	}
	b.nextUser++
	b.users[username] = acct
	u := acct.User
	return &u, nil
}

// Token signs a bearer token for username as the token endpoint would.
func (b *Backend) Token(username string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   username,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(TokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
}

// Fail makes every request matching route ("METHOD /pattern") answer with
// status and detail until Heal is called.
func (b *Backend) Fail(route string, status int, detail string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults[route] = fault{status: status, detail: detail}
}

// Heal clears all injected faults.
func (b *Backend) Heal() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults = make(map[string]fault)
}

// Requests returns how many requests hit route ("METHOD /pattern").
func (b *Backend) Requests(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests[route]
}

// TotalRequests returns the number of requests served so far.
func (b *Backend) TotalRequests() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.requests {
		n += c
	}
	return n
}

// Books returns the catalog ordered by id.
func (b *Backend) Books() []models.Book {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sortedBooks()
}

// ListOf returns the reading list type of a book for a user, if any.
func (b *Backend) ListOf(userID, bookID int64) (models.ListType, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.lists[userID][bookID]
	return t, ok
}

func (b *Backend) sortedBooks() []models.Book {
	books := make([]models.Book, 0, len(b.books))
	for _, book := range b.books {
		books = append(books, book)
	}
	sort.Slice(books, func(i, j int) bool { return books[i].ID < books[j].ID })
	return books
}

// Handler returns the HTTP surface of the backend.
func (b *Backend) Handler() http.Handler {
	mux := http.NewServeMux()
	b.route(mux, "GET /books/{$}", b.listBooks)
	b.route(mux, "GET /books/search/{$}", b.searchBooks)
	b.route(mux, "GET /books/{id}", b.getBook)
	b.route(mux, "POST /books/{$}", b.authed(b.createBook))
	b.route(mux, "PUT /books/{id}", b.authed(b.updateBook))
	b.route(mux, "DELETE /books/{id}", b.authed(b.deleteBook))
	b.route(mux, "POST /users/{$}", b.createUser)
	b.route(mux, "GET /users/me", b.authed(b.me))
	b.route(mux, "POST /token", b.issueToken)
	b.route(mux, "POST /users/{uid}/books/{bid}", b.authed(b.addToList))
	b.route(mux, "GET /users/{uid}/books/{bid}", b.authed(b.inList))
	b.route(mux, "DELETE /users/{uid}/books/{bid}", b.authed(b.removeFromList))
	return mux
}

func (b *Backend) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.requests[pattern]++
		f, failing := b.faults[pattern]
		b.mu.Unlock()
		if failing {
			writeDetail(w, f.status, f.detail)
			return
		}
		h(w, r)
	})
}

type userHandler func(w http.ResponseWriter, r *http.Request, u models.User)

func (b *Backend) authed(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		claims := &jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
			return b.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "Invalid authentication credentials")
			return
		}
		b.mu.Lock()
		acct, found := b.users[claims.Subject]
		b.mu.Unlock()
		if !found {
			writeDetail(w, http.StatusUnauthorized, "Invalid authentication credentials")
			return
		}
		next(w, r, acct.User)
	}
}

func (b *Backend) listBooks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, b.Books())
}

func (b *Backend) searchBooks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	title := strings.ToLower(q.Get("title"))
	author := strings.ToLower(q.Get("author"))
	genre := strings.ToLower(q.Get("genre"))
	var minRating float64
	if v := q.Get("rating"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, "rating must be a number")
			return
		}
		minRating = f
	}

	out := []models.Book{}
	for _, book := range b.Books() {
		if title != "" && !strings.Contains(strings.ToLower(book.Title), title) {
			continue
		}
		if author != "" && !strings.Contains(strings.ToLower(book.Author), author) {
			continue
		}
		if genre != "" && !strings.Contains(strings.ToLower(book.Genre), genre) {
			continue
		}
		if minRating != 0 && book.Rating < minRating {
			continue
		}
		out = append(out, book)
	}
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) getBook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	b.mu.Lock()
	book, found := b.books[id]
	b.mu.Unlock()
	if !found {
		writeDetail(w, http.StatusNotFound, "Book not found")
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (b *Backend) createBook(w http.ResponseWriter, r *http.Request, _ models.User) {
	var in models.BookInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid book payload")
		return
	}
	b.mu.Lock()
	book := bookFrom(b.nextBook, in)
	b.nextBook++
	b.books[book.ID] = book
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, book)
}

func (b *Backend) updateBook(w http.ResponseWriter, r *http.Request, _ models.User) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in models.BookInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid book payload")
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, found := b.books[id]; !found {
		writeDetail(w, http.StatusNotFound, "Book not found")
		return
	}
	book := bookFrom(id, in)
	b.books[id] = book
	writeJSON(w, http.StatusOK, book)
}

func (b *Backend) deleteBook(w http.ResponseWriter, r *http.Request, _ models.User) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	book, found := b.books[id]
	if !found {
		writeDetail(w, http.StatusNotFound, "Book not found")
		return
	}
	delete(b.books, id)
	for _, l := range b.lists {
		delete(l, id)
	}
	writeJSON(w, http.StatusOK, book)
}

func (b *Backend) createUser(w http.ResponseWriter, r *http.Request) {
	var in models.NewAccount
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Username == "" || in.Password == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "username and password are required")
		return
	}
	u, err := b.AddUser(in.Username, in.Email, in.Password)
	if errors.Is(err, ErrUsernameTaken) {
		writeDetail(w, http.StatusBadRequest, "Username already registered")
		return
	}
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "could not create user")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (b *Backend) me(w http.ResponseWriter, r *http.Request, u models.User) {
	writeJSON(w, http.StatusOK, u)
}

func (b *Backend) issueToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid form")
		return
	}
	username := r.PostForm.Get("username")
	password := r.PostForm.Get("password")

	b.mu.Lock()
	acct, found := b.users[username]
	b.mu.Unlock()
	if !found || bcrypt.CompareHashAndPassword(acct.passwordHash, []byte(password)) != nil {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeDetail(w, http.StatusUnauthorized, "Incorrect username or password")
		return
	}

	token, err := b.Token(username)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "could not sign token")
		return
	}
	writeJSON(w, http.StatusOK, models.Token{AccessToken: token, TokenType: "bearer"})
}

func (b *Backend) addToList(w http.ResponseWriter, r *http.Request, u models.User) {
	uid, bid, ok := b.listTarget(w, r, u)
	if !ok {
		return
	}
	list := models.ListType(r.URL.Query().Get("list"))
	if list == "" {
		list = models.WillRead
	}
	if !list.Valid() {
		writeDetail(w, http.StatusUnprocessableEntity, "Unknown list type")
		return
	}
	b.mu.Lock()
	if b.lists[uid] == nil {
		b.lists[uid] = make(map[int64]models.ListType)
	}
	b.lists[uid][bid] = list
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, models.ReadingListEntry{UserID: uid, BookID: bid})
}

func (b *Backend) inList(w http.ResponseWriter, r *http.Request, u models.User) {
	uid, bid, ok := b.listTarget(w, r, u)
	if !ok {
		return
	}
	_, in := b.ListOf(uid, bid)
	writeJSON(w, http.StatusOK, in)
}

func (b *Backend) removeFromList(w http.ResponseWriter, r *http.Request, u models.User) {
	uid, bid, ok := b.listTarget(w, r, u)
	if !ok {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, in := b.lists[uid][bid]; !in {
		writeDetail(w, http.StatusNotFound, "User or Book not found")
		return
	}
	delete(b.lists[uid], bid)
	writeJSON(w, http.StatusOK, models.ReadingListEntry{UserID: uid, BookID: bid})
}

func (b *Backend) listTarget(w http.ResponseWriter, r *http.Request, u models.User) (int64, int64, bool) {
	uid, ok := pathID(w, r, "uid")
	if !ok {
		return 0, 0, false
	}
	bid, ok := pathID(w, r, "bid")
	if !ok {
		return 0, 0, false
	}
	if uid != u.ID {
		writeDetail(w, http.StatusForbidden, "Not allowed to modify another user's list")
		return 0, 0, false
	}
	b.mu.Lock()
	_, found := b.books[bid]
	b.mu.Unlock()
	if !found {
		writeDetail(w, http.StatusNotFound, "User or Book not found")
		return 0, 0, false
	}
	return uid, bid, true
}

func bookFrom(id int64, in models.BookInput) models.Book {
	return models.Book{
		ID:          id,
		Title:       in.Title,
		Author:      in.Author,
		Genre:       in.Genre,
		Rating:      in.Rating,
		ImageURL:    in.ImageURL,
		Description: in.Description,
	}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, name+" must be an integer")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
