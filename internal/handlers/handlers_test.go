package handlers

import (
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"litrank-web/internal/api"
	"litrank-web/internal/fakeapi"
	"litrank-web/internal/models"
	"litrank-web/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const templateDir = "../../web/templates"

type HandlersTestSuite struct {
	suite.Suite
	backend *fakeapi.Backend
	apiSrv  *httptest.Server
	db      *storage.DB
	srv     *httptest.Server
	client  *http.Client
	user    *models.User
}

func (s *HandlersTestSuite) SetupTest() {
	s.backend = fakeapi.New("secret")
	s.backend.Seed(
		models.Book{Title: "Dune", Author: "Frank Herbert", Genre: "Sci Fi", Rating: 4},
		models.Book{Title: "Emma", Author: "Jane Austen", Genre: "Classic", Rating: 3},
	)
	user, err := s.backend.AddUser("bob", "bob@example.com", "hunter2")
	require.NoError(s.T(), err)
	s.user = user
	s.apiSrv = httptest.NewServer(s.backend.Handler())

	db, err := storage.NewDB(":memory:", "test-secret")
	require.NoError(s.T(), err)
	s.db = db

	h := NewHandlers(api.NewClient(s.apiSrv.URL, api.Options{}), db, templateDir, Options{})
	mux := http.NewServeMux()
	h.Register(mux)
	s.srv = httptest.NewServer(Chain(mux))

	jar, err := cookiejar.New(nil)
	require.NoError(s.T(), err)
	s.client = &http.Client{Jar: jar}
}

func (s *HandlersTestSuite) TearDownTest() {
	s.srv.Close()
	s.apiSrv.Close()
	s.db.Close()
}

func (s *HandlersTestSuite) get(path string, header ...string) (int, string) {
	req, err := http.NewRequest(http.MethodGet, s.srv.URL+path, http.NoBody)
	require.NoError(s.T(), err)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	return s.do(req)
}

func (s *HandlersTestSuite) post(path string, form url.Values, header ...string) (int, string) {
	req, err := http.NewRequest(http.MethodPost, s.srv.URL+path, strings.NewReader(form.Encode()))
	require.NoError(s.T(), err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	return s.do(req)
}

func (s *HandlersTestSuite) do(req *http.Request) (int, string) {
	resp, err := s.client.Do(req)
	require.NoError(s.T(), err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(s.T(), err)
	return resp.StatusCode, string(body)
}

// postNoFollow posts form and returns the response without following a
// redirect. The body is already closed.
func (s *HandlersTestSuite) postNoFollow(path string, form url.Values, header ...string) *http.Response {
	req, err := http.NewRequest(http.MethodPost, s.srv.URL+path, strings.NewReader(form.Encode()))
	require.NoError(s.T(), err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	client := &http.Client{
		Jar: s.client.Jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Do(req)
	require.NoError(s.T(), err)
	resp.Body.Close()
	return resp
}

func (s *HandlersTestSuite) login() {
	_, body := s.post("/login", url.Values{"username": {"bob"}, "password": {"hunter2"}, "return": {"index.html"}})
	require.Contains(s.T(), body, "Login successful!")
}

func (s *HandlersTestSuite) TestIndexAnonymous() {
	status, body := s.get("/")
	assert.Equal(s.T(), http.StatusOK, status)
	assert.Contains(s.T(), body, "Dune")
	assert.Contains(s.T(), body, "Emma")
	assert.Contains(s.T(), body, "⭐⭐⭐⭐☆")
	assert.Contains(s.T(), body, `class="will-read"`)
	assert.NotContains(s.T(), body, `class="update-book"`)
	assert.NotContains(s.T(), body, `class="delete-book"`)

	u, _ := url.Parse(s.srv.URL)
	var visitor string
	for _, c := range s.client.Jar.Cookies(u) {
		if c.Name == VisitorCookieName {
			visitor = c.Value
		}
	}
	assert.NotEmpty(s.T(), visitor, "visitor cookie expected")
	assert.Zero(s.T(), s.backend.Requests("GET /users/me"), "no identity lookup without a token")
}

func (s *HandlersTestSuite) TestIndexLoadFailureRendersEmptyGrid() {
	s.backend.Fail("GET /books/{$}", http.StatusInternalServerError, "")
	status, body := s.get("/index.html")
	assert.Equal(s.T(), http.StatusOK, status)
	assert.Contains(s.T(), body, `id="book-grid"`)
	assert.NotContains(s.T(), body, "Dune")
}

func (s *HandlersTestSuite) TestLoginShowsControls() {
	s.login()
	_, body := s.get("/")
	assert.Contains(s.T(), body, "Welcome, bob")
	assert.Contains(s.T(), body, `class="update-book"`)
	assert.Contains(s.T(), body, `class="delete-book"`)
	assert.NotContains(s.T(), body, "Login successful!", "notice is shown once")
}

func (s *HandlersTestSuite) TestLoginFailureKeepsModalOpen() {
	status, body := s.post("/login",
		url.Values{"username": {"bob"}, "password": {"wrong"}, "return": {"index.html"}},
		"HX-Request", "true")
	assert.Equal(s.T(), http.StatusOK, status)
	assert.Contains(s.T(), body, `id="login-modal"`)
	assert.Contains(s.T(), body, "Incorrect username or password")
	assert.Contains(s.T(), body, `value="bob"`)
}

func (s *HandlersTestSuite) TestLoginValidationSkipsBackend() {
	_, body := s.post("/login", url.Values{"username": {""}, "password": {""}}, "HX-Request", "true")
	assert.Contains(s.T(), body, "cannot be blank")
	assert.Zero(s.T(), s.backend.Requests("POST /token"))
}

func (s *HandlersTestSuite) TestLoginWithoutHTMXReopensModal() {
	status, body := s.post("/login", url.Values{"username": {"bob"}, "password": {"wrong-pw"}, "return": {"index.html"}})
	assert.Equal(s.T(), http.StatusOK, status)
	assert.Contains(s.T(), body, "Incorrect username or password")
	assert.Contains(s.T(), body, `id="login-modal"`)
	assert.Contains(s.T(), body, `value="bob"`)
	assert.NotContains(s.T(), body, "wrong-pw")
}

func (s *HandlersTestSuite) TestFailedPostValuesShownOnce() {
	s.post("/login", url.Values{"username": {"bob"}, "password": {"wrong"}, "return": {"index.html"}})

	_, body := s.get("/index.html?modal=login")
	assert.Contains(s.T(), body, `id="login-modal"`)
	assert.NotContains(s.T(), body, "Incorrect username or password")
	assert.NotContains(s.T(), body, `value="bob"`)
}

func (s *HandlersTestSuite) TestSignupWithoutHTMXKeepsTypedValues() {
	_, body := s.post("/signup", url.Values{
		"username": {"bob"}, "email": {"bob@example.com"}, "password": {"secretpw"}, "return": {"search.html"},
	})
	assert.Contains(s.T(), body, `id="signup-modal"`)
	assert.Contains(s.T(), body, "Username already registered")
	assert.Contains(s.T(), body, `value="bob@example.com"`)
	assert.NotContains(s.T(), body, "secretpw")
}

func (s *HandlersTestSuite) TestUpdateWithoutHTMXKeepsTypedValues() {
	s.login()
	_, body := s.post("/books/1", url.Values{
		"title": {"Dune Messiah"}, "author": {"Frank Herbert"}, "genre": {"Sci Fi"}, "rating": {"9"},
	})
	assert.Contains(s.T(), body, `id="update-modal"`)
	assert.Contains(s.T(), body, `value="Dune Messiah"`)
	assert.Contains(s.T(), body, "must be a number between 0 and 5")
	assert.Zero(s.T(), s.backend.Requests("PUT /books/{id}"))
	assert.Equal(s.T(), "Dune", s.backend.Books()[0].Title)
}

func (s *HandlersTestSuite) TestSignup() {
	_, body := s.post("/signup", url.Values{
		"username": {"alice"}, "email": {"alice@example.com"}, "password": {"pw"}, "return": {"index.html"},
	})
	assert.Contains(s.T(), body, "Sign-Up successful!")

	_, body = s.post("/signup", url.Values{
		"username": {"alice"}, "email": {"alice@example.com"}, "password": {"pw"},
	}, "HX-Request", "true")
	assert.Contains(s.T(), body, "Username already registered")
}

func (s *HandlersTestSuite) TestSignupRejectsBadEmail() {
	_, body := s.post("/signup", url.Values{
		"username": {"alice"}, "email": {"not-an-email"}, "password": {"pw"},
	}, "HX-Request", "true")
	assert.Contains(s.T(), body, "must be a valid email address")
	assert.Zero(s.T(), s.backend.Requests("POST /users/{$}"))
}

func (s *HandlersTestSuite) TestLogout() {
	s.login()
	before := s.backend.TotalRequests()
	_, body := s.post("/logout", url.Values{})
	assert.Contains(s.T(), body, "Logout successful!")
	assert.NotContains(s.T(), body, "Welcome, bob")
	// The page render after logout lists books but never asks who the user is.
	assert.Equal(s.T(), before+1, s.backend.TotalRequests())
}

func (s *HandlersTestSuite) TestAddBookRequiresSession() {
	_, body := s.get("/?modal=add-book")
	assert.Contains(s.T(), body, "You must be logged in to add books.")
	assert.NotContains(s.T(), body, `id="add-book-modal"`)

	_, body = s.post("/books", url.Values{"title": {"X"}, "author": {"Y"}, "genre": {"Z"}, "rating": {"3"}})
	assert.Contains(s.T(), body, "You must be logged in to add books.")
	assert.Zero(s.T(), s.backend.Requests("POST /books/{$}"))
}

func (s *HandlersTestSuite) TestAddBook() {
	s.login()
	_, body := s.get("/?modal=add-book")
	assert.Contains(s.T(), body, `id="add-book-modal"`)

	_, body = s.post("/books", url.Values{
		"title": {"Ulysses"}, "author": {"James Joyce"}, "genre": {"Modernist"}, "rating": {"2.5"},
		"return": {"index.html"},
	})
	assert.Contains(s.T(), body, "Book added successfully!")
	assert.Contains(s.T(), body, "Ulysses")
	assert.Contains(s.T(), body, "⭐⭐☆☆☆")
	assert.Len(s.T(), s.backend.Books(), 3)
}

func (s *HandlersTestSuite) TestAddBookInvalidRating() {
	s.login()
	_, body := s.post("/books", url.Values{
		"title": {"Ulysses"}, "author": {"James Joyce"}, "genre": {"Modernist"}, "rating": {"7"},
	}, "HX-Request", "true")
	assert.Contains(s.T(), body, "must be a number between 0 and 5")
	assert.Contains(s.T(), body, `value="Ulysses"`)
	assert.Zero(s.T(), s.backend.Requests("POST /books/{$}"))
}

func (s *HandlersTestSuite) TestAddBookBackendDetail() {
	s.login()
	s.backend.Fail("POST /books/{$}", http.StatusBadRequest, "Book already exists")
	_, body := s.post("/books", url.Values{
		"title": {"Dune"}, "author": {"Frank Herbert"}, "genre": {"Sci Fi"}, "rating": {"4"},
	}, "HX-Request", "true")
	assert.Contains(s.T(), body, "Book already exists")
	assert.Contains(s.T(), body, `id="add-book-modal"`)
}

func (s *HandlersTestSuite) TestBookDetail() {
	status, body := s.get("/book.html?id=1")
	assert.Equal(s.T(), http.StatusOK, status)
	assert.Contains(s.T(), body, `id="book-title">Dune`)
	assert.Contains(s.T(), body, `class="genre-tag" href="search.html?genre=Sci`)
}

func (s *HandlersTestSuite) TestBookDetailMissingID() {
	status, body := s.get("/book.html")
	assert.Equal(s.T(), http.StatusBadRequest, status)
	assert.Contains(s.T(), body, "Book ID is missing in the URL.")
}

func (s *HandlersTestSuite) TestBookDetailNotFound() {
	status, body := s.get("/book.html?id=99")
	assert.Equal(s.T(), http.StatusNotFound, status)
	assert.Contains(s.T(), body, "Error fetching book details. Please try again.")
}

func (s *HandlersTestSuite) TestUpdateModalIsPrefilled() {
	s.login()
	_, body := s.get("/book.html?id=1&modal=update")
	assert.Contains(s.T(), body, `id="update-modal"`)
	assert.Contains(s.T(), body, `value="Dune"`)
	assert.Contains(s.T(), body, `value="Frank Herbert"`)
}

func (s *HandlersTestSuite) TestUpdateBook() {
	s.login()
	_, body := s.post("/books/1", url.Values{
		"title": {"Dune Messiah"}, "author": {"Frank Herbert"}, "genre": {"Sci Fi"}, "rating": {"5"},
	})
	assert.Contains(s.T(), body, "Book updated successfully.")
	assert.Contains(s.T(), body, "Dune Messiah")
	assert.Equal(s.T(), "Dune Messiah", s.backend.Books()[0].Title)
}

func (s *HandlersTestSuite) TestDeleteDeclinedMakesNoCall() {
	s.login()
	_, body := s.post("/books/1/delete", url.Values{"confirm": {"no"}})
	assert.NotContains(s.T(), body, "Book deleted successfully.")
	assert.Zero(s.T(), s.backend.Requests("DELETE /books/{id}"))
	assert.Len(s.T(), s.backend.Books(), 2)
}

func (s *HandlersTestSuite) TestDeleteConfirmed() {
	s.login()
	_, body := s.get("/book.html?id=1&modal=delete")
	assert.Contains(s.T(), body, `id="delete-modal"`)

	_, body = s.post("/books/1/delete", url.Values{"confirm": {"yes"}, "title": {"Dune"}})
	assert.Contains(s.T(), body, "Book deleted successfully.")
	assert.Equal(s.T(), 1, s.backend.Requests("DELETE /books/{id}"))
	assert.Len(s.T(), s.backend.Books(), 1)
}

func (s *HandlersTestSuite) TestDeleteFailure() {
	s.login()
	s.backend.Fail("DELETE /books/{id}", http.StatusInternalServerError, "")
	_, body := s.post("/books/1/delete", url.Values{"confirm": {"yes"}}, "HX-Request", "true")
	assert.Contains(s.T(), body, "Error deleting book. Please try again.")
}

func (s *HandlersTestSuite) TestAddToListRequiresSession() {
	_, body := s.post("/books/1/lists/will-read", url.Values{"return": {"index.html"}})
	assert.Contains(s.T(), body, "You must be logged in to add books to your list.")
	assert.Zero(s.T(), s.backend.Requests("POST /users/{uid}/books/{bid}"))
}

func (s *HandlersTestSuite) TestAddToList() {
	s.login()
	_, body := s.post("/books/1/lists/will-read", url.Values{"return": {"book.html?id=1"}})
	assert.Contains(s.T(), body, "Book added to will read list!")
	assert.Contains(s.T(), body, "Remove from list")

	list, ok := s.backend.ListOf(s.user.ID, 1)
	require.True(s.T(), ok)
	assert.Equal(s.T(), models.WillRead, list)

	_, body = s.post("/books/1/lists/remove", url.Values{"return": {"book.html?id=1"}})
	assert.Contains(s.T(), body, "Book removed from your list.")
	_, ok = s.backend.ListOf(s.user.ID, 1)
	assert.False(s.T(), ok)
}

func (s *HandlersTestSuite) TestRedirectsStayOnSitePages() {
	book := func(title, rating, back string) url.Values {
		return url.Values{
			"title": {title}, "author": {"Someone"}, "genre": {"Drama"}, "rating": {rating}, "return": {back},
		}
	}
	tests := []struct {
		name string
		path string
		form url.Values
		want string
	}{
		{"login", "/login", url.Values{"username": {"bob"}, "password": {"hunter2"}, "return": {"book.html?id=1"}}, "/book.html?id=1"},
		{"list from index", "/books/1/lists/will-read", url.Values{"return": {"index.html"}}, "/index.html"},
		{"list from detail", "/books/1/lists/already-read", url.Values{"return": {"book.html?id=1"}}, "/book.html?id=1"},
		{"remove from search", "/books/1/lists/remove", url.Values{"return": {"search.html?genre=Sci+Fi"}}, "/search.html?genre=Sci+Fi"},
		{"add book", "/books", book("Ulysses", "3", "search.html?title=x"), "/search.html?title=x"},
		{"add book invalid", "/books", book("", "3", "book.html?id=1"), "/book.html?id=1&modal=add-book"},
		{"update", "/books/1", book("Dune Messiah", "5", ""), "/book.html?id=1"},
		{"update invalid", "/books/1", book("Dune Messiah", "9", ""), "/book.html?id=1&modal=update"},
		{"delete declined", "/books/2/delete", url.Values{"confirm": {"no"}}, "/book.html?id=2"},
		{"delete", "/books/2/delete", url.Values{"confirm": {"yes"}}, "/index.html"},
		{"foreign return", "/books/1/lists/will-read", url.Values{"return": {"//evil.example.com"}}, "/index.html"},
		{"signup", "/signup", url.Values{"username": {"alice"}, "email": {"alice@example.com"}, "password": {"pw"}, "return": {"index.html"}}, "/index.html"},
		{"logout", "/logout", url.Values{}, "/index.html"},
		{"anonymous list", "/books/1/lists/will-read", url.Values{"return": {"book.html?id=1"}}, "/book.html?id=1"},
	}

	// Cases run in order: the session from the first one is used until logout.
	for _, tt := range tests {
		resp := s.postNoFollow(tt.path, tt.form)
		assert.Equal(s.T(), http.StatusSeeOther, resp.StatusCode, tt.name)
		assert.Equal(s.T(), tt.want, resp.Header.Get("Location"), tt.name)
	}
}

func (s *HandlersTestSuite) TestHTMXRedirectIsRootRelative() {
	s.login()
	resp := s.postNoFollow("/books/1/lists/will-read", url.Values{"return": {"book.html?id=1"}}, "HX-Request", "true")
	assert.Equal(s.T(), http.StatusOK, resp.StatusCode)
	assert.Equal(s.T(), "/book.html?id=1", resp.Header.Get("HX-Redirect"))
	assert.Empty(s.T(), resp.Header.Get("Location"))
}

func (s *HandlersTestSuite) TestLogoutDropsLoadedCatalog() {
	s.login()
	s.get("/")
	s.postNoFollow("/logout", url.Values{})

	before := s.backend.Requests("GET /books/{$}")
	_, body := s.get("/filter?q=", "HX-Request", "true", "HX-Target", "book-grid")
	assert.Equal(s.T(), before+1, s.backend.Requests("GET /books/{$}"), "catalog is fetched again")
	assert.Contains(s.T(), body, "Dune")
	assert.NotContains(s.T(), body, `class="update-book"`)
}

func (s *HandlersTestSuite) TestUnknownListType() {
	s.login()
	status, _ := s.post("/books/1/lists/favourites", url.Values{})
	assert.Equal(s.T(), http.StatusNotFound, status)
}

func (s *HandlersTestSuite) TestFilterUsesLoadedCatalog() {
	s.get("/")
	before := s.backend.TotalRequests()

	status, body := s.get("/filter?q=du", "HX-Request", "true", "HX-Target", "book-grid")
	assert.Equal(s.T(), http.StatusOK, status)
	assert.Contains(s.T(), body, "Dune")
	assert.NotContains(s.T(), body, "Emma")
	assert.NotContains(s.T(), body, "<html", "only the grid is rendered")
	assert.Equal(s.T(), before, s.backend.TotalRequests(), "filtering must not call the backend")

	_, body = s.get("/filter?q=", "HX-Request", "true", "HX-Target", "book-grid")
	assert.Contains(s.T(), body, "Emma")
}

func (s *HandlersTestSuite) TestFilterWithoutHTMX() {
	_, body := s.get("/filter?q=emm")
	assert.Contains(s.T(), body, "Emma")
	assert.NotContains(s.T(), body, "Dune")
}

func (s *HandlersTestSuite) TestSearch() {
	_, body := s.get("/search.html")
	assert.Contains(s.T(), body, `id="search-form"`)
	assert.Zero(s.T(), s.backend.Requests("GET /books/search/{$}"), "empty query runs no search")

	_, body = s.get("/search.html?genre=Sci+Fi")
	assert.Contains(s.T(), body, "Dune")
	assert.NotContains(s.T(), body, "Emma")

	_, body = s.get("/search.html?title=zzz")
	assert.Contains(s.T(), body, "No books found matching your criteria.")
}

func (s *HandlersTestSuite) TestSearchFailure() {
	s.backend.Fail("GET /books/search/{$}", http.StatusInternalServerError, "")
	_, body := s.get("/search.html?author=austen")
	assert.Contains(s.T(), body, "Error fetching search results. Please try again.")
}

func (s *HandlersTestSuite) TestIdentityOutageKeepsToken() {
	s.login()
	s.backend.Fail("GET /users/me", http.StatusServiceUnavailable, "")
	_, body := s.get("/")
	assert.NotContains(s.T(), body, "Welcome, bob")

	s.backend.Heal()
	_, body = s.get("/")
	assert.Contains(s.T(), body, "Welcome, bob", "token survives the outage")
}

func (s *HandlersTestSuite) TestModalLinksCloseToCurrentPage() {
	_, body := s.get("/book.html?id=2&modal=login")
	assert.Contains(s.T(), body, `id="login-modal"`)
	assert.Contains(s.T(), body, `class="close-button" href="book.html?id=2"`)
}

func TestHandlersTestSuite(t *testing.T) {
	suite.Run(t, new(HandlersTestSuite))
}

func TestReturnTo(t *testing.T) {
	assert.Equal(t, "book.html?id=3", returnTo("book.html?id=3"))
	assert.Equal(t, "search.html", returnTo("search.html"))
	assert.Equal(t, "index.html", returnTo("https://evil.example.com/"))
	assert.Equal(t, "index.html", returnTo("//evil.example.com"))
	assert.Equal(t, "index.html", returnTo(""))
}

func TestWithModal(t *testing.T) {
	assert.Equal(t, "index.html?modal=login", withModal("index.html", "login"))
	assert.Equal(t, "book.html?id=1&modal=update", withModal("book.html?id=1", "update"))
}

func TestRejectedFillsEmptyDetail(t *testing.T) {
	err := rejected(&api.Error{StatusCode: 400}, "Login failed!")
	assert.Equal(t, "Login failed!", api.DetailOr(err, "x"))

	err = rejected(&api.Error{StatusCode: 401, Detail: "Incorrect username or password"}, "Login failed!")
	assert.Equal(t, "Incorrect username or password", api.DetailOr(err, "x"))
	assert.Nil(t, rejected(nil, "x"))
}
