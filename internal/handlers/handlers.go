package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"litrank-web/internal/api"
	"litrank-web/internal/forms"
	"litrank-web/internal/models"
	"litrank-web/internal/search"
	"litrank-web/internal/session"
	"litrank-web/internal/storage"
	"litrank-web/internal/view"
	"litrank-web/internal/viewstate"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Context key type to avoid collisions.
type contextKey string

const (
	visitorContextKey contextKey = "visitor"
	// VisitorCookieName is the name of the visitor cookie.
	VisitorCookieName = "litrank_visitor"
	// FlashCookieName carries the notice shown on the next page render.
	FlashCookieName = "litrank_flash"
	// DefaultVisitorDuration is how long an idle visitor is kept (30 days).
	DefaultVisitorDuration = 30 * 24 * time.Hour
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	api      *api.Client
	db       *storage.DB
	renderer *view.Renderer
	states   *viewstate.Registry
	forms    *forms.Coordinator
	search   *search.Controller

	secureCookie    bool
	visitorDuration time.Duration
}

// Options tune the handlers.
type Options struct {
	SecureCookie    bool
	VisitorDuration time.Duration
	// StateTTL is how long an idle visitor's loaded catalog is kept in memory.
	StateTTL time.Duration
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *api.Client, db *storage.DB, templateDir string, opts Options) *Handlers {
	if opts.VisitorDuration <= 0 {
		opts.VisitorDuration = DefaultVisitorDuration
	}
	if opts.StateTTL <= 0 {
		opts.StateTTL = time.Hour
	}
	return &Handlers{
		api:             client,
		db:              db,
		renderer:        view.NewRenderer(templateDir),
		states:          viewstate.NewRegistry(opts.StateTTL),
		forms:           forms.NewCoordinator(),
		search:          search.NewController(client),
		secureCookie:    opts.SecureCookie,
		visitorDuration: opts.VisitorDuration,
	}
}

// Register mounts the page and action routes on mux, each behind the
// visitor middleware.
func (h *Handlers) Register(mux *http.ServeMux) {
	page := func(fn http.HandlerFunc) http.Handler { return h.VisitorMiddleware(fn) }

	mux.Handle("GET /{$}", page(h.Index))
	mux.Handle("GET /index.html", page(h.Index))
	mux.Handle("GET /filter", page(h.Filter))
	mux.Handle("GET /book.html", page(h.BookDetail))
	mux.Handle("GET /search.html", page(h.Search))

	mux.Handle("POST /login", page(h.Login))
	mux.Handle("POST /signup", page(h.Signup))
	mux.Handle("POST /logout", page(h.Logout))

	mux.Handle("POST /books", page(h.AddBook))
	mux.Handle("POST /books/{id}", page(h.UpdateBook))
	mux.Handle("POST /books/{id}/delete", page(h.DeleteBook))
	mux.Handle("POST /books/{id}/lists/{list}", page(h.AddToList))
	mux.Handle("POST /books/{id}/lists/remove", page(h.RemoveFromList))
}

// Sweep drops expired visitors and idle view states.
func (h *Handlers) Sweep(ctx context.Context, now time.Time) {
	n, err := h.db.CleanExpiredVisitors()
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to clean expired visitors")
	}
	dropped := h.states.Sweep(now)
	if n > 0 || dropped > 0 {
		log.Ctx(ctx).Info().Int64("visitors", n).Int("states", dropped).Msg("swept idle visitors")
	}
}

// visitor is the browser behind a request.
type visitor struct {
	id       string
	sessions *session.Store
}

func visitorFrom(r *http.Request) *visitor {
	if v, ok := r.Context().Value(visitorContextKey).(*visitor); ok {
		return v
	}
	return nil
}

// key scopes a form name to the visitor for the in-flight guard.
func (v *visitor) key(form string) string {
	return v.id + "/" + form
}

// VisitorMiddleware identifies the browser by its visitor cookie, creating a
// visitor on first contact. It implements rolling visitors: past the halfway
// point of its lifetime a visitor is renewed.
func (h *Handlers) VisitorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := h.visitorID(w, r)

		logger := log.Ctx(r.Context()).With().Str("visitor", id).Logger()
		ctx := logger.WithContext(r.Context())
		ctx = context.WithValue(ctx, visitorContextKey, &visitor{
			id:       id,
			sessions: session.NewStore(h.api, session.ForVisitor(h.db, id, h.visitorDuration)),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handlers) visitorID(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(VisitorCookieName); err == nil && cookie.Value != "" {
		info, err := h.db.ValidateVisitor(cookie.Value)
		if err == nil {
			now := time.Now()
			if info.ExpiresAt.Sub(now) < h.visitorDuration/2 {
				if err := h.db.RenewVisitor(cookie.Value, now.Add(h.visitorDuration)); err == nil {
					h.setVisitorCookie(w, cookie.Value)
				}
			}
			return cookie.Value
		}
		if !errors.Is(err, storage.ErrVisitorNotFound) {
			log.Ctx(r.Context()).Error().Err(err).Msg("failed to validate visitor")
		}
	}

	id := uuid.New().String()
	if err := h.db.CreateVisitor(id, time.Now().Add(h.visitorDuration)); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("failed to create visitor")
	}
	h.setVisitorCookie(w, id)
	return id
}

func (h *Handlers) setVisitorCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     VisitorCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(h.visitorDuration.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// Notice kinds.
const (
	NoticeSuccess = "success"
	NoticeError   = "error"
)

// Notice is a one-shot message shown at the top of the next page.
type Notice struct {
	Kind string
	Text string
}

func (h *Handlers) flash(w http.ResponseWriter, kind, text string) {
	http.SetCookie(w, &http.Cookie{
		Name:     FlashCookieName,
		Value:    url.Values{"kind": {kind}, "text": {text}}.Encode(),
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// takeFlash reads and clears the pending notice.
func (h *Handlers) takeFlash(w http.ResponseWriter, r *http.Request) *Notice {
	cookie, err := r.Cookie(FlashCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	http.SetCookie(w, &http.Cookie{
		Name:     FlashCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	v, err := url.ParseQuery(cookie.Value)
	if err != nil || v.Get("text") == "" {
		return nil
	}
	kind := v.Get("kind")
	if kind != NoticeError {
		kind = NoticeSuccess
	}
	return &Notice{Kind: kind, Text: v.Get("text")}
}

// redirect sends the browser to target, a page path taken from the site
// root. htmx requests get HX-Redirect so the whole page reloads.
func (h *Handlers) redirect(w http.ResponseWriter, r *http.Request, target string) {
	target = "/" + strings.TrimLeft(target, "/")
	if isHTMX(r) {
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// PageView is the data passed to every page template.
type PageView struct {
	Title   string
	// Here is the current page without the modal parameter. Closing a modal
	// navigates to it.
	Here    string
	Session *models.Session
	Notice  *Notice
	Modal   *forms.Modal

	Cards   []view.Card
	Query   string
	Message string

	Book   *view.Card
	InList bool

	Search models.SearchQuery

	// draft is a failed plain form post; opening its modal restores it.
	draft *viewstate.Draft
}

// ModalURL returns Here with the named modal open.
func (p *PageView) ModalURL(name string) string {
	return withModal(p.Here, name)
}

// open shows a modal with prefill, or with the typed values and error of
// the pending draft for the same modal.
func (p *PageView) open(name string, prefill map[string]string) {
	m := forms.NewModal(name)
	if d := p.draft; d != nil && d.Form == name {
		m.Open(d.Values)
		m.Error = d.Error
	} else {
		m.Open(prefill)
	}
	p.Modal = m
}

// page builds the shared part of a page: the session, the pending notice
// and the modal requested by ?modal=. A pending draft is consumed here
// whether or not its modal is opened.
func (h *Handlers) page(w http.ResponseWriter, r *http.Request, title, here string) *PageView {
	v := visitorFrom(r)
	p := &PageView{
		Title:   title,
		Here:    here,
		Session: v.sessions.Resolve(r.Context()),
		Notice:  h.takeFlash(w, r),
		draft:   h.states.For(v.id).TakeDraft(),
	}

	switch name := r.URL.Query().Get("modal"); name {
	case forms.Login, forms.Signup:
		p.open(name, nil)
	case forms.AddBook:
		if p.Session == nil {
			p.Notice = &Notice{Kind: NoticeError, Text: msgLoginToAdd}
			break
		}
		p.open(name, nil)
	}
	return p
}

func withModal(here, name string) string {
	sep := "?"
	if strings.Contains(here, "?") {
		sep = "&"
	}
	return here + sep + "modal=" + url.QueryEscape(name)
}

// returnTo accepts only relative links to the site's own pages.
func returnTo(raw string) string {
	for _, prefix := range []string{"index.html", "book.html", "search.html"} {
		if raw == prefix || strings.HasPrefix(raw, prefix+"?") {
			return raw
		}
	}
	return "index.html"
}
