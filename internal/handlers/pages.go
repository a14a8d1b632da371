package handlers

import (
	"net/http"
	"net/url"
	"strconv"

	"litrank-web/internal/api"
	"litrank-web/internal/forms"
	"litrank-web/internal/models"
	"litrank-web/internal/search"
	"litrank-web/internal/view"
	"litrank-web/internal/viewstate"

	"github.com/rs/zerolog/log"
)

const (
	genericError   = "An error occurred. Please try again."
	msgMissingID   = "Book ID is missing in the URL."
	msgBookError   = "Error fetching book details. Please try again."
	msgSearchError = "Error fetching search results. Please try again."
	msgLoginToAdd  = "You must be logged in to add books."
	msgLoginToList = "You must be logged in to add books to your list."
	msgLoginToEdit = "You must be logged in to change books."
	msgDeleteError = "Error deleting book. Please try again."
	msgUpdateError = "Error updating book. Please try again."
)

// Index renders the catalog. A q parameter applies the title filter, so the
// filter also works without htmx.
func (h *Handlers) Index(w http.ResponseWriter, r *http.Request) {
	p := h.page(w, r, "LitRank", "index.html")
	st := h.states.For(visitorFrom(r).id)
	st.Remember(p.Session)

	if err := h.loadCatalog(r, st); err != nil && p.Session != nil {
		log.Ctx(r.Context()).Warn().Err(err).Msg("failed to load catalog")
	}

	p.Query = r.URL.Query().Get("q")
	p.Cards = view.Cards(st.Filter(p.Query), p.Session)
	h.renderer.Render(w, r, "index.html", p)
}

// loadCatalog fetches the catalog into st. A fetch overtaken by a newer one
// is dropped.
func (h *Handlers) loadCatalog(r *http.Request, st *viewstate.State) error {
	ticket := st.Begin()
	books, err := h.api.ListBooks(r.Context())
	if err != nil {
		return err
	}
	if !st.Apply(ticket, books) {
		log.Ctx(r.Context()).Debug().Uint64("ticket", uint64(ticket)).Msg("stale catalog response dropped")
	}
	return nil
}

// Filter re-renders the grid from the visitor's loaded catalog. It calls the
// backend only when nothing was loaded yet, e.g. after a restart.
func (h *Handlers) Filter(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if !isHTMX(r) {
		target := "/index.html"
		if q != "" {
			target += "?q=" + url.QueryEscape(q)
		}
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}

	st := h.states.For(visitorFrom(r).id)
	if !st.Loaded() {
		if err := h.loadCatalog(r, st); err != nil {
			log.Ctx(r.Context()).Warn().Err(err).Msg("failed to load catalog for filter")
		}
	}

	sess := st.Session()
	p := &PageView{
		Here:    "index.html",
		Session: sess,
		Query:   q,
		Cards:   view.Cards(st.Filter(q), sess),
	}
	h.renderer.RenderBlock(w, r, http.StatusOK, "index.html", "grid", p)
}

// BookDetail renders one book. ?modal=update opens the prefilled update
// form and ?modal=delete the delete confirmation.
func (h *Handlers) BookDetail(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("id")
	p := h.page(w, r, "Book details", "book.html?id="+url.QueryEscape(raw))

	id, err := strconv.ParseInt(raw, 10, 64)
	if raw == "" || err != nil || id <= 0 {
		p.Message = msgMissingID
		h.renderer.RenderStatus(w, r, http.StatusBadRequest, "book.html", p)
		return
	}

	book, err := h.api.GetBook(r.Context(), id)
	if err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Int64("book_id", id).Msg("failed to fetch book")
		status := http.StatusBadGateway
		if api.IsStatus(err, http.StatusNotFound) {
			status = http.StatusNotFound
		}
		p.Message = msgBookError
		h.renderer.RenderStatus(w, r, status, "book.html", p)
		return
	}

	card := view.NewCard(*book, p.Session)
	p.Book = &card
	p.Title = book.Title

	if p.Session != nil {
		in, err := h.api.InReadingList(r.Context(), p.Session.Token, p.Session.UserID, id)
		if err != nil {
			log.Ctx(r.Context()).Warn().Err(err).Int64("book_id", id).Msg("failed to check reading list")
		}
		p.InList = in
	}

	switch name := r.URL.Query().Get("modal"); name {
	case forms.Update, forms.Delete:
		if p.Session == nil {
			p.Notice = &Notice{Kind: NoticeError, Text: msgLoginToEdit}
			break
		}
		prefill := map[string]string{"id": raw, "title": book.Title}
		if name == forms.Update {
			prefill = book.FormValues()
			prefill["id"] = raw
		}
		p.open(name, prefill)
	}

	h.renderer.Render(w, r, "book.html", p)
}

// Search runs the advanced search when any field is set, including a genre
// arriving from a genre tag.
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	q := search.QueryFrom(r.URL.Query())
	here := "search.html"
	if enc := search.Values(q).Encode(); enc != "" {
		here += "?" + enc
	}
	p := h.page(w, r, "Search", here)
	p.Search = q

	if !search.Empty(q) {
		res, err := h.search.Remote(r.Context(), q)
		if err != nil {
			log.Ctx(r.Context()).Warn().Err(err).Msg("search failed")
			p.Message = msgSearchError
		} else {
			p.Cards = view.Cards(res.Books, p.Session)
			p.Message = res.Message
		}
	}

	h.renderer.Render(w, r, "search.html", p)
}

// bookID reads the {id} path value.
func bookID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil && id > 0
}

// listFrom reads the {list} path value.
func listFrom(r *http.Request) (models.ListType, bool) {
	list := models.ListType(r.PathValue("list"))
	return list, list.Valid()
}
