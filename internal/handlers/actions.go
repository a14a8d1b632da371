package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"litrank-web/internal/api"
	"litrank-web/internal/forms"
	"litrank-web/internal/view"
	"litrank-web/internal/viewstate"

	"github.com/rs/zerolog/log"
)

// submission describes one modal form post.
type submission struct {
	modal    string
	values   map[string]string
	fallback string

	// back is the page the form was opened on, the posted return page when
	// empty. next is where the browser goes on success, back when empty.
	back   string
	next   string
	notice string
	run    forms.SubmitFunc
}

// submit runs s through the form coordinator. Success redirects with the
// notice. On failure htmx requests get the modal back with the typed values
// and its error; plain posts keep them as a draft and are redirected to the
// page with the modal reopened.
func (h *Handlers) submit(w http.ResponseWriter, r *http.Request, s submission) {
	v := visitorFrom(r)
	back := s.back
	if back == "" {
		back = returnTo(r.PostFormValue("return"))
	}

	m := forms.NewModal(s.modal)
	m.Open(s.values)
	err := h.forms.Submit(r.Context(), v.key(s.modal), m, s.fallback, s.run)
	h.answer(w, r, m, err, back, s.next, s.notice)
}

func (h *Handlers) answer(w http.ResponseWriter, r *http.Request, m *forms.Modal, err error, back, next, notice string) {
	if err == nil {
		if next == "" {
			next = back
		}
		h.flash(w, NoticeSuccess, notice)
		h.redirect(w, r, next)
		return
	}

	log.Ctx(r.Context()).Warn().Err(err).Str("form", m.Name).Msg("form submission failed")
	if isHTMX(r) {
		p := &PageView{Here: back, Modal: m}
		h.renderer.RenderBlock(w, r, http.StatusOK, "", "modal", p)
		return
	}
	values := m.Values()
	delete(values, "password")
	h.states.For(visitorFrom(r).id).Keep(viewstate.Draft{Form: m.Name, Values: values, Error: m.Error})
	h.redirect(w, r, withModal(back, m.Name))
}

// formValues copies the named fields of a parsed form.
func formValues(r *http.Request, fields ...string) map[string]string {
	values := make(map[string]string, len(fields))
	for _, f := range fields {
		values[f] = r.PostFormValue(f)
	}
	return values
}

// rejected gives a detail-less backend rejection the form's own message.
func rejected(err error, detail string) error {
	var apiErr *api.Error
	if errors.As(err, &apiErr) && apiErr.Detail == "" {
		return &api.Error{StatusCode: apiErr.StatusCode, Detail: detail}
	}
	return err
}

func parseForm(w http.ResponseWriter, r *http.Request) bool {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form submission", http.StatusBadRequest)
		return false
	}
	return true
}

// Login handles the login form submission.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	sessions := visitorFrom(r).sessions
	h.submit(w, r, submission{
		modal:    forms.Login,
		values:   formValues(r, "username", "password"),
		fallback: genericError,
		notice:   "Login successful!",
		run: func(ctx context.Context, values map[string]string) error {
			f := forms.LoginFrom(values)
			if err := f.Validate(); err != nil {
				return err
			}
			_, err := sessions.Login(ctx, f.Username, f.Password)
			return rejected(err, "Login failed!")
		},
	})
}

// Signup handles the sign-up form submission.
func (h *Handlers) Signup(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	h.submit(w, r, submission{
		modal:    forms.Signup,
		values:   formValues(r, "username", "email", "password"),
		fallback: genericError,
		notice:   "Sign-Up successful!",
		run: func(ctx context.Context, values map[string]string) error {
			f := forms.SignupFrom(values)
			if err := f.Validate(); err != nil {
				return err
			}
			_, err := h.api.CreateUser(ctx, f.Account())
			return rejected(err, "Sign-up failed!")
		},
	})
}

// Logout clears the visitor's token. It never calls the backend.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	v := visitorFrom(r)
	if err := v.sessions.Logout(r.Context()); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("failed to clear token")
		h.flash(w, NoticeError, genericError)
		h.redirect(w, r, "index.html")
		return
	}
	h.states.Forget(v.id)
	h.flash(w, NoticeSuccess, "Logout successful!")
	h.redirect(w, r, "index.html")
}

// AddBook handles the add-book form submission.
func (h *Handlers) AddBook(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	sess := visitorFrom(r).sessions.Resolve(r.Context())
	if sess == nil {
		h.flash(w, NoticeError, msgLoginToAdd)
		h.redirect(w, r, returnTo(r.PostFormValue("return")))
		return
	}
	h.submit(w, r, submission{
		modal:    forms.AddBook,
		values:   formValues(r, forms.BookFields...),
		fallback: genericError,
		notice:   "Book added successfully!",
		run: func(ctx context.Context, values map[string]string) error {
			in, err := forms.BookFrom(values).Input()
			if err != nil {
				return err
			}
			_, err = h.api.CreateBook(ctx, sess.Token, in)
			return rejected(err, "Failed to add book.")
		},
	})
}

// UpdateBook handles the update form of the detail view.
func (h *Handlers) UpdateBook(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(r)
	if !ok {
		http.Error(w, msgMissingID, http.StatusBadRequest)
		return
	}
	if !parseForm(w, r) {
		return
	}
	sess := visitorFrom(r).sessions.Resolve(r.Context())
	detail := view.DetailURL(id)
	if sess == nil {
		h.flash(w, NoticeError, msgLoginToEdit)
		h.redirect(w, r, detail)
		return
	}

	values := formValues(r, forms.BookFields...)
	values["id"] = strconv.FormatInt(id, 10)
	h.submit(w, r, submission{
		modal:    forms.Update,
		values:   values,
		fallback: msgUpdateError,
		back:     detail,
		next:     detail,
		notice:   "Book updated successfully.",
		run: func(ctx context.Context, values map[string]string) error {
			in, err := forms.BookFrom(values).Input()
			if err != nil {
				return err
			}
			_, err = h.api.UpdateBook(ctx, sess.Token, id, in)
			return err
		},
	})
}

// DeleteBook deletes a book once the confirmation was answered with yes.
// Any other answer closes the dialog without calling the backend.
func (h *Handlers) DeleteBook(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(r)
	if !ok {
		http.Error(w, msgMissingID, http.StatusBadRequest)
		return
	}
	if !parseForm(w, r) {
		return
	}
	v := visitorFrom(r)
	detail := view.DetailURL(id)

	m := forms.NewModal(forms.Delete)
	m.Open(map[string]string{"id": strconv.FormatInt(id, 10), "title": r.PostFormValue("title")})
	confirmed := r.PostFormValue("confirm") == "yes"
	ran, err := h.forms.Confirm(r.Context(), v.key(forms.Delete), m, confirmed, msgDeleteError,
		func(ctx context.Context, _ map[string]string) error {
			sess := v.sessions.Resolve(ctx)
			if sess == nil {
				return api.ErrNotAuthenticated
			}
			return h.api.DeleteBook(ctx, sess.Token, id)
		})
	if !ran {
		h.redirect(w, r, detail)
		return
	}
	h.answer(w, r, m, err, detail, "index.html", "Book deleted successfully.")
}

// AddToList puts a book on one of the visitor's reading lists.
func (h *Handlers) AddToList(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(r)
	if !ok {
		http.Error(w, msgMissingID, http.StatusBadRequest)
		return
	}
	list, ok := listFrom(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if !parseForm(w, r) {
		return
	}
	back := returnTo(r.PostFormValue("return"))

	sess := visitorFrom(r).sessions.Resolve(r.Context())
	if sess == nil {
		h.flash(w, NoticeError, msgLoginToList)
		h.redirect(w, r, back)
		return
	}

	if err := h.api.AddToReadingList(r.Context(), sess.Token, sess.UserID, id, list); err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Int64("book_id", id).Str("list", string(list)).Msg("failed to add to reading list")
		h.flash(w, NoticeError, listError("Error adding book to list: ", err))
		h.redirect(w, r, back)
		return
	}
	h.flash(w, NoticeSuccess, fmt.Sprintf("Book added to %s list!", list.Label()))
	h.redirect(w, r, back)
}

// RemoveFromList takes a book off the visitor's reading list.
func (h *Handlers) RemoveFromList(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(r)
	if !ok {
		http.Error(w, msgMissingID, http.StatusBadRequest)
		return
	}
	if !parseForm(w, r) {
		return
	}
	back := returnTo(r.PostFormValue("return"))

	sess := visitorFrom(r).sessions.Resolve(r.Context())
	if sess == nil {
		h.flash(w, NoticeError, msgLoginToList)
		h.redirect(w, r, back)
		return
	}

	if err := h.api.RemoveFromReadingList(r.Context(), sess.Token, sess.UserID, id); err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Int64("book_id", id).Msg("failed to remove from reading list")
		h.flash(w, NoticeError, listError("Error removing book from list: ", err))
		h.redirect(w, r, back)
		return
	}
	h.flash(w, NoticeSuccess, "Book removed from your list.")
	h.redirect(w, r, back)
}

func listError(prefix string, err error) string {
	if detail := api.DetailOr(err, ""); detail != "" {
		return prefix + detail
	}
	return genericError
}
