package forms

import (
	"errors"
	"strconv"
	"strings"

	"litrank-web/internal/models"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// LoginForm holds the login fields.
type LoginForm struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginFrom reads a login form from modal values.
func LoginFrom(v map[string]string) LoginForm {
	return LoginForm{Username: strings.TrimSpace(v["username"]), Password: v["password"]}
}

func (f LoginForm) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Username, validation.Required),
		validation.Field(&f.Password, validation.Required),
	)
}

// SignupForm holds the account creation fields.
type SignupForm struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignupFrom reads a signup form from modal values.
func SignupFrom(v map[string]string) SignupForm {
	return SignupForm{
		Username: strings.TrimSpace(v["username"]),
		Email:    strings.TrimSpace(v["email"]),
		Password: v["password"],
	}
}

func (f SignupForm) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Username, validation.Required, validation.Length(1, 64)),
		validation.Field(&f.Email, validation.Required, is.EmailFormat),
		validation.Field(&f.Password, validation.Required),
	)
}

// Account converts the form into the backend payload.
func (f SignupForm) Account() models.NewAccount {
	return models.NewAccount{Username: f.Username, Email: f.Email, Password: f.Password}
}

// BookForm holds the add/update book fields as typed.
type BookForm struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	Genre       string `json:"genre"`
	Rating      string `json:"rating"`
	ImageURL    string `json:"image_url"`
	Description string `json:"description"`
}

// BookFields are the input names of a book form.
var BookFields = []string{"title", "author", "genre", "rating", "image_url", "description"}

// BookFrom reads a book form from modal values.
func BookFrom(v map[string]string) BookForm {
	return BookForm{
		Title:       strings.TrimSpace(v["title"]),
		Author:      strings.TrimSpace(v["author"]),
		Genre:       strings.TrimSpace(v["genre"]),
		Rating:      strings.TrimSpace(v["rating"]),
		ImageURL:    strings.TrimSpace(v["image_url"]),
		Description: strings.TrimSpace(v["description"]),
	}
}

var errRatingRange = errors.New("must be a number between 0 and 5")

func ratingInRange(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	r, err := strconv.ParseFloat(s, 64)
	if err != nil || r < 0 || r > 5 {
		return errRatingRange
	}
	return nil
}

func (f BookForm) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Title, validation.Required),
		validation.Field(&f.Author, validation.Required),
		validation.Field(&f.Genre, validation.Required),
		validation.Field(&f.Rating, validation.Required, validation.By(ratingInRange)),
	)
}

// Input validates the form and converts it into the backend payload.
func (f BookForm) Input() (models.BookInput, error) {
	if err := f.Validate(); err != nil {
		return models.BookInput{}, err
	}
	rating, _ := strconv.ParseFloat(f.Rating, 64)
	return models.BookInput{
		Title:       f.Title,
		Author:      f.Author,
		Genre:       f.Genre,
		Rating:      rating,
		ImageURL:    f.ImageURL,
		Description: f.Description,
	}, nil
}
