package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"litrank-web/internal/api"
	"litrank-web/internal/forms"
	"litrank-web/internal/session"

	"golang.org/x/term"
)

const defaultAPI = "http://localhost:8000"

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("signup", flag.ContinueOnError)
	fs.SetOutput(stderr)

	username := fs.String("user", "", "Username")
	email := fs.String("email", "", "Email address")
	passwordFlag := fs.String("password", "", "Password (optional, will prompt if omitted)")
	apiURL := fs.String("api", defaultAPI, "Backend base URL")
	timeout := fs.Duration("timeout", 15*time.Second, "Backend request timeout")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *username == "" || *email == "" {
		fmt.Fprintln(stdout, "Usage: signup -user <username> -email <email> [-password <password>] [-api <url>]")
		fs.PrintDefaults()
		return fmt.Errorf("missing required flags: user, email")
	}

	password := *passwordFlag
	if password == "" {
		fmt.Fprint(stdout, "Password: ")
		var err error
		password, err = readPassword(stdin)
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(stdout)
	}

	if strings.TrimSpace(password) == "" {
		return fmt.Errorf("password cannot be empty")
	}

	// Allow overriding the backend via env var if not explicitly set via flag
	if u := os.Getenv("API_BASE_URL"); u != "" && *apiURL == defaultAPI {
		*apiURL = u
	}

	form := forms.SignupForm{Username: *username, Email: *email, Password: password}
	if err := form.Validate(); err != nil {
		return fmt.Errorf("invalid account: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*(*timeout))
	defer cancel()

	client := api.NewClient(*apiURL, api.Options{Timeout: *timeout})
	user, err := client.CreateUser(ctx, form.Account())
	if err != nil {
		if api.IsStatus(err, http.StatusBadRequest) {
			return fmt.Errorf("user %s already exists: %s", *username, api.DetailOr(err, "rejected"))
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	fmt.Fprintf(stdout, "User %s created successfully with ID %d\n", user.Username, user.ID)

	// Logging in once proves the account works with the given password.
	store := session.NewStore(client, &session.MemoryTokens{})
	if _, err := store.Login(ctx, *username, password); err != nil {
		return fmt.Errorf("account created but login failed: %w", err)
	}
	fmt.Fprintln(stdout, "Login verified")
	return nil
}

func readPassword(stdin io.Reader) (string, error) {
	// Check if stdin is a terminal
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		bytePassword, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		return string(bytePassword), nil
	}

	// Fallback for non-terminal (e.g. tests, pipes)
	scanner := bufio.NewScanner(stdin)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}
