// Command devapi serves an in-memory stand-in for the LitRank backend, for
// running the frontend locally and in browser tests.
package main

import (
	"flag"
	"net/http"
	"os"
	"time"

	"litrank-web/internal/fakeapi"
	"litrank-web/internal/logger"

	"github.com/rs/zerolog/log"
)

func main() {
	addr := flag.String("addr", ":8000", "Listen address")
	seed := flag.String("seed", "", "CSV file of books to load (id,title,author,genre,rating,image_url[,description])")
	secret := flag.String("secret", "dev-secret", "Token signing secret")
	user := flag.String("user", "", "Create this user at startup (requires -password)")
	password := flag.String("password", "", "Password for -user")
	flag.Parse()

	logger.Init("development", "debug")

	b := fakeapi.New(*secret)
	if *seed != "" {
		f, err := os.Open(*seed)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open seed file")
		}
		n, err := b.LoadCSV(f)
		f.Close()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load seed file")
		}
		log.Info().Int("books", n).Str("file", *seed).Msg("catalog seeded")
	}
	if *user != "" {
		if _, err := b.AddUser(*user, *user+"@example.com", *password); err != nil {
			log.Fatal().Err(err).Msg("failed to create user")
		}
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           b.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info().Str("addr", *addr).Msg("dev backend listening")
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("dev backend failed")
	}
}
