// This file handles the relay: the local listener that serves the catalog listing.

package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog/log"
)

type textFetcher interface {
	FetchText(ctx context.Context) (string, error)
}

// Answers every request with a fresh copy of the catalog listing.
type relay struct {
	fetcher     textFetcher
	exitOnError bool

	// Called when a fetch fails and exitOnError is set. Never returns in production.
	exit func(err error)
}

func newRelay(fetcher textFetcher, exitOnError bool) *relay {
	return &relay{
		fetcher:     fetcher,
		exitOnError: exitOnError,
		exit: func(err error) {
			log.Fatal().Err(err).Msg("Catalog fetch failed, shutting down")
		},
	}
}

func (r *relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	started := time.Now()
	requestId := uuid.NewString()

	// A caller hanging up is not a catalog failure, so its cancellation is not passed on.
	body, err := r.fetcher.FetchText(context.WithoutCancel(req.Context()))
	if err != nil {
		log.Error().Err(err).Str("request", requestId).Msg("Catalog fetch failed")
		if r.exitOnError {
			r.exit(err)
		}
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(body)); err != nil {
		log.Warn().Err(err).Str("request", requestId).Msg("Could not write relay response")
		return
	}

	log.Debug().
		Str("request", requestId).
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("bytes", len(body)).
		Dur("took", time.Since(started)).
		Msg("Relayed catalog")
}

// Routes every method and path to the relay. Paths are left as sent so that
// "//x" or "/a/../b" are answered instead of redirected.
func newRelayRouter(catalogRelay *relay, app *newrelic.Application) http.Handler {
	router := mux.NewRouter()
	router.SkipClean(true)

	_, handler := newrelic.WrapHandle(app, "relay", catalogRelay)
	router.PathPrefix("/").Handler(handler)
	router.NotFoundHandler = handler
	router.MethodNotAllowedHandler = handler

	return router
}

func newRelayServer(address string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:    address,
		Handler: handler,
	}
}

// Serves until the server is closed.
func startRelay(server *http.Server) error {
	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
