// Package api implements the RESTful control API of a tracker: start a trace, follow its progress and cancel it.
//
//	GET    /                        welcome message
//	GET    /trace                   status and snapshot of the current or last run
//	POST   /trace/{address}?block=N start tracing address from block N (default 0)
//	DELETE /trace                   cancel the running trace and wait for it to stop
//
// Every reply is a Response whose body holds the JSON encoded result.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/life0fun/ethtaint/tracker"
)

const timeout = 15

// Server serves the API for one tracker.
type Server struct {
	t   *tracker.Tracker
	ctx context.Context // parent of the traces started through the API
	s   *http.Server
}

// New returns a Server for t. Traces started through the API stop when ctx is done.
func New(ctx context.Context, t *tracker.Tracker) *Server {
	return &Server{t: t, ctx: ctx}
}

// Router returns the API routes.
func (a *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", a.homeHandler)
	r.HandleFunc("/trace", a.statusHandler).Methods(http.MethodGet)           // status and snapshot
	r.HandleFunc("/trace", a.cancelHandler).Methods(http.MethodDelete)        // cancel running trace
	r.HandleFunc("/trace/{address}", a.startHandler).Methods(http.MethodPost) // start a trace
	return r
}

// ListenAndServe serves the API on endpoint:port until ctx is done, then shuts the server down.
func (a *Server) ListenAndServe(ctx context.Context, endpoint, port string) error {
	a.s = &http.Server{
		Handler:      a.Router(),
		Addr:         endpoint + ":" + port,
		WriteTimeout: timeout * time.Second,
		ReadTimeout:  timeout * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- a.s.ListenAndServe()
	}()
	log.Info("listening to API http requests", "endpoint", endpoint, "port", port)

	select {
	case err := <-errc:
		return errors.Wrap(err, "api server")
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), timeout*time.Second)
	defer cancel()
	if err := a.s.Shutdown(sctx); err != nil {
		return errors.Wrap(err, "api server shutdown")
	}
	log.Info("api server stopped")
	return nil
}
