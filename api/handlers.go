package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/life0fun/ethtaint/tracker"
)

// Errors returned to client requests.
var (
	ErrBadBlock = errors.New("invalid block - query must be ?block=<number>")
	ErrNoAddr   = errors.New("undefined address - missing in uri")
)

// Welcome is the body replied on the root path.
const Welcome = "Hello, this is ethtaint!"

// Response defines the data structure returned to the client making the http request.
type Response struct {
	Body  string `json:"body"`
	Error string `json:"error,omitempty"`
}

func reply(rw http.ResponseWriter, r *http.Request, status int, body interface{}, err error) {
	var res Response
	if err != nil {
		res.Error = err.Error()
	} else if s, ok := body.(string); ok {
		res.Body = s
	} else {
		tmp, _ := json.Marshal(body)
		res.Body = string(tmp)
	}
	log.Debug("http request", "from", r.RemoteAddr, "method", r.Method, "uri", r.RequestURI, "status", status,
		"err", err)
	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(&res)
}

// homeHandler just replies a welcome message to the client.
func (a *Server) homeHandler(rw http.ResponseWriter, r *http.Request) {
	reply(rw, r, http.StatusOK, Welcome, nil)
}

// statusHandler replies the snapshot of the current or last run.
func (a *Server) statusHandler(rw http.ResponseWriter, r *http.Request) {
	reply(rw, r, http.StatusOK, a.t.Snapshot(), nil)
}

// startHandler starts tracing the address in the uri. The trace runs in the background; the reply carries the status
// right after it started.
func (a *Server) startHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	status := http.StatusAccepted

	var st tracker.Status

	defer func() {
		reply(rw, r, status, st, err)
	}()

	if err = r.ParseForm(); err != nil {
		status = http.StatusBadRequest

		return
	}

	address, ok := mux.Vars(r)["address"]
	if !ok || address == "" {
		err, status = ErrNoAddr, http.StatusBadRequest

		return
	}

	var block uint64
	if tmp, ok := r.Form["block"]; ok {
		if block, err = strconv.ParseUint(tmp[0], 10, 64); err != nil {
			err, status = ErrBadBlock, http.StatusBadRequest

			return
		}
	}

	res, err := a.t.Start(a.ctx, address, block)
	switch {
	case errors.Is(err, tracker.ErrInvalidAddress):
		status = http.StatusBadRequest

		return
	case errors.Is(err, tracker.ErrAlreadyTracing):
		status = http.StatusConflict

		return
	case err != nil:
		status = http.StatusInternalServerError

		return
	}
	st = a.t.Status()

	go func() {
		if err := <-res; err != nil {
			log.Warn("trace ended with error", "run", st.Run, "source", st.Source, "err", err)
		}
	}()
}

// cancelHandler cancels the running trace and replies once it stopped.
func (a *Server) cancelHandler(rw http.ResponseWriter, r *http.Request) {
	select {
	case <-a.t.CancelTrace():
	case <-r.Context().Done():
		reply(rw, r, http.StatusServiceUnavailable, nil, r.Context().Err())
		return
	}
	reply(rw, r, http.StatusOK, a.t.Status(), nil)
}
