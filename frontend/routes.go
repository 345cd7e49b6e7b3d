package frontend

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/facebookgo/httpdown"
	"github.com/julienschmidt/httprouter"

	"github.com/ndlib/sworddeposit/deposit"
	"github.com/ndlib/sworddeposit/finalize"
)

// Error IRIs surfaced to SWORDv2 clients, per spec.md §6.
const (
	errorBadRequest       = "http://purl.org/net/sword/error/ErrorBadRequest"
	errorChecksumMismatch = "http://purl.org/net/sword/error/ErrorChecksumMismatch"
	errorMethodNotAllowed = "http://purl.org/net/sword/error/MethodNotAllowed"
)

type swordError struct {
	ErrorURI string `json:"error"`
	Summary  string `json:"summary"`
}

// Service owns the HTTP listener for the ingress front and the background
// finalization worker it feeds. Its Run/Stop lifecycle is the same shape as
// the teacher's RESTServer.Run/Stop in server/routes.go: Run blocks serving
// requests, and Stop drains the worker before closing the listener, so an
// in-flight finalization run is given a chance to reach a terminal state
// before the process exits (spec.md §5's shutdown requirement).
type Service struct {
	Addr    string
	Ingress *Ingress
	Worker  *finalize.Worker

	httpServer httpdown.Server
}

// Run starts the finalization worker and blocks serving HTTP requests on
// Addr until Stop is called or the listener fails.
func (s *Service) Run() error {
	log.Println("==========")
	log.Println("Starting deposit finalization service")
	log.Printf("Listening on %s", s.Addr)

	s.Worker.Start()

	h := httpdown.HTTP{}
	var err error
	s.httpServer, err = h.ListenAndServe(&http.Server{
		Addr:    s.Addr,
		Handler: s.routes(),
	})
	if err != nil {
		log.Println(err)
		return err
	}
	return s.httpServer.Wait()
}

// Stop drains the finalization worker and then closes the HTTP listener.
func (s *Service) Stop() error {
	s.Worker.Stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Stop()
}

func (s *Service) routes() http.Handler {
	router := httprouter.New()
	router.POST("/collection/:id", s.depositHandler)
	return router
}

// depositHandler is the minimal stand-in for the SWORDv2 Atom Multipart
// Related binding named in spec.md §1: it reads the part metadata from
// headers instead of parsing a real multipart body, builds a Part, and
// delegates to Ingress.Receive. Everything past that point — hashing,
// state recording, queueing — is the real C8 path.
func (s *Service) depositHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	inProgress, _ := strconv.ParseBool(r.Header.Get("In-Progress"))
	part := Part{
		DepositID:  ps.ByName("id"),
		Filename:   r.Header.Get("Content-Disposition-Filename"),
		MD5:        r.Header.Get("Content-MD5"),
		MimeType:   deposit.MimeType(r.Header.Get("Packaging")),
		InProgress: inProgress,
		Body:       r.Body,
	}

	receipt, err := s.Ingress.Receive(r.Context(), part)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(receipt)
}

func writeError(w http.ResponseWriter, err error) {
	ferr, ok := err.(*Error)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintln(w, err)
		return
	}
	switch ferr.Kind {
	case KindMethodNotAllowed:
		w.WriteHeader(http.StatusMethodNotAllowed)
		json.NewEncoder(w).Encode(swordError{ErrorURI: errorMethodNotAllowed, Summary: ferr.Msg})
	case KindChecksumMismatch:
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(swordError{ErrorURI: errorChecksumMismatch, Summary: ferr.Msg})
	default:
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(swordError{ErrorURI: errorBadRequest, Summary: ferr.Msg})
	}
}
