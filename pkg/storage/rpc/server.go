// Package rpc implements the RPC-over-HTTP Repository backend: three
// services (tag, object database, payload) exposed by a gorilla/mux
// router, with a separate plain-HTTP endpoint for payload bytes since
// streaming large files over a message-oriented RPC call is wasteful. The
// client transport retries transient network failures with
// hashicorp/go-retryablehttp.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/spfs-project/spfs/internal/dcontext"
	"github.com/spfs-project/spfs/pkg/encoding"
	"github.com/spfs-project/spfs/pkg/graph"
	"github.com/spfs-project/spfs/pkg/repo"
	"github.com/spfs-project/spfs/pkg/spfserrors"
	"github.com/spfs-project/spfs/pkg/storage/fs"
)

// specFromVars builds a fs.TagSpec from the route's {org}/{name} and an
// optional "?version=N" query parameter (default 0, the newest push).
func specFromVars(vars map[string]string, r *http.Request) fs.TagSpec {
	version := 0
	if v := r.URL.Query().Get("version"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			version = n
		}
	}
	return fs.TagSpec{Org: vars["org"], Name: vars["name"], Version: version}
}

// Server adapts a repo.Repository to an http.Handler implementing the
// tag, object database and payload services.
type Server struct {
	repo   repo.Repository
	router *mux.Router
}

// NewServer builds a Server backed by backing. The http.Handler its Handler
// method returns wraps every route in an access-log middleware.
func NewServer(backing repo.Repository) *Server {
	s := &Server{repo: backing, router: mux.NewRouter()}
	s.router.HandleFunc("/objects/{digest}", s.getObject).Methods(http.MethodGet)
	s.router.HandleFunc("/objects/{digest}", s.headObject).Methods(http.MethodHead)
	s.router.HandleFunc("/objects/{digest}", s.putObject).Methods(http.MethodPut)
	s.router.HandleFunc("/payloads/{digest}", s.downloadPayload).Methods(http.MethodGet)
	s.router.HandleFunc("/payloads/{digest}", s.headPayload).Methods(http.MethodHead)
	s.router.HandleFunc("/payloads", s.uploadPayload).Methods(http.MethodPost)
	s.router.HandleFunc("/tags", s.listTags).Methods(http.MethodGet)
	s.router.HandleFunc("/tags/{org}/{name}", s.resolveTag).Methods(http.MethodGet)
	s.router.HandleFunc("/tags/{org}/{name}", s.pushTag).Methods(http.MethodPost)
	return s
}

// Handler returns the fully wrapped http.Handler to mount on an
// http.Server.
func (s *Server) Handler() http.Handler {
	return handlers.CombinedLoggingHandler(logWriter{}, s.router)
}

// logWriter routes gorilla/handlers' access log lines into the ambient
// logger instead of stderr directly, so RPC access logs share the same
// sink as everything else spfs logs.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	dcontext.GetLogger(context.Background()).Info(string(bytes.TrimRight(p, "\n")))
	return len(p), nil
}

func track(service, method string) func(*int) {
	start := time.Now()
	return func(status *int) {
		requestsTotal.WithValues(service, method).Inc(1)
		if *status >= 400 {
			requestErrors.WithValues(service, method).Inc(1)
		}
		requestLatency.WithValues(service, method).UpdateSince(start)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Kind: errorKind(err), Message: err.Error()})
}

func errorKind(err error) string {
	switch err.(type) {
	case *spfserrors.UnknownObject:
		return "UnknownObject"
	case *spfserrors.UnknownReference:
		return "UnknownReference"
	case *spfserrors.AmbiguousReference:
		return "AmbiguousReference"
	case *spfserrors.InvalidReference:
		return "InvalidReference"
	default:
		return "Internal"
	}
}

func statusFor(err error) int {
	switch err.(type) {
	case *spfserrors.UnknownObject, *spfserrors.UnknownReference:
		return http.StatusNotFound
	case *spfserrors.InvalidReference:
		return http.StatusBadRequest
	case *spfserrors.AmbiguousReference:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// --- object database service ---

func (s *Server) getObject(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	defer track("objects", "get")(&status)

	digest, err := encoding.Parse(mux.Vars(r)["digest"])
	if err != nil {
		status = http.StatusBadRequest
		writeError(w, status, err)
		return
	}
	obj, err := s.repo.ObjectStore().GetObject(r.Context(), digest)
	if err != nil {
		status = statusFor(err)
		writeError(w, status, err)
		return
	}
	w.Header().Set("Content-Type", mimeIdentity)
	if err := encodeObject(w, obj); err != nil {
		status = http.StatusInternalServerError
	}
}

func (s *Server) headObject(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	defer track("objects", "has")(&status)

	digest, err := encoding.Parse(mux.Vars(r)["digest"])
	if err != nil {
		status = http.StatusBadRequest
		w.WriteHeader(status)
		return
	}
	has, err := s.repo.ObjectStore().HasObject(r.Context(), digest)
	if err != nil || !has {
		status = http.StatusNotFound
	}
	w.WriteHeader(status)
}

func (s *Server) putObject(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	defer track("objects", "put")(&status)

	obj, err := graph.DecodeObject(r.Body)
	if err != nil {
		status = http.StatusBadRequest
		writeError(w, status, err)
		return
	}
	digest, err := s.repo.ObjectStore().WriteObject(r.Context(), obj)
	if err != nil {
		status = http.StatusInternalServerError
		writeError(w, status, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(uploadResult{Digest: digest.String()})
}

// encodeObject re-serializes obj with its canonical header, the same bytes
// an ObjectDatabase would persist to disk, so the wire format and the
// on-disk format are identical.
func encodeObject(w io.Writer, obj graph.Object) error {
	if err := encoding.WriteHeader(w, encoding.Header{
		Version:  encoding.SchemaFlat,
		Kind:     obj.Kind(),
		Strategy: encoding.DigestStrategySHA256,
	}); err != nil {
		return err
	}
	return obj.Encode(w, encoding.SchemaFlat)
}

// --- payload service ---

func (s *Server) headPayload(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	defer track("payloads", "has")(&status)

	digest, err := encoding.Parse(mux.Vars(r)["digest"])
	if err != nil {
		status = http.StatusBadRequest
		w.WriteHeader(status)
		return
	}
	has, err := s.repo.PayloadStore().HasPayload(r.Context(), digest)
	if err != nil || !has {
		status = http.StatusNotFound
	}
	w.WriteHeader(status)
}

// downloadPayload streams a payload's bytes, compressed per the request's
// Accept header.
func (s *Server) downloadPayload(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	defer track("payloads", "download")(&status)

	digest, err := encoding.Parse(mux.Vars(r)["digest"])
	if err != nil {
		status = http.StatusBadRequest
		writeError(w, status, err)
		return
	}
	f, err := s.repo.PayloadStore().OpenPayload(r.Context(), digest)
	if err != nil {
		status = statusFor(err)
		writeError(w, status, err)
		return
	}
	defer f.Close()

	contentType := negotiateResponseType(r.Header.Get("Accept"))
	w.Header().Set("Content-Type", contentType)
	cw, err := compressWriter(w, contentType)
	if err != nil {
		status = http.StatusInternalServerError
		return
	}
	defer cw.Close()
	if _, err := io.Copy(cw, f); err != nil {
		status = http.StatusInternalServerError
	}
}

// uploadPayload accepts a payload's bytes via POST /payloads, decompressing
// per the request's Content-Type, writes it content-addressed and returns
// its UploadResult.
func (s *Server) uploadPayload(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	defer track("payloads", "upload")(&status)

	dr, err := decompressReader(r.Body, r.Header.Get("Content-Type"))
	if err != nil {
		status = http.StatusBadRequest
		writeError(w, status, err)
		return
	}
	defer dr.Close()

	data, err := io.ReadAll(dr)
	if err != nil {
		status = http.StatusBadRequest
		writeError(w, status, err)
		return
	}
	digest, size, err := encoding.Hash(bytes.NewReader(data))
	if err != nil {
		status = http.StatusInternalServerError
		writeError(w, status, err)
		return
	}
	if err := s.repo.PayloadStore().WritePayload(r.Context(), digest, bytes.NewReader(data)); err != nil {
		status = http.StatusInternalServerError
		writeError(w, status, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(uploadResult{Digest: digest.String(), Size: size})
}

// --- tag service ---

func (s *Server) listTags(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	defer track("tags", "list")(&status)

	names, err := s.repo.TagStore().ListNames()
	if err != nil {
		status = http.StatusInternalServerError
		writeError(w, status, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(names)
}

func (s *Server) resolveTag(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	defer track("tags", "resolve")(&status)

	vars := mux.Vars(r)
	entry, err := s.repo.TagStore().Resolve(specFromVars(vars, r))
	if err != nil {
		status = statusFor(err)
		writeError(w, status, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(tagWire{
		Target: entry.Target.String(), Parent: entry.Parent.String(),
		Timestamp: entry.Timestamp, User: entry.User, Message: entry.Message,
	})
}

func (s *Server) pushTag(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	defer track("tags", "push")(&status)

	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status = http.StatusBadRequest
		writeError(w, status, err)
		return
	}
	target, err := encoding.Parse(req.Target)
	if err != nil {
		status = http.StatusBadRequest
		writeError(w, status, err)
		return
	}
	vars := mux.Vars(r)
	entry, err := s.repo.TagStore().PushWithMessage(vars["org"], vars["name"], target, req.User, req.Message)
	if err != nil {
		status = http.StatusInternalServerError
		writeError(w, status, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(tagWire{
		Target: entry.Target.String(), Parent: entry.Parent.String(),
		Timestamp: entry.Timestamp, User: entry.User, Message: entry.Message,
	})
}
