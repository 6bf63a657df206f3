// Package cd4petest provides an in-process fake of the CD4PE AJAX API for tests.
package cd4petest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/cd4pe-agent/internal/config"
)

// BundleOp mirrors cd4pe.BundleOp without importing the package under test.
const BundleOp = "GetJobScriptAndControlRepo"

// Request is one request as seen by the fake server.
type Request struct {
	Method string
	Path   string
	Op     string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Envelope decodes a POST body as {"op": ..., "content": {...}}.
func (r Request) Envelope() (op string, content map[string]any, err error) {
	var env struct {
		Op      string         `json:"op"`
		Content map[string]any `json:"content"`
	}
	if err := json.Unmarshal(r.Body, &env); err != nil {
		return "", nil, err
	}
	return env.Op, env.Content, nil
}

// Reply is a scripted response.
type Reply struct {
	Status int
	Body   string
}

// Server is a fake CD4PE service. Scripted replies are served first, in
// order; after that, bundle downloads return the configured bundle and
// every other operation returns {"op": <name>, "ok": true}.
type Server struct {
	*httptest.Server

	Owner string
	Token string

	mu       sync.Mutex
	requests []Request
	replies  []Reply
	bundle   []byte
}

// New starts a fake server and registers its shutdown with t.
func New(t testing.TB, owner, token string) *Server {
	t.Helper()

	s := &Server{Owner: owner, Token: token}

	r := chi.NewRouter()
	r.Get("/{owner}/ajax", s.handle)
	r.Post("/{owner}/ajax", s.handle)
	r.Put("/{owner}/ajax", s.handle)
	r.Delete("/{owner}/ajax", s.handle)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// Reply queues scripted responses.
func (s *Server) Reply(replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, replies...)
}

// SetBundle sets the archive returned for bundle downloads.
func (s *Server) SetBundle(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundle = b
}

// Requests returns every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Values returns configuration values pointing at this server.
func (s *Server) Values(deploymentID string) config.Values {
	return config.Values{
		Endpoint:     s.URL,
		Token:        s.Token,
		Owner:        s.Owner,
		DeploymentID: deploymentID,
	}
}

// JobParams returns job parameters pointing at this server.
func (s *Server) JobParams(jobInstanceID, workingDir string) config.JobParams {
	return config.JobParams{
		Endpoint:      s.URL,
		Token:         s.Token,
		Owner:         s.Owner,
		JobInstanceID: jobInstanceID,
		WorkingDir:    workingDir,
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	req := Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
		Body:   body,
	}
	req.Op = req.Query.Get("op")
	if req.Op == "" && len(body) > 0 {
		req.Op, _, _ = req.Envelope()
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	var scripted *Reply
	if len(s.replies) > 0 {
		scripted = &s.replies[0]
		s.replies = s.replies[1:]
	}
	bundle := s.bundle
	s.mu.Unlock()

	if chi.URLParam(r, "owner") != s.Owner {
		http.Error(w, "unknown owner", http.StatusNotFound)
		return
	}
	if r.Header.Get("Authorization") != "Bearer token "+s.Token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if scripted != nil {
		w.WriteHeader(scripted.Status)
		_, _ = io.WriteString(w, scripted.Body)
		return
	}

	if req.Op == BundleOp {
		if bundle == nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/gzip")
		_, _ = w.Write(bundle)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"op": req.Op, "ok": true})
}
