package remote_mock

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"

	"github.com/asimihsan/field_auth/internal/authorizer/remote"
)

// Server is an in-process decision point for testing.
type Server struct {
	server *httptest.Server

	mu        sync.RWMutex
	decisions map[string]remote.Response // key = Type.field
	status    int
	requests  atomic.Int64
}

// NewServer creates and starts a new mock decision point. Fields without an
// answer are denied without a reason.
func NewServer() *Server {
	s := &Server{
		decisions: make(map[string]remote.Response),
		status:    http.StatusOK,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(remote.DecisionPath, func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req remote.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}

		s.mu.RLock()
		status := s.status
		answer := s.decisions[req.Type+"."+req.Field]
		s.mu.RUnlock()

		if status != http.StatusOK {
			http.Error(w, http.StatusText(status), status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(answer); err != nil {
			http.Error(w, "JSON encoding error", http.StatusInternalServerError)
		}
	})

	s.server = httptest.NewServer(mux)
	return s
}

// URL returns the URL of the mock server.
func (s *Server) URL() string {
	return s.server.URL
}

// Close shuts down the mock server.
func (s *Server) Close() {
	s.server.Close()
}

// Allow answers allow for typeName.field.
func (s *Server) Allow(typeName, field string) *Server {
	return s.set(typeName, field, remote.Response{Allow: true})
}

// Deny answers deny with reason for typeName.field.
func (s *Server) Deny(typeName, field, reason string) *Server {
	return s.set(typeName, field, remote.Response{Reason: reason})
}

// FailWith makes every request fail with the given HTTP status.
func (s *Server) FailWith(status int) *Server {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
	return s
}

// Requests returns the number of requests received.
func (s *Server) Requests() int {
	return int(s.requests.Load())
}

func (s *Server) set(typeName, field string, r remote.Response) *Server {
	s.mu.Lock()
	s.decisions[typeName+"."+field] = r
	s.mu.Unlock()
	return s
}
