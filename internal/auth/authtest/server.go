package authtest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// User is a registered account on the fake server.
type User struct {
	ID               int64     `json:"id"`
	FullName         string    `json:"full_name"`
	Email            string    `json:"email"`
	OrganizationName string    `json:"organization_name"`
	Position         string    `json:"position"`
	Department       string    `json:"department"`
	CreatedAt        time.Time `json:"created_at"`
	password         string
}

// Server is a fake upstream auth server backed by httptest.
// Access tokens are accepted only while they are in the live set, so tests
// can force a 401 with ExpireAccessTokens regardless of the token's exp.
type Server struct {
	*httptest.Server

	Minter *Minter

	mu            sync.Mutex
	users         map[int64]*User
	byEmail       map[string]int64
	nextID        int64
	liveAccess    map[string]int64
	liveRefresh   map[string]int64
	refreshStatus int
	refreshBody   string
	refreshGate   chan struct{}
	uploads       map[string][]byte

	refreshCalls atomic.Int64
	userCalls    atomic.Int64
}

// Option configures a Server.
type Option func(*Server)

// WithMinter replaces the default Minter.
func WithMinter(m *Minter) Option {
	return func(s *Server) { s.Minter = m }
}

// NewServer starts a fake server and registers its shutdown with t.Cleanup.
func NewServer(t testing.TB, opts ...Option) *Server {
	t.Helper()
	s := &Server{
		Minter:      NewMinter(MinterConfig{}),
		users:       make(map[int64]*User),
		byEmail:     make(map[string]int64),
		nextID:      41,
		liveAccess:  make(map[string]int64),
		liveRefresh: make(map[string]int64),
		uploads:     make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /users/register", s.handleRegister)
	mux.HandleFunc("POST /users/login", s.handleLogin)
	mux.HandleFunc("GET /users/refresh", s.handleRefresh)
	mux.HandleFunc("GET /users/{id}", s.handleGetUser)
	mux.HandleFunc("DELETE /users/{id}", s.handleDeleteUser)
	mux.HandleFunc("POST /storage/upload", s.handleUpload)
	mux.HandleFunc("GET /file-save/{name}", s.handleDownload)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Close releases any held refresh calls and stops the server.
func (s *Server) Close() {
	s.mu.Lock()
	if s.refreshGate != nil {
		close(s.refreshGate)
		s.refreshGate = nil
	}
	s.mu.Unlock()
	s.Server.Close()
}

// AddUser registers an account directly and returns its id.
func (s *Server) AddUser(email, password string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUserLocked(&User{Email: email, FullName: "Test User", password: password})
}

func (s *Server) addUserLocked(u *User) int64 {
	s.nextID++
	u.ID = s.nextID
	u.CreatedAt = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	s.users[u.ID] = u
	s.byEmail[u.Email] = u.ID
	return u.ID
}

// IssuePair mints and registers a live token pair for userID.
func (s *Server) IssuePair(userID int64) (access, refresh string) {
	access, refresh, err := s.Minter.MintPair(userID, "user")
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	s.liveAccess[access] = userID
	s.liveRefresh[refresh] = userID
	s.mu.Unlock()
	return access, refresh
}

// ExpireAccessTokens makes every access token issued so far answer 401.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveAccess = make(map[string]int64)
}

// RevokeRefreshTokens makes every refresh token issued so far unusable.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveRefresh = make(map[string]int64)
}

// FailRefresh makes /users/refresh answer status with body. Zero restores normal behavior.
func (s *Server) FailRefresh(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshStatus = status
	s.refreshBody = body
}

// HoldRefresh blocks refresh handlers until the returned release func is called.
func (s *Server) HoldRefresh() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.refreshGate = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.refreshGate == gate {
				close(gate)
				s.refreshGate = nil
			}
			s.mu.Unlock()
		})
	}
}

// RefreshCalls returns how many requests reached /users/refresh.
func (s *Server) RefreshCalls() int64 {
	return s.refreshCalls.Load()
}

// UserCalls returns how many requests reached GET /users/{id}.
func (s *Server) UserCalls() int64 {
	return s.userCalls.Load()
}

// Upload returns the bytes stored under name by a previous upload.
func (s *Server) Upload(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.uploads[name]
	return b, ok
}

type tokenResponse struct {
	UserID  int64  `json:"user_id,omitempty"`
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FullName         string `json:"full_name"`
		Email            string `json:"email"`
		OrganizationName string `json:"organization_name"`
		Position         string `json:"position"`
		Department       string `json:"department"`
		Password         string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "invalid registration"})
		return
	}

	s.mu.Lock()
	if _, exists := s.byEmail[req.Email]; exists {
		s.mu.Unlock()
		writeJSON(w, http.StatusConflict, map[string]string{"detail": "email already registered"})
		return
	}
	id := s.addUserLocked(&User{
		FullName:         req.FullName,
		Email:            req.Email,
		OrganizationName: req.OrganizationName,
		Position:         req.Position,
		Department:       req.Department,
		password:         req.Password,
	})
	s.mu.Unlock()

	access, refresh := s.IssuePair(id)
	writeJSON(w, http.StatusOK, tokenResponse{UserID: id, Access: access, Refresh: refresh})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "invalid body"})
		return
	}

	s.mu.Lock()
	id, ok := s.byEmail[req.Email]
	valid := ok && s.users[id].password == req.Password
	s.mu.Unlock()
	if !valid {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "invalid credentials"})
		return
	}

	access, refresh := s.IssuePair(id)
	writeJSON(w, http.StatusOK, tokenResponse{UserID: id, Access: access, Refresh: refresh})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)

	s.mu.Lock()
	gate := s.refreshGate
	status, body := s.refreshStatus, s.refreshBody
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	if status != 0 {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
		return
	}

	token := bearer(r)
	if _, err := s.Minter.Parse(token, TypeRefresh); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "invalid refresh token"})
		return
	}

	// Rotation: the presented refresh token is single-use.
	s.mu.Lock()
	id, live := s.liveRefresh[token]
	delete(s.liveRefresh, token)
	s.mu.Unlock()
	if !live {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "refresh token reused"})
		return
	}

	access, refresh := s.IssuePair(id)
	writeJSON(w, http.StatusOK, tokenResponse{Access: access, Refresh: refresh})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	s.userCalls.Add(1)
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "token expired"})
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "invalid id"})
		return
	}

	s.mu.Lock()
	u, ok := s.users[id]
	var out User
	if ok {
		out = *u
	}
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "user not found"})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "token expired"})
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "invalid id"})
		return
	}

	s.mu.Lock()
	u, ok := s.users[id]
	if ok {
		delete(s.users, id)
		delete(s.byEmail, u.Email)
	}
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "user not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "token expired"})
		return
	}
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}

	type stored struct {
		Name string `json:"name"`
		Size int    `json:"size"`
	}
	var files []stored
	for _, fh := range r.MultipartForm.File["files"] {
		f, err := fh.Open()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
			return
		}
		b, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
			return
		}
		s.mu.Lock()
		s.uploads[fh.Filename] = b
		s.mu.Unlock()
		files = append(files, stored{Name: fh.Filename, Size: len(b)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files, "tags": r.URL.Query()["tags"]})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "token expired"})
		return
	}
	b, ok := s.Upload(r.PathValue("name"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "file not found"})
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(b)
}

func (s *Server) authorized(r *http.Request) bool {
	token := bearer(r)
	if _, err := s.Minter.Parse(token, TypeAccess); err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, live := s.liveAccess[token]
	return live
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return ""
	}
	return token
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
