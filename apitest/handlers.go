package apitest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is the wire form of an account.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	AvatarURL *string   `json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	password string
}

// Task is the wire form of a task.
type Task struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Title       string     `json:"title"`
	Description *string    `json:"description"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	DueDate     *time.Time `json:"due_date"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	User         User   `json:"user"`
}

type listResponse struct {
	Items []Task `json:"items"`
	Total int    `json:"total"`
	Skip  int    `json:"skip"`
	Limit int    `json:"limit"`
	Pages *int   `json:"pages,omitempty"`
}

type fieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

var (
	validStatus   = map[string]bool{"pending": true, "completed": true, "archived": true}
	validPriority = map[string]bool{"low": true, "medium": true, "high": true}
)

type userKey struct{}

// AddUser registers an account directly, bypassing the API.
func (s *Server) AddUser(email, password, fullName string) User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.addUserLocked(email, password, fullName)
}

func (s *Server) addUserLocked(email, password, fullName string) *User {
	now := s.now()
	u := &User{
		ID:        uuid.NewString(),
		Email:     strings.ToLower(email),
		FullName:  fullName,
		CreatedAt: now,
		UpdatedAt: now,
		password:  password,
	}
	s.users[u.Email] = u
	s.byID[u.ID] = u
	return u
}

// AddTask stores a task owned by the user with the given email. Empty status
// and priority default to pending and medium.
func (s *Server) AddTask(email, title, status, priority string) Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner := s.users[strings.ToLower(email)]
	if owner == nil {
		panic("apitest: unknown user " + email)
	}
	if status == "" {
		status = "pending"
	}
	if priority == "" {
		priority = "medium"
	}
	now := s.now()
	t := &Task{
		ID:        uuid.NewString(),
		UserID:    owner.ID,
		Title:     title,
		Status:    status,
		Priority:  priority,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if status == "completed" {
		t.CompletedAt = &now
	}
	s.tasks = append([]*Task{t}, s.tasks...)
	return *t
}

// Task returns the stored task with id.
func (s *Server) Task(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.findLocked(id); t != nil {
		return *t, true
	}
	return Task{}, false
}

// TaskCount returns the number of stored tasks across all users.
func (s *Server) TaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// SetOmitPages drops "pages" from list responses so clients must derive it
// from total and limit.
func (s *Server) SetOmitPages(omit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitPages = omit
}

func (s *Server) findLocked(id string) *Task {
	for _, t := range s.tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// --- auth ---

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		FullName string `json:"full_name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	var problems []fieldError
	if !strings.Contains(req.Email, "@") {
		problems = append(problems, fieldError{Loc: []string{"body", "email"}, Msg: "value is not a valid email address", Type: "value_error"})
	}
	if len(req.Password) < 8 {
		problems = append(problems, fieldError{Loc: []string{"body", "password"}, Msg: "String should have at least 8 characters", Type: "string_too_short"})
	}
	if len(problems) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{"detail": problems})
		return
	}

	s.mu.Lock()
	if _, exists := s.users[strings.ToLower(req.Email)]; exists {
		s.mu.Unlock()
		writeError(w, http.StatusBadRequest, "Email already registered", "")
		return
	}
	u := *s.addUserLocked(req.Email, req.Password, req.FullName)
	s.mu.Unlock()

	s.startSession(w, http.StatusCreated, u)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	s.mu.Lock()
	u, ok := s.users[strings.ToLower(req.Email)]
	var user User
	if ok {
		user = *u
	}
	s.mu.Unlock()

	if !ok || user.password != req.Password {
		writeError(w, http.StatusUnauthorized, "Invalid email or password", "")
		return
	}
	s.startSession(w, http.StatusOK, user)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(RefreshCookie)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Refresh token required", "")
		return
	}
	userID, err := s.tokens.validate(c.Value, "refresh")
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid refresh token", "")
		return
	}
	user, ok := s.user(userID)
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not found or inactive", "")
		return
	}
	s.startSession(w, http.StatusOK, user)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	for _, name := range []string{AccessCookie, RefreshCookie} {
		http.SetCookie(w, &http.Cookie{Name: name, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Successfully logged out"})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	user, err := s.sessionUser(r)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"authenticated": false, "user": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"authenticated": true, "user": user})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentUser(r))
}

func (s *Server) startSession(w http.ResponseWriter, status int, u User) {
	access, refresh, err := s.tokens.issue(u.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create tokens", "")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: AccessCookie, Value: access, Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode})
	http.SetCookie(w, &http.Cookie{Name: RefreshCookie, Value: refresh, Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode})
	writeJSON(w, status, tokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		User:         u,
	})
}

func (s *Server) user(id string) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return User{}, false
	}
	return *u, true
}

func (s *Server) sessionUser(r *http.Request) (User, error) {
	c, err := r.Cookie(AccessCookie)
	if err != nil {
		return User{}, errInvalidToken
	}
	userID, err := s.tokens.validate(c.Value, "access")
	if err != nil {
		return User{}, err
	}
	u, ok := s.user(userID)
	if !ok {
		return User{}, errInvalidToken
	}
	return u, nil
}

// authenticated rejects requests without a valid access token.
func (s *Server) authenticated(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := s.sessionUser(r)
		if err == errExpiredToken {
			writeError(w, http.StatusUnauthorized, "Token has expired", "")
			return
		}
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Not authenticated", "")
			return
		}
		h(w, r.WithContext(context.WithValue(r.Context(), userKey{}, u)))
	}
}

func currentUser(r *http.Request) User {
	u, _ := r.Context().Value(userKey{}).(User)
	return u
}

// --- tasks ---

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := q.Get("status_filter")
	priority := q.Get("priority_filter")
	skip, err1 := intParam(q.Get("skip"), 0)
	limit, err2 := intParam(q.Get("limit"), 10)
	if err1 != nil || err2 != nil || skip < 0 || limit < 1 || limit > 100 {
		writeError(w, http.StatusBadRequest, "Skip must be >= 0 and limit must be 1-100", "")
		return
	}
	if status != "" && !validStatus[status] {
		writeError(w, http.StatusBadRequest, "Invalid status filter", "")
		return
	}
	if priority != "" && !validPriority[priority] {
		writeError(w, http.StatusBadRequest, "Invalid priority filter", "")
		return
	}

	owner := currentUser(r).ID
	s.mu.Lock()
	var matched []Task
	for _, t := range s.tasks {
		if t.UserID != owner {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		if priority != "" && t.Priority != priority {
			continue
		}
		matched = append(matched, *t)
	}
	omitPages := s.omitPages
	s.mu.Unlock()

	resp := listResponse{Items: []Task{}, Total: len(matched), Skip: skip, Limit: limit}
	if skip < len(matched) {
		end := skip + limit
		if end > len(matched) {
			end = len(matched)
		}
		resp.Items = matched[skip:end]
	}
	if !omitPages {
		pages := (len(matched) + limit - 1) / limit
		resp.Pages = &pages
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title       string     `json:"title"`
		Description *string    `json:"description"`
		Priority    string     `json:"priority"`
		DueDate     *time.Time `json:"due_date"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Priority == "" {
		req.Priority = "medium"
	}
	if problems := validateTask(&req.Title, req.Description, nil, &req.Priority); len(problems) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{"detail": problems})
		return
	}

	s.mu.Lock()
	now := s.now()
	t := &Task{
		ID:          uuid.NewString(),
		UserID:      currentUser(r).ID,
		Title:       req.Title,
		Description: req.Description,
		Status:      "pending",
		Priority:    req.Priority,
		DueDate:     req.DueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.tasks = append([]*Task{t}, s.tasks...)
	out := *t
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	t := s.findLocked(r.PathValue("id"))
	var out Task
	found := t != nil && t.UserID == currentUser(r).ID
	if found {
		out = *t
	}
	s.mu.Unlock()

	if !found {
		writeError(w, http.StatusNotFound, "Task not found", "")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title       *string    `json:"title"`
		Description *string    `json:"description"`
		Status      *string    `json:"status"`
		Priority    *string    `json:"priority"`
		DueDate     *time.Time `json:"due_date"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if problems := validateTask(req.Title, req.Description, req.Status, req.Priority); len(problems) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{"detail": problems})
		return
	}

	s.mu.Lock()
	t := s.findLocked(r.PathValue("id"))
	if t == nil || t.UserID != currentUser(r).ID {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "Task not found", "")
		return
	}
	now := s.now()
	if req.Title != nil {
		t.Title = *req.Title
	}
	if req.Description != nil {
		t.Description = req.Description
	}
	if req.Priority != nil {
		t.Priority = *req.Priority
	}
	if req.DueDate != nil {
		t.DueDate = req.DueDate
	}
	if req.Status != nil && *req.Status != t.Status {
		t.Status = *req.Status
		if t.Status == "completed" {
			t.CompletedAt = &now
		} else {
			t.CompletedAt = nil
		}
	}
	t.UpdatedAt = now
	out := *t
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	owner := currentUser(r).ID

	s.mu.Lock()
	idx := -1
	for i, t := range s.tasks {
		if t.ID == id && t.UserID == owner {
			idx = i
			break
		}
	}
	if idx >= 0 {
		s.tasks = append(s.tasks[:idx], s.tasks[idx+1:]...)
	}
	s.mu.Unlock()

	if idx < 0 {
		writeError(w, http.StatusNotFound, "Task not found", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func validateTask(title, description, status, priority *string) []fieldError {
	var problems []fieldError
	if title != nil && (len(*title) < 1 || len(*title) > 500) {
		problems = append(problems, fieldError{Loc: []string{"body", "title"}, Msg: "String should have 1 to 500 characters", Type: "string_length"})
	}
	if description != nil && len(*description) > 2000 {
		problems = append(problems, fieldError{Loc: []string{"body", "description"}, Msg: "String should have at most 2000 characters", Type: "string_too_long"})
	}
	if status != nil && !validStatus[*status] {
		problems = append(problems, fieldError{Loc: []string{"body", "status"}, Msg: "Input should be 'pending', 'completed' or 'archived'", Type: "enum"})
	}
	if priority != nil && !validPriority[*priority] {
		problems = append(problems, fieldError{Loc: []string{"body", "priority"}, Msg: "Input should be 'low', 'medium' or 'high'", Type: "enum"})
	}
	return problems
}

// --- wire helpers ---

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"detail": []fieldError{{Loc: []string{"body"}, Msg: "JSON decode error", Type: "json_invalid"}},
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail, code string) {
	body := map[string]string{"detail": detail}
	if code != "" {
		body["error_code"] = code
	}
	writeJSON(w, status, body)
}
