package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/marubini/userdir/internal/auth"
	"github.com/marubini/userdir/internal/cache"
	"github.com/marubini/userdir/internal/domain/user"
	"github.com/marubini/userdir/internal/http/handlers"
	"github.com/marubini/userdir/internal/http/middlewares"
	"github.com/marubini/userdir/internal/repo/memory"
	"github.com/marubini/userdir/internal/security"
)

// Make sure Gin does not spam the console during the test

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "test-secret-key"

// newTestRouter wires the production route table over the in-memory repo.

func newTestRouter(t *testing.T) (*gin.Engine, *memory.UsersRepo) {
	t.Helper()

	repo := memory.NewUsersRepo()
	hasher := security.NewHasher(4) // min bcrypt cost keeps tests fast
	jwtManager := auth.NewManager(testSecret, time.Hour)
	listCache := cache.New[[]user.User](5 * time.Second)

	authHandler := handlers.NewAuthHandler(repo, repo, hasher, jwtManager, nil, nil, listCache)
	usersHandler := handlers.NewUsersHandler(repo, hasher, listCache)
	authMW := middlewares.NewAuthMiddleware(jwtManager)

	r := gin.New()

	r.POST("/register", authHandler.Register)
	r.POST("/login", authHandler.Login)
	r.GET("/me", authMW.RequireAuth(), authHandler.Me)
	r.GET("/users", usersHandler.ListUsers)
	r.PUT("/users/update/:id", usersHandler.UpdateUser)
	r.DELETE("/user/delete/:id", usersHandler.DeleteUser)
	r.DELETE("/users/delete", usersHandler.DeleteUsers)

	return r, repo
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Buffer

	if body == "" {
		reader = bytes.NewBuffer(nil)
	} else {
		reader = bytes.NewBufferString(body)
	}

	req := httptest.NewRequest(method, path, reader)

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	return w
}

type userResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Status string `json:"status"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeUser(t *testing.T, w *httptest.ResponseRecorder) userResponse {
	t.Helper()

	var u userResponse
	if err := json.Unmarshal(w.Body.Bytes(), &u); err != nil {
		t.Fatalf("failed to decode user response: %v body=%s", err, w.Body.String())
	}
	return u
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorResponse {
	t.Helper()

	var e errorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("failed to decode error response: %v body=%s", err, w.Body.String())
	}
	return e
}

func registerUser(t *testing.T, r *gin.Engine, name, email, password string) userResponse {
	t.Helper()

	w := doJSON(t, r, http.MethodPost, "/register",
		`{"name":"`+name+`","email":"`+email+`","password":"`+password+`"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("register %s: got status %d body=%s", email, w.Code, w.Body.String())
	}

	return decodeUser(t, w)
}

// Register tests

func TestRegisterCreatesActiveUser(t *testing.T) {
	r, repo := newTestRouter(t)

	u := registerUser(t, r, "A", "a@x.com", "password1")

	if u.ID == "" {
		t.Fatalf("expected a generated id")
	}

	if u.Status != user.StatusActive {
		t.Fatalf("new user status %q, want %q", u.Status, user.StatusActive)
	}

	stored, err := repo.GetByID(context.Background(), u.ID)

	if err != nil {
		t.Fatalf("record not persisted: %v", err)
	}

	if stored.PasswordHash == "password1" || stored.PasswordHash == "" {
		t.Fatalf("stored secret must be a hash, got %q", stored.PasswordHash)
	}

	if err := security.CheckPassword(stored.PasswordHash, "password1"); err != nil {
		t.Fatalf("stored hash does not verify the original password: %v", err)
	}
}

func TestRegisterNeverExposesHash(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/register",
		`{"name":"A","email":"a@x.com","password":"password1"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d body=%s", w.Code, w.Body.String())
	}

	body := strings.ToLower(w.Body.String())

	if strings.Contains(body, "password") || strings.Contains(body, "hash") {
		t.Fatalf("response leaks credential material: %s", w.Body.String())
	}
}

func TestRegisterDuplicateEmailConflicts(t *testing.T) {
	r, repo := newTestRouter(t)

	registerUser(t, r, "A", "a@x.com", "password1")

	w := doJSON(t, r, http.MethodPost, "/register",
		`{"name":"B","email":"a@x.com","password":"password2"}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("duplicate register: got status %d, want 400", w.Code)
	}

	if resp := decodeError(t, w); resp.Error.Code != "email_taken" {
		t.Fatalf("unexpected code: %s", resp.Error.Code)
	}

	all, err := repo.List(context.Background())

	if err != nil {
		t.Fatalf("list failed: %v", err)
	}

	if len(all) != 1 {
		t.Fatalf("store should hold exactly one record for the email, has %d", len(all))
	}
}

func TestRegisterMissingFields(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/register", `{"name":"A"}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400", w.Code)
	}

	if resp := decodeError(t, w); resp.Error.Code != "invalid_request" {
		t.Fatalf("unexpected code: %s", resp.Error.Code)
	}
}

func TestRegisterAcceptsAnyPresentValues(t *testing.T) {
	r, _ := newTestRouter(t)

	// fields only have to be present, a short password or an odd-looking
	// address is the caller's business
	u := registerUser(t, r, "A", "not-an-address", "pw1")

	if u.Email != "not-an-address" {
		t.Fatalf("stored email %q, want it taken verbatim", u.Email)
	}
}

// Login tests

func TestLoginHappyPathTokenBindsUserID(t *testing.T) {
	r, _ := newTestRouter(t)

	u := registerUser(t, r, "A", "a@x.com", "password1")

	w := doJSON(t, r, http.MethodPost, "/login", `{"email":"a@x.com","password":"password1"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("login: got status %d body=%s", w.Code, w.Body.String())
	}

	var resp struct {
		Token string `json:"token"`
	}

	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode login response: %v", err)
	}

	if resp.Token == "" {
		t.Fatalf("expected a token")
	}

	claims, err := auth.NewManager(testSecret, time.Hour).VerifyAccessToken(resp.Token)

	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}

	if claims.UserID != u.ID {
		t.Fatalf("token decodes to user %q, want %q", claims.UserID, u.ID)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	r, _ := newTestRouter(t)

	registerUser(t, r, "A", "a@x.com", "password1")

	w := doJSON(t, r, http.MethodPost, "/login", `{"email":"a@x.com","password":"wrong-password"}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400", w.Code)
	}

	if resp := decodeError(t, w); resp.Error.Code != "invalid_credentials" {
		t.Fatalf("unexpected code: %s", resp.Error.Code)
	}
}

func TestLoginUnknownEmail(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/login", `{"email":"nobody@x.com","password":"whatever"}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400", w.Code)
	}

	if resp := decodeError(t, w); resp.Error.Code != "not_found" {
		t.Fatalf("unexpected code: %s", resp.Error.Code)
	}
}

func TestLoginMalformedEmailTreatedAsUnknown(t *testing.T) {
	r, _ := newTestRouter(t)

	registerUser(t, r, "A", "a@x.com", "password1")

	// not shaped like an address, but still a lookup miss rather than a
	// rejected request
	w := doJSON(t, r, http.MethodPost, "/login", `{"email":"not-an-address","password":"password1"}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400", w.Code)
	}

	if resp := decodeError(t, w); resp.Error.Code != "not_found" {
		t.Fatalf("unexpected code: %s", resp.Error.Code)
	}
}

func TestLoginMissingFields(t *testing.T) {
	r, _ := newTestRouter(t)

	for _, body := range []string{
		`{"email":"a@x.com"}`,
		`{"password":"password1"}`,
		`{}`,
	} {
		w := doJSON(t, r, http.MethodPost, "/login", body)

		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %s: got status %d, want 400", body, w.Code)
		}

		if resp := decodeError(t, w); resp.Error.Code != "invalid_request" {
			t.Fatalf("body %s: unexpected code %s", body, resp.Error.Code)
		}
	}
}

// Me tests

func TestMeReturnsCallerRecord(t *testing.T) {
	r, _ := newTestRouter(t)

	u := registerUser(t, r, "A", "a@x.com", "password1")

	token, err := auth.NewManager(testSecret, time.Hour).GenerateAccessToken(u.ID, u.Email)
	if err != nil {
		t.Fatalf("token issue failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d body=%s", w.Code, w.Body.String())
	}

	if got := decodeUser(t, w); got.ID != u.ID || got.Email != "a@x.com" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestMeWithoutTokenUnauthorized(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401", w.Code)
	}
}

// End to end flow from the public surface

func TestRegisterLoginDeleteFlow(t *testing.T) {
	r, _ := newTestRouter(t)

	u := registerUser(t, r, "A", "a@x.com", "pw1")

	w := doJSON(t, r, http.MethodPost, "/login", `{"email":"a@x.com","password":"pw1"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("login: got status %d body=%s", w.Code, w.Body.String())
	}

	var login struct {
		Token string `json:"token"`
	}

	if err := json.Unmarshal(w.Body.Bytes(), &login); err != nil || login.Token == "" {
		t.Fatalf("expected a token, err=%v body=%s", err, w.Body.String())
	}

	if claims, err := auth.NewManager(testSecret, time.Hour).VerifyAccessToken(login.Token); err != nil || claims.UserID != u.ID {
		t.Fatalf("token should decode to %q: claims=%+v err=%v", u.ID, claims, err)
	}

	bad := doJSON(t, r, http.MethodPost, "/login", `{"email":"a@x.com","password":"wrong-one"}`)

	if bad.Code != http.StatusBadRequest {
		t.Fatalf("bad login: got status %d, want 400", bad.Code)
	}

	if resp := decodeError(t, bad); resp.Error.Code != "invalid_credentials" {
		t.Fatalf("bad login: unexpected code %s", resp.Error.Code)
	}

	if w := doJSON(t, r, http.MethodDelete, "/user/delete/"+u.ID, ""); w.Code != http.StatusOK {
		t.Fatalf("delete: got status %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/users", "")

	if w.Code != http.StatusOK {
		t.Fatalf("list: got status %d", w.Code)
	}

	var remaining []userResponse
	if err := json.Unmarshal(w.Body.Bytes(), &remaining); err != nil {
		t.Fatalf("failed to decode list: %v", err)
	}

	for _, rec := range remaining {
		if rec.ID == u.ID {
			t.Fatalf("deleted user still listed")
		}
	}
}
