package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/marubini/userdir/internal/config"
	"github.com/marubini/userdir/internal/db"
	apphttp "github.com/marubini/userdir/internal/http"
)

func testConfig() config.Config {
	return config.Config{
		Env:                 "test",
		Port:                0,
		JWTSecret:           "test-secret-key",
		JWTAccessTTLMinutes: 60,
		BcryptCost:          4,
	}
}

func setupTestRouter(t *testing.T) (*gin.Engine, *pgxpool.Pool) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := os.Getenv("TEST_DB_DSN")

	if dsn == "" {
		t.Skip("TEST_DB_DSN not set, skipping postgres integration tests")
	}

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)

	if err != nil {
		t.Fatalf("Failed to create pgx pool: %v", err)
	}

	if err := db.EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("failed to ensure schema: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))

	router := apphttp.NewRouter(logger, pool, testConfig(), nil, nil)

	return router, pool
}

func resetDB(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	_, err := pool.Exec(context.Background(), `TRUNCATE users`)
	if err != nil {
		t.Fatalf("failed to truncate users: %v", err)
	}
}

func postJSON(t *testing.T, router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	return w
}

func TestRegisterUniqueIndexGuardsDuplicates(t *testing.T) {
	router, pool := setupTestRouter(t)
	defer pool.Close()
	resetDB(t, pool)

	first := postJSON(t, router, "/register", `{"name":"A","email":"a@x.com","password":"password1"}`)

	if first.Code != http.StatusOK {
		t.Fatalf("first register: got %d body=%s", first.Code, first.Body.String())
	}

	second := postJSON(t, router, "/register", `{"name":"B","email":"a@x.com","password":"password2"}`)

	if second.Code != http.StatusBadRequest {
		t.Fatalf("second register: got %d, want 400", second.Code)
	}

	var count int
	err := pool.QueryRow(context.Background(), `SELECT COUNT(*) FROM users WHERE email = $1`, "a@x.com").Scan(&count)
	if err != nil {
		t.Fatalf("count query failed: %v", err)
	}

	if count != 1 {
		t.Fatalf("store holds %d rows for the email, want 1", count)
	}
}

func TestUpdatePartialFieldsAgainstPostgres(t *testing.T) {
	router, pool := setupTestRouter(t)
	defer pool.Close()
	resetDB(t, pool)

	w := postJSON(t, router, "/register", `{"name":"A","email":"a@x.com","password":"password1"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("register: got %d body=%s", w.Code, w.Body.String())
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode register response: %v", err)
	}

	req := httptest.NewRequest(http.MethodPut, "/users/update/"+created.ID, bytes.NewBufferString(`{"status":"inactive"}`))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("update: got %d body=%s", rec.Code, rec.Body.String())
	}

	var name, email, status string
	err := pool.QueryRow(context.Background(),
		`SELECT name, email, status FROM users WHERE id = $1`, created.ID,
	).Scan(&name, &email, &status)

	if err != nil {
		t.Fatalf("row lookup failed: %v", err)
	}

	if status != "inactive" {
		t.Fatalf("status %q, want inactive", status)
	}

	if name != "A" || email != "a@x.com" {
		t.Fatalf("omitted fields changed: name=%q email=%q", name, email)
	}
}
