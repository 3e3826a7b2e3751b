package http

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"bizdash/internal/attachments"
	"bizdash/internal/services"
	"bizdash/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, opts Options) (*Server, *services.ProjectService) {
	t.Helper()
	dir := t.TempDir()
	repo, err := storage.NewSQLiteRepository(filepath.Join(dir, "bizdash.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	blobs, err := attachments.NewDiskStore(filepath.Join(dir, "files"))
	require.NoError(t, err)

	svc := services.NewProjectService(repo, blobs, nil)
	srv := NewServer(opts, svc)
	t.Cleanup(func() { _ = srv.Shutdown(t.Context()) })
	return srv, svc
}

func do(t *testing.T, srv *Server, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		buf, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, target, rd)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func createProject(t *testing.T, srv *Server, name, client string) map[string]any {
	t.Helper()
	rr := do(t, srv, http.MethodPost, "/api/v1/projects", map[string]any{
		"name": name, "client": client, "startDate": "2024-03-01", "duration": 30, "totalCost": 100000,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[map[string]any](t, rr)
}

func TestIndexHealthReady(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	createProject(t, srv, "Alpha", "Acme")

	rr := do(t, srv, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Alpha")
	assert.Contains(t, rr.Body.String(), "Договор")
	assert.Contains(t, rr.Body.String(), "100 000 ₽")

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := do(t, srv, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, rr.Code, path)
	}

	rr = do(t, srv, http.MethodGet, "/static/style.css", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Cache-Control"), "max-age=3600")

	rr = do(t, srv, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "bizdash_")
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	rr := do(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestLegacyPreflight(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	rr := do(t, srv, http.MethodOptions, "/api", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "86400", rr.Header().Get("Access-Control-Max-Age"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestLegacySaveAndGetAll(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	rr := do(t, srv, http.MethodPost, "/api", map[string]any{
		"action": "save_project",
		"data": map[string]any{
			"id": "p1", "name": "Alpha", "client": "Acme", "startDate": "2024-01-10",
			"endDate": "2024-02-09", "totalCost": 5000, "status": "launch", "duration": 30,
		},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"success":true}`, rr.Body.String())

	rr = do(t, srv, http.MethodPost, "/api", map[string]any{
		"action": "save_expense",
		"data":   map[string]any{"id": "e1", "projectId": "p1", "category": "Пошлины", "amount": 120.5},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, srv, http.MethodPost, "/api", map[string]any{
		"action": "save_file",
		"data": map[string]any{"id": "f1", "projectId": "p1", "name": "a.pdf", "size": "0.1 MB",
			"timestamp": "2024-01-11T10:00:00Z", "url": "https://example.com/a.pdf"},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, srv, http.MethodGet, "/api?action=get_all", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[map[string][]map[string]any](t, rr)

	require.Len(t, body["projects"], 1)
	p := body["projects"][0]
	assert.Equal(t, "2024-01-10", p["start_date"])
	assert.EqualValues(t, 5000, p["total_cost"])
	assert.Equal(t, false, p["is_removed"])
	require.Len(t, body["expenses"], 1)
	assert.Equal(t, "p1", body["expenses"][0]["project_id"])
	assert.EqualValues(t, 120.5, body["expenses"][0]["amount"])
	require.Len(t, body["files"], 1)
	assert.Contains(t, body, "removedProjects")

	rr = do(t, srv, http.MethodPost, "/api", map[string]any{"action": "remove_file", "fileId": "f1"})
	require.Equal(t, http.StatusOK, rr.Code)
	body = decode[map[string][]map[string]any](t, do(t, srv, http.MethodGet, "/api", nil))
	assert.Empty(t, body["files"])
}

func TestLegacyInvalidRequests(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	tests := []struct {
		name string
		body any
	}{
		{"unknown action", map[string]any{"action": "drop_tables"}},
		{"missing data", map[string]any{"action": "save_project"}},
		{"missing id", map[string]any{"action": "save_client", "data": map[string]any{"name": "Acme"}}},
		{"missing file id", map[string]any{"action": "remove_file"}},
		{"not json", "{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, "/api", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.JSONEq(t, `{"error":"Invalid request"}`, rr.Body.String())
		})
	}

	rr := do(t, srv, http.MethodGet, "/api?action=get_everything", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCreateProjectValidation(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	tests := []struct {
		name string
		body any
		want int
	}{
		{"bad json", "{", http.StatusBadRequest},
		{"unknown field", map[string]any{"name": "A", "colour": "red"}, http.StatusBadRequest},
		{"bad date", map[string]any{"name": "A", "client": "B", "startDate": "yesterday", "totalCost": 1}, http.StatusBadRequest},
		{"empty name", map[string]any{"name": " ", "client": "B", "startDate": "2024-01-01", "totalCost": 1}, http.StatusUnprocessableEntity},
		{"zero cost", map[string]any{"name": "A", "client": "B", "startDate": "2024-01-01", "totalCost": 0}, http.StatusUnprocessableEntity},
		{"negative duration", map[string]any{"name": "A", "client": "B", "startDate": "2024-01-01", "totalCost": 1, "duration": -1}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, "/api/v1/projects", tt.body)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
			assert.Contains(t, rr.Body.String(), `"error"`)
		})
	}
}

func TestProjectLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	p := createProject(t, srv, "Alpha", "Acme")
	id := p["id"].(string)
	assert.Equal(t, "contract", p["status"])
	assert.Equal(t, "2024-03-31", p["endDate"])
	base := "/api/v1/projects/" + id

	rr := do(t, srv, http.MethodPut, base+"/status", map[string]any{"status": "shipment"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "Отгрузка", decode[map[string]any](t, rr)["statusLabel"])

	rr = do(t, srv, http.MethodPut, base+"/status", map[string]any{"status": "lost"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = do(t, srv, http.MethodPatch, base, map[string]any{"name": "Alpha 2", "duration": 10})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	patched := decode[map[string]any](t, rr)
	assert.Equal(t, "Alpha 2", patched["name"])
	assert.Equal(t, "2024-03-11", patched["endDate"])

	rr = do(t, srv, http.MethodDelete, base+"/permanent", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, srv, http.MethodDelete, base, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
	dash := decode[map[string]any](t, do(t, srv, http.MethodGet, "/api/v1/dashboard", nil))
	assert.Len(t, dash["removedProjects"], 1)
	assert.Empty(t, dash["projects"])

	rr = do(t, srv, http.MethodPost, base+"/restore", nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = do(t, srv, http.MethodDelete, base, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = do(t, srv, http.MethodDelete, base+"/permanent", nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = do(t, srv, http.MethodGet, base+"/financials", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestExpensesAndFinancials(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	id := createProject(t, srv, "Alpha", "Acme")["id"].(string)
	base := "/api/v1/projects/" + id

	rr := do(t, srv, http.MethodPost, base+"/expenses", map[string]any{"category": "Пошлины", "amount": 15000})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	expenseID := decode[map[string]any](t, rr)["id"].(string)

	rr = do(t, srv, http.MethodPost, base+"/expenses", map[string]any{"category": "", "amount": 1})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = do(t, srv, http.MethodPut, base+"/expenses", map[string]any{"category": "Пошлины", "amount": 10000})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, expenseID, decode[map[string]any](t, rr)["id"])

	fin := decode[map[string]any](t, do(t, srv, http.MethodGet, base+"/financials", nil))
	assert.EqualValues(t, 10000, fin["totalExpenses"])
	assert.EqualValues(t, 90000, fin["margin"])
	assert.Equal(t, "90.0", fin["marginPercent"])

	rr = do(t, srv, http.MethodPatch, "/api/v1/expenses/"+expenseID, map[string]any{"amount": 20000})
	require.Equal(t, http.StatusOK, rr.Code)

	stats := decode[map[string]any](t, do(t, srv, http.MethodGet, "/api/v1/stats", nil))
	assert.EqualValues(t, 1, stats["activeProjects"])
	assert.EqualValues(t, 20000, stats["totalExpenses"])

	rr = do(t, srv, http.MethodDelete, "/api/v1/expenses/"+expenseID, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = do(t, srv, http.MethodDelete, "/api/v1/expenses/"+expenseID, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestComments(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	id := createProject(t, srv, "Alpha", "Acme")["id"].(string)

	rr := do(t, srv, http.MethodPost, "/api/v1/projects/"+id+"/comments", map[string]any{"text": "  hello  "})
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "hello", decode[map[string]any](t, rr)["text"])

	rr = do(t, srv, http.MethodPost, "/api/v1/projects/"+id+"/comments", map[string]any{"text": "   "})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = do(t, srv, http.MethodPost, "/api/v1/projects/missing/comments", map[string]any{"text": "x"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestClientsEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	createProject(t, srv, "Alpha", "Acme")

	clients := decode[[]map[string]any](t, do(t, srv, http.MethodGet, "/api/v1/clients", nil))
	require.Len(t, clients, 1)
	clientID := clients[0]["id"].(string)
	assert.EqualValues(t, 1, clients[0]["projectsCount"])

	rr := do(t, srv, http.MethodDelete, "/api/v1/clients/"+clientID, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "1 active projects")

	rr = do(t, srv, http.MethodPatch, "/api/v1/clients/"+clientID, map[string]any{"name": "Acme Ltd"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "Acme Ltd", decode[map[string]any](t, rr)["name"])

	dash := decode[map[string]any](t, do(t, srv, http.MethodGet, "/api/v1/dashboard", nil))
	projects := dash["projects"].([]any)
	assert.Equal(t, "Acme Ltd", projects[0].(map[string]any)["client"])

	rr = do(t, srv, http.MethodPost, "/api/v1/clients/reconcile", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]map[string]any](t, rr), 1)
}

func multipartBody(t *testing.T, filename, contentType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(map[string][]string)
	h["Content-Disposition"] = []string{`form-data; name="file"; filename="` + filename + `"`}
	if contentType != "" {
		h["Content-Type"] = []string{contentType}
	}
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func upload(t *testing.T, srv *Server, projectID, filename, contentType string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, filename, contentType, content)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects/"+projectID+"/files", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func TestFileUploadServeRemove(t *testing.T) {
	srv, _ := newTestServer(t, Options{MaxUploadBytes: 1 << 16})
	id := createProject(t, srv, "Alpha", "Acme")["id"].(string)
	pdf := []byte("%PDF-1.4\n% test document\n")

	rr := upload(t, srv, id, "../contract.pdf", "application/pdf", pdf)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	f := decode[map[string]any](t, rr)
	assert.Equal(t, "contract.pdf", f["name"])
	assert.Equal(t, "0.0 MB", f["size"])
	url := f["url"].(string)

	rr = do(t, srv, http.MethodGet, url, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/pdf", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "contract.pdf")
	assert.Equal(t, pdf, rr.Body.Bytes())

	rr = upload(t, srv, id, "notes.txt", "text/plain", []byte("hello"))
	assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)

	rr = upload(t, srv, id, "big.pdf", "application/pdf", append(pdf, make([]byte, 1<<17)...))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects/"+id+"/files", strings.NewReader("x"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rr = do(t, srv, http.MethodDelete, "/api/v1"+url, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = do(t, srv, http.MethodGet, url, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDashboardCacheInvalidatedOnWrite(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	dash := decode[map[string]any](t, do(t, srv, http.MethodGet, "/api/v1/dashboard", nil))
	assert.Empty(t, dash["projects"])
	assert.Equal(t, 1, srv.dashboard.Size())

	createProject(t, srv, "Alpha", "Acme")
	assert.Equal(t, 0, srv.dashboard.Size())

	dash = decode[map[string]any](t, do(t, srv, http.MethodGet, "/api/v1/dashboard", nil))
	assert.Len(t, dash["projects"], 1)
}

func TestReferenceEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	statuses := decode[[]map[string]any](t, do(t, srv, http.MethodGet, "/api/v1/statuses", nil))
	require.Len(t, statuses, 9)
	assert.Equal(t, "contract", statuses[0]["status"])
	assert.EqualValues(t, 10, statuses[0]["progress"])

	cats := decode[[]string](t, do(t, srv, http.MethodGet, "/api/v1/expense-categories", nil))
	assert.Contains(t, cats, "Пошлины")

	rr := do(t, srv, http.MethodGet, "/api/v1/nope", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"error":"not found"}`, rr.Body.String())
}

func TestRateLimitOnMutations(t *testing.T) {
	srv, _ := newTestServer(t, Options{RateLimitPerMinute: 4})

	limited := false
	for i := 0; i < 10; i++ {
		rr := do(t, srv, http.MethodPost, "/api/v1/projects", "{")
		if rr.Code == http.StatusTooManyRequests {
			limited = true
			assert.NotEmpty(t, rr.Header().Get("Retry-After"))
			break
		}
	}
	assert.True(t, limited, "expected a 429 after the burst")

	rr := do(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rr.Code, "reads are not limited")
}
