package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/starford/pagesync/internal/apperr"
	"github.com/starford/pagesync/internal/mapper"
	"github.com/starford/pagesync/internal/materializer"
	"github.com/starford/pagesync/internal/models"
	"github.com/starford/pagesync/internal/reconciler"
	"github.com/starford/pagesync/internal/render"
	"github.com/starford/pagesync/internal/state"
	"github.com/starford/pagesync/internal/syncservice"
	"github.com/starford/pagesync/internal/testutil"
)

func item(id, title string) models.RemoteItem {
	it := testutil.Page(id, title)
	it.Properties["Tags"] = models.MultiSelect("go")
	return it
}

// testEnv wires a real reconciler over a stub source, temp content dir,
// in-memory state and a temp SQLite index.
func testEnv(t *testing.T, authToken string) (*testutil.Source, http.Handler) {
	t.Helper()

	_, content := testutil.TestContent(t)
	db := testutil.TestDB(t)

	m, err := mapper.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	src := &testutil.Source{Items: []models.RemoteItem{item("p1", "First Post"), item("p2", "Second Post")}}
	rec, err := reconciler.New(reconciler.Options{
		Targets:      []reconciler.Target{{DatabaseID: "db", Bucket: "posts"}},
		Source:       src,
		Mapper:       m,
		Renderer:     render.NewMarkdown(),
		Materializer: materializer.New(content),
	})
	if err != nil {
		t.Fatal(err)
	}
	svc, err := syncservice.New(syncservice.Options{Runner: rec, Backend: state.NewMemory(), Content: content, DB: db})
	if err != nil {
		t.Fatal(err)
	}
	return src, NewRouter(svc, authToken != "", authToken, nil)
}

func do(t *testing.T, h http.Handler, method, target string, out any) int {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if out != nil && w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, target, w.Body.String(), err)
		}
	}
	return w.Code
}

func TestSyncThenQuery(t *testing.T) {
	_, router := testEnv(t, "")

	var resp SyncResponse
	if code := do(t, router, http.MethodPost, "/sync?mode=full", &resp); code != http.StatusOK {
		t.Fatalf("sync status = %d, resp = %+v", code, resp)
	}
	if resp.Summary == nil || resp.Summary.Created != 2 {
		t.Fatalf("summary = %+v", resp.Summary)
	}

	var records RecordListResponse
	if code := do(t, router, http.MethodGet, "/records", &records); code != http.StatusOK {
		t.Fatalf("records status = %d", code)
	}
	if records.Total != 2 || records.Records[0].ItemID != "p1" {
		t.Errorf("records = %+v", records)
	}

	var detail RecordDetail
	if code := do(t, router, http.MethodGet, "/records/p1", &detail); code != http.StatusOK {
		t.Fatalf("record status = %d", code)
	}
	if detail.Title != "First Post" || detail.TargetPath != "posts/first-post.md" || !detail.InSync {
		t.Errorf("detail = %+v", detail)
	}

	var runs RunListResponse
	if code := do(t, router, http.MethodGet, "/runs", &runs); code != http.StatusOK {
		t.Fatalf("runs status = %d", code)
	}
	if runs.Total != 1 || runs.Runs[0].ID != resp.Summary.RunID || runs.Runs[0].Trigger != syncservice.TriggerAPI {
		t.Errorf("runs = %+v", runs)
	}

	var run RunView
	if code := do(t, router, http.MethodGet, "/runs/"+resp.Summary.RunID, &run); code != http.StatusOK {
		t.Fatalf("run status = %d", code)
	}
	if run.Created != 2 || run.Mode != "full" {
		t.Errorf("run = %+v", run)
	}

	var artifacts ArtifactListResponse
	if code := do(t, router, http.MethodGet, "/artifacts?tag=go", &artifacts); code != http.StatusOK {
		t.Fatalf("artifacts status = %d", code)
	}
	if artifacts.Total != 2 || artifacts.Artifacts[0].ItemID != "p1" {
		t.Errorf("artifacts = %+v", artifacts)
	}

	var st syncservice.Status
	if code := do(t, router, http.MethodGet, "/status", &st); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if st.Records != 2 || st.LastRun == nil || st.Running {
		t.Errorf("status = %+v", st)
	}
}

func TestSync_SecondPassIsIdempotent(t *testing.T) {
	_, router := testEnv(t, "")
	do(t, router, http.MethodPost, "/sync", nil)

	var resp SyncResponse
	if code := do(t, router, http.MethodPost, "/sync", &resp); code != http.StatusOK {
		t.Fatalf("sync status = %d", code)
	}
	if resp.Summary.Unchanged != 2 || resp.Summary.Created+resp.Summary.Updated != 0 {
		t.Errorf("second pass summary = %+v", resp.Summary)
	}
}

func TestSync_InvalidMode(t *testing.T) {
	_, router := testEnv(t, "")
	if code := do(t, router, http.MethodPost, "/sync?mode=sideways", nil); code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
}

func TestSync_FatalSourceError(t *testing.T) {
	src, router := testEnv(t, "")
	src.Err = &apperr.FatalSourceError{Source: "db", StatusCode: 404, Err: errors.New("database not found")}

	var resp SyncResponse
	if code := do(t, router, http.MethodPost, "/sync", &resp); code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", code)
	}
	if resp.Error == "" || resp.Summary != nil {
		t.Errorf("resp = %+v", resp)
	}

	var runs RunListResponse
	do(t, router, http.MethodGet, "/runs", &runs)
	if runs.Total != 1 || runs.Runs[0].FatalError == "" {
		t.Errorf("failed run not recorded: %+v", runs)
	}
}

func TestNotFound(t *testing.T) {
	_, router := testEnv(t, "")
	if code := do(t, router, http.MethodGet, "/records/missing", nil); code != http.StatusNotFound {
		t.Errorf("record status = %d, want 404", code)
	}
	if code := do(t, router, http.MethodGet, "/runs/missing", nil); code != http.StatusNotFound {
		t.Errorf("run status = %d, want 404", code)
	}
}

func TestListRecords_BadStatus(t *testing.T) {
	_, router := testEnv(t, "")
	if code := do(t, router, http.MethodGet, "/records?status=pending", nil); code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
}

func TestAuth(t *testing.T) {
	_, router := testEnv(t, "s3cret")

	if code := do(t, router, http.MethodGet, "/status", nil); code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", code)
	}

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", w.Code)
	}
}

func TestAuth_QueryTokenOnlyForGet(t *testing.T) {
	_, router := testEnv(t, "s3cret")

	if code := do(t, router, http.MethodGet, "/status?access_token=s3cret", nil); code != http.StatusOK {
		t.Errorf("GET with query token: status = %d, want 200", code)
	}
	if code := do(t, router, http.MethodPost, "/sync?access_token=s3cret", nil); code != http.StatusUnauthorized {
		t.Errorf("POST with query token: status = %d, want 401", code)
	}
}
