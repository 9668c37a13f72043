package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"docstore/api/internal/identity"
	"docstore/api/internal/store"
)

func newTestServer(t *testing.T, fs *fakeStore) *httptest.Server {
	t.Helper()
	provider := identity.NewStaticProvider()
	provider.Add("token-alice", store.User{ID: 5, Username: "alice", Name: "Alice A"})
	srv := httptest.NewServer(NewHTTPServer(New(fs, provider), "*").Handler())
	t.Cleanup(srv.Close)
	return srv
}

func doRequest(t *testing.T, method, url, token, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, data
}

func decodeJSON(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("bad JSON response %s: %v", data, err)
	}
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeStore{})
	resp, body := doRequest(t, http.MethodGet, srv.URL+"/api/health", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if payload := decodeJSON(t, body); payload["ok"] != true {
		t.Errorf("unexpected payload: %v", payload)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type %q", ct)
	}
}

func TestUserInfoAuthenticated(t *testing.T) {
	srv := newTestServer(t, &fakeStore{})
	resp, body := doRequest(t, http.MethodGet, srv.URL+"/user/info", "token-alice", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	payload := decodeJSON(t, body)
	if payload["valid"] != true || payload["username"] != "alice" || payload["name"] != "Alice A" {
		t.Errorf("unexpected payload: %v", payload)
	}
	if payload["sessionToken"] != "token-alice" || payload["enableSave"] != true {
		t.Errorf("unexpected session fields: %v", payload)
	}
	if payload["privileges"] != float64(0) || payload["enableLogging"] != false {
		t.Errorf("unexpected flags: %v", payload)
	}
}

func TestUserInfoAnonymous(t *testing.T) {
	srv := newTestServer(t, &fakeStore{})

	resp, body := doRequest(t, http.MethodGet, srv.URL+"/user/info", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d", resp.StatusCode)
	}
	payload := decodeJSON(t, body)
	if payload["valid"] != false || payload["enableSave"] != false {
		t.Errorf("unexpected payload: %v", payload)
	}

	// a run key makes the anonymous caller save-capable
	resp, body = doRequest(t, http.MethodGet, srv.URL+"/user/info?runKey=foo", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if payload := decodeJSON(t, body); payload["enableSave"] != true {
		t.Errorf("unexpected payload: %v", payload)
	}

	// unknown tokens degrade to anonymous instead of failing
	resp, _ = doRequest(t, http.MethodGet, srv.URL+"/user/info", "bogus", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestDocumentAllPayload(t *testing.T) {
	fs := &fakeStore{
		listByOwnerFn: func(context.Context, int64) ([]store.Document, error) {
			return []store.Document{{ID: 1, Title: "first", Shared: true}}, nil
		},
	}
	srv := newTestServer(t, fs)

	resp, body := doRequest(t, http.MethodGet, srv.URL+"/document/all", "token-alice", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var items []map[string]any
	if err := json.Unmarshal(body, &items); err != nil {
		t.Fatalf("bad payload %s: %v", body, err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %v", items)
	}
	if items[0]["name"] != "first" || items[0]["id"] != float64(1) || items[0]["_permissions"] != float64(1) {
		t.Errorf("unexpected item: %v", items[0])
	}
}

func TestDocumentAllAnonymousWithoutRunKey(t *testing.T) {
	srv := newTestServer(t, &fakeStore{})
	resp, body := doRequest(t, http.MethodGet, srv.URL+"/document/all", "", "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status %d", resp.StatusCode)
	}
	payload := decodeJSON(t, body)
	if payload["valid"] != false || payload["message"] != "error.permissions" {
		t.Errorf("unexpected payload: %v", payload)
	}
}

func TestDocumentOpenServesRawContent(t *testing.T) {
	ownerID := int64(5)
	fs := &fakeStore{
		findByOwnerTitleFn: func(_ context.Context, _ *int64, title string) (store.Document, error) {
			if title == "mydoc" {
				return store.Document{ID: 1, Title: "mydoc", OwnerID: &ownerID, Content: json.RawMessage(`{"def":[1,2,3,4]}`)}, nil
			}
			return store.Document{}, sql.ErrNoRows
		},
	}
	srv := newTestServer(t, fs)

	resp, body := doRequest(t, http.MethodGet, srv.URL+"/document/open?recordname=mydoc", "token-alice", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	if string(body) != `{"def":[1,2,3,4]}` {
		t.Errorf("open must return the raw content, got %s", body)
	}

	// the legacy doc= spelling addresses the same document
	resp, _ = doRequest(t, http.MethodGet, srv.URL+"/document/open?doc=mydoc", "token-alice", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("doc= spelling: status %d", resp.StatusCode)
	}
}

func TestDocumentOpenNotFound(t *testing.T) {
	srv := newTestServer(t, &fakeStore{})
	resp, body := doRequest(t, http.MethodGet, srv.URL+"/document/open?recordname=missing", "token-alice", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d", resp.StatusCode)
	}
	payload := decodeJSON(t, body)
	if payload["valid"] != false || payload["message"] != "error.notFound" {
		t.Errorf("unexpected payload: %v", payload)
	}
}

func TestDocumentOpenCopySignalHeaders(t *testing.T) {
	ownerID := int64(9)
	fs := &fakeStore{
		getDocumentFn: func(context.Context, int64) (store.Document, error) {
			return store.Document{ID: 1, Title: "shared", OwnerID: &ownerID, Shared: true, Content: json.RawMessage(`{}`)}, nil
		},
	}
	srv := newTestServer(t, fs)

	resp, _ := doRequest(t, http.MethodGet, srv.URL+"/document/open?recordid=1", "token-alice", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Document-Seeded-Copy") != "true" {
		t.Error("expected the seeded-copy header on a fresh cross-owner open")
	}
	if resp.Header.Get("X-Document-Will-Overwrite") != "" {
		t.Error("overwrite header must be absent")
	}
}

func TestDocumentSaveStatusCodes(t *testing.T) {
	ownerID := int64(5)
	existing := false
	fs := &fakeStore{
		findByOwnerTitleRunKeyFn: func(_ context.Context, _ *int64, title string, _ *string) (store.Document, error) {
			if existing && title == "doc" {
				return store.Document{ID: 7, Title: "doc", OwnerID: &ownerID, OriginalContent: json.RawMessage(`{}`)}, nil
			}
			return store.Document{}, sql.ErrNoRows
		},
		insertDocumentFn: func(_ context.Context, doc store.Document) (store.Document, error) {
			doc.ID = 7
			return doc, nil
		},
	}
	srv := newTestServer(t, fs)

	resp, body := doRequest(t, http.MethodPost, srv.URL+"/document/save?recordname=doc", "token-alice", `{"v":1}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", resp.StatusCode, body)
	}
	payload := decodeJSON(t, body)
	if payload["status"] != "Created" || payload["valid"] != true || payload["id"] != float64(7) {
		t.Errorf("unexpected payload: %v", payload)
	}

	existing = true
	resp, body = doRequest(t, http.MethodPost, srv.URL+"/document/save?recordname=doc", "token-alice", `{"v":2}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status %d: %s", resp.StatusCode, body)
	}
	if payload := decodeJSON(t, body); payload["status"] != "Saved" {
		t.Errorf("unexpected payload: %v", payload)
	}
}

func TestDocumentSaveMissingName(t *testing.T) {
	srv := newTestServer(t, &fakeStore{})
	resp, body := doRequest(t, http.MethodPost, srv.URL+"/document/save", "token-alice", `{"v":1}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}
	payload := decodeJSON(t, body)
	if payload["message"] != "error.missingParam" {
		t.Errorf("unexpected payload: %v", payload)
	}
	errs, ok := payload["errors"].([]any)
	if !ok || len(errs) != 1 || errs[0] != "Missing recordname parameter" {
		t.Errorf("unexpected errors: %v", payload["errors"])
	}
}

func TestDocumentSaveInvalidBodyPayload(t *testing.T) {
	srv := newTestServer(t, &fakeStore{})
	resp, body := doRequest(t, http.MethodPost, srv.URL+"/document/save?recordname=doc", "token-alice", `not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}
	payload := decodeJSON(t, body)
	if payload["message"] != "error.writeFailed" || payload["status"] != "Error" {
		t.Errorf("unexpected payload: %v", payload)
	}
}

func TestDocumentRenameAndDelete(t *testing.T) {
	ownerID := int64(5)
	fs := &fakeStore{
		findByOwnerTitleRunKeyFn: func(_ context.Context, _ *int64, title string, _ *string) (store.Document, error) {
			if title == "doc" {
				return store.Document{ID: 1, Title: "doc", OwnerID: &ownerID}, nil
			}
			return store.Document{}, sql.ErrNoRows
		},
	}
	srv := newTestServer(t, fs)

	resp, body := doRequest(t, http.MethodPost, srv.URL+"/document/rename?recordname=doc&newRecordname=other", "token-alice", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rename status %d: %s", resp.StatusCode, body)
	}
	if payload := decodeJSON(t, body); payload["success"] != true {
		t.Errorf("unexpected rename payload: %v", payload)
	}

	resp, body = doRequest(t, http.MethodGet, srv.URL+"/document/delete?recordname=doc", "token-alice", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status %d: %s", resp.StatusCode, body)
	}
	if payload := decodeJSON(t, body); payload["success"] != true {
		t.Errorf("unexpected delete payload: %v", payload)
	}
}

func TestV2OpenHeaders(t *testing.T) {
	roKey, rwKey := "abc", "def"
	doc := store.Document{ID: 42, ReadAccessKey: &roKey, ReadWriteAccessKey: &rwKey, Content: json.RawMessage(`{"v":1}`)}
	fs := &fakeStore{
		findByReadAccessKeyFn: func(_ context.Context, key string) (store.Document, error) {
			if key == "abc" {
				return doc, nil
			}
			return store.Document{}, sql.ErrNoRows
		},
		findByReadWriteAccessKeyFn: func(_ context.Context, key string) (store.Document, error) {
			if key == "def" {
				return doc, nil
			}
			return store.Document{}, sql.ErrNoRows
		},
	}
	srv := newTestServer(t, fs)

	resp, body := doRequest(t, http.MethodGet, srv.URL+"/v2/document/open?accessKey=RO::abc", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	if string(body) != `{"v":1}` {
		t.Errorf("unexpected content: %s", body)
	}
	if resp.Header.Get("Document-Id") != "42" {
		t.Errorf("Document-Id %q", resp.Header.Get("Document-Id"))
	}
	if resp.Header.Get("Allow") != "GET, HEAD, OPTIONS" || resp.Header.Get("X-Document-Store-Read-Only") != "true" {
		t.Errorf("read-only headers: Allow=%q ReadOnly=%q", resp.Header.Get("Allow"), resp.Header.Get("X-Document-Store-Read-Only"))
	}

	resp, _ = doRequest(t, http.MethodGet, srv.URL+"/v2/document/open?accessKey=RW::def", "", "")
	if resp.Header.Get("Allow") != "GET, HEAD, OPTIONS, PUT, PATCH" || resp.Header.Get("X-Document-Store-Read-Only") != "false" {
		t.Errorf("read-write headers: Allow=%q ReadOnly=%q", resp.Header.Get("Allow"), resp.Header.Get("X-Document-Store-Read-Only"))
	}

	// legacy parameter spelling
	resp, _ = doRequest(t, http.MethodGet, srv.URL+"/v2/document/open?readAccessKey=abc", "", "")
	if resp.StatusCode != http.StatusOK || resp.Header.Get("X-Document-Store-Read-Only") != "true" {
		t.Errorf("legacy read key: status %d", resp.StatusCode)
	}
}

func TestV2SaveWithReadOnlyKey(t *testing.T) {
	srv := newTestServer(t, &fakeStore{})
	resp, body := doRequest(t, http.MethodPut, srv.URL+"/v2/document/save?accessKey=RO::abc", "", `{"v":1}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	if payload := decodeJSON(t, body); payload["message"] != "error.permissions" {
		t.Errorf("unexpected payload: %v", payload)
	}
}

func TestV2SaveWithoutKey(t *testing.T) {
	srv := newTestServer(t, &fakeStore{})
	resp, body := doRequest(t, http.MethodPut, srv.URL+"/v2/document/save", "", `{"v":1}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}
	payload := decodeJSON(t, body)
	if payload["message"] != "error.missingParam" {
		t.Errorf("unexpected payload: %v", payload)
	}
	errs, ok := payload["errors"].([]any)
	if !ok || len(errs) != 1 || errs[0] != "Missing readWriteAccessKey parameter" {
		t.Errorf("unexpected errors: %v", payload["errors"])
	}
}

func TestV2PatchEndpoint(t *testing.T) {
	rwKey := "def"
	doc := store.Document{ID: 3, Title: "doc", ReadWriteAccessKey: &rwKey, Content: json.RawMessage(`{"x":1}`)}
	fs := &fakeStore{
		findByReadWriteAccessKeyFn: func(_ context.Context, key string) (store.Document, error) {
			if key == "def" {
				return doc, nil
			}
			return store.Document{}, sql.ErrNoRows
		},
	}
	srv := newTestServer(t, fs)

	resp, body := doRequest(t, http.MethodPatch, srv.URL+"/v2/document/patch?accessKey=RW::def", "", `[{"op":"replace","path":"/x","value":2}]`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	payload := decodeJSON(t, body)
	if payload["status"] != "Patched" || payload["valid"] != true || payload["id"] != float64(3) {
		t.Errorf("unexpected payload: %v", payload)
	}
}

func TestV2CopyShared(t *testing.T) {
	fs := &fakeStore{
		getDocumentFn: func(_ context.Context, id int64) (store.Document, error) {
			if id == 4 {
				return store.Document{ID: 4, Title: "tpl", Shared: true, Content: json.RawMessage(`{}`)}, nil
			}
			return store.Document{}, sql.ErrNoRows
		},
		insertDocumentFn: func(_ context.Context, doc store.Document) (store.Document, error) {
			doc.ID = 5
			return doc, nil
		},
	}
	srv := newTestServer(t, fs)

	resp, body := doRequest(t, http.MethodPost, srv.URL+"/v2/document/copy_shared?recordid=4", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	payload := decodeJSON(t, body)
	if payload["status"] != "Copied" || payload["id"] != float64(5) {
		t.Errorf("unexpected payload: %v", payload)
	}
	if payload["readAccessKey"] == "" || payload["readWriteAccessKey"] == "" {
		t.Errorf("missing keys: %v", payload)
	}

	resp, body = doRequest(t, http.MethodPost, srv.URL+"/v2/document/copy_shared", "", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing recordid status %d: %s", resp.StatusCode, body)
	}
}

func TestV2CopySharedNotShared(t *testing.T) {
	fs := &fakeStore{
		getDocumentFn: func(context.Context, int64) (store.Document, error) {
			return store.Document{ID: 4, Shared: false}, nil
		},
	}
	srv := newTestServer(t, fs)

	resp, body := doRequest(t, http.MethodPost, srv.URL+"/v2/document/copy_shared?recordid=4", "", "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status %d", resp.StatusCode)
	}
	payload := decodeJSON(t, body)
	if payload["message"] != "error.notShared" {
		t.Errorf("unexpected payload: %v", payload)
	}
	errs, ok := payload["errors"].([]any)
	if !ok || len(errs) != 1 || errs[0] != "Source document is not shared" {
		t.Errorf("unexpected errors: %v", payload["errors"])
	}
}

func TestV2Create(t *testing.T) {
	fs := &fakeStore{
		insertDocumentFn: func(_ context.Context, doc store.Document) (store.Document, error) {
			doc.ID = 11
			return doc, nil
		},
	}
	srv := newTestServer(t, fs)

	resp, body := doRequest(t, http.MethodPost, srv.URL+"/v2/document/create", "", `{"name":"seeded"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	payload := decodeJSON(t, body)
	if payload["status"] != "Created" || payload["id"] != float64(11) {
		t.Errorf("unexpected payload: %v", payload)
	}
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(t, &fakeStore{})
	resp, body := doRequest(t, http.MethodGet, srv.URL+"/nope", "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if payload := decodeJSON(t, body); payload["message"] != "error.notFound" {
		t.Errorf("unexpected payload: %v", payload)
	}
}

func TestCORSAndRequestIDHeaders(t *testing.T) {
	srv := newTestServer(t, &fakeStore{})

	resp, _ := doRequest(t, http.MethodGet, srv.URL+"/api/health", "", "")
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("CORS origin %q", resp.Header.Get("Access-Control-Allow-Origin"))
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing request id header")
	}

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/document/open", nil)
	preflight, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	preflight.Body.Close()
	if preflight.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status %d", preflight.StatusCode)
	}
}
