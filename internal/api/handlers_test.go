package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mbetel/invochat/internal/embedding"
	"github.com/mbetel/invochat/internal/index"
	"github.com/mbetel/invochat/internal/invoice"
	"github.com/mbetel/invochat/internal/query"
	"github.com/mbetel/invochat/internal/session"
	"github.com/mbetel/invochat/internal/storage"
)

type fakeSessionManager struct {
	created *session.Session
	err     error
	deleted []string
}

func (f *fakeSessionManager) Create(ctx context.Context, ownerID string, batch []invoice.Record) (*session.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(batch) == 0 {
		return nil, session.ErrEmptyBatch
	}
	return f.created, nil
}

func (f *fakeSessionManager) Get(id, requesterID string) (*session.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.created == nil || f.created.ID != id {
		return nil, session.ErrNotFound
	}
	if f.created.OwnerID != requesterID {
		return nil, session.ErrAccessDenied
	}
	return f.created, nil
}

func (f *fakeSessionManager) Delete(id, requesterID string) error {
	if f.created != nil && f.created.ID == id && f.created.OwnerID != requesterID {
		return session.ErrAccessDenied
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeSessionManager) TTL() time.Duration { return 2 * time.Hour }

type fakeEngine struct {
	answer query.Answer
	err    error
}

func (f *fakeEngine) Ask(ctx context.Context, sessionID, requesterID, question string) (query.Answer, error) {
	if f.err != nil {
		return query.Answer{}, f.err
	}
	return f.answer, nil
}

type fakeArchive struct {
	batches  int
	archived []storage.ArchivedInvoice
	err      error
}

func (f *fakeArchive) ArchiveBatch(ownerID, sessionID string, records []invoice.Record) error {
	if f.err != nil {
		return f.err
	}
	f.batches++
	return nil
}

func (f *fakeArchive) ListByOwner(ownerID string) ([]storage.ArchivedInvoice, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.archived, nil
}

func liveSession(t *testing.T) *session.Session {
	t.Helper()
	ix := index.New()
	records := []invoice.Record{
		{VendorName: "Acme", InvoiceNumber: "INV-1", TotalAmount: invoice.Amount(100), Date: "2025-01-10"},
	}
	if err := ix.Add(index.Fact{ID: "inv-0", Record: 0, LineItem: -1}, []float32{1, 0}); err != nil {
		t.Fatalf("building index: %v", err)
	}
	s := &session.Session{ID: "sess-1", OwnerID: "owner-1", Index: ix, Records: records}
	s.Touch(time.Now())
	return s
}

const testToken = "test-token"

func newTestHandler(mgr *fakeSessionManager, eng *fakeEngine, arch Archive) http.Handler {
	return NewHandler(Deps{Sessions: mgr, Engine: eng, Archive: arch, Token: testToken})
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth_NoAuthRequired(t *testing.T) {
	h := newTestHandler(&fakeSessionManager{}, &fakeEngine{}, nil)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestAuth_RejectsMissingToken(t *testing.T) {
	h := newTestHandler(&fakeSessionManager{}, &fakeEngine{}, nil)

	req := httptest.NewRequest("POST", "/sessions", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != 401 {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAuth_RejectsWrongToken(t *testing.T) {
	h := newTestHandler(&fakeSessionManager{}, &fakeEngine{}, nil)

	req := httptest.NewRequest("POST", "/sessions", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != 401 {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestCreateSession(t *testing.T) {
	mgr := &fakeSessionManager{created: liveSession(t)}
	arch := &fakeArchive{}
	h := newTestHandler(mgr, &fakeEngine{}, arch)

	body := `{"owner_id":"owner-1","invoices":[{"vendor_name":"Acme","invoice_number":"INV-1","total_amount":100}]}`
	w := doRequest(t, h, "POST", "/sessions", body)

	if w.Code != 201 {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}

	var resp struct {
		SessionID string   `json:"session_id"`
		Invoices  int      `json:"invoices"`
		Facts     int      `json:"facts"`
		Warnings  []string `json:"warnings"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.SessionID != "sess-1" {
		t.Errorf("session_id = %q, want sess-1", resp.SessionID)
	}
	if resp.Warnings == nil {
		t.Error("warnings must be an empty array, not null")
	}
	if arch.batches != 1 {
		t.Errorf("archive batches = %d, want 1", arch.batches)
	}
}

func TestCreateSession_EmptyBatch(t *testing.T) {
	h := newTestHandler(&fakeSessionManager{}, &fakeEngine{}, nil)

	w := doRequest(t, h, "POST", "/sessions", `{"owner_id":"owner-1","invoices":[]}`)
	if w.Code != 400 {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCreateSession_MissingOwner(t *testing.T) {
	h := newTestHandler(&fakeSessionManager{}, &fakeEngine{}, nil)

	w := doRequest(t, h, "POST", "/sessions", `{"invoices":[{"vendor_name":"Acme"}]}`)
	if w.Code != 400 {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCreateSession_ArchiveFailureDoesNotFailRequest(t *testing.T) {
	mgr := &fakeSessionManager{created: liveSession(t)}
	arch := &fakeArchive{err: fmt.Errorf("disk full")}
	h := newTestHandler(mgr, &fakeEngine{}, arch)

	body := `{"owner_id":"owner-1","invoices":[{"vendor_name":"Acme"}]}`
	w := doRequest(t, h, "POST", "/sessions", body)
	if w.Code != 201 {
		t.Errorf("status = %d, want 201 despite archive failure", w.Code)
	}
}

func TestCreateSession_ProviderDown(t *testing.T) {
	mgr := &fakeSessionManager{err: fmt.Errorf("building session index: %w", embedding.ErrProvider)}
	h := newTestHandler(mgr, &fakeEngine{}, nil)

	body := `{"owner_id":"owner-1","invoices":[{"vendor_name":"Acme"}]}`
	w := doRequest(t, h, "POST", "/sessions", body)
	if w.Code != 502 {
		t.Errorf("status = %d, want 502", w.Code)
	}
}

func TestSessionStatus(t *testing.T) {
	mgr := &fakeSessionManager{created: liveSession(t)}
	h := newTestHandler(mgr, &fakeEngine{}, nil)

	w := doRequest(t, h, "GET", "/sessions/sess-1?owner_id=owner-1", "")
	if w.Code != 200 {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Active    bool `json:"active"`
		Invoices  int  `json:"invoices"`
		ExpiresIn int  `json:"expires_in_seconds"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp.Active || resp.Invoices != 1 {
		t.Errorf("unexpected status body: %+v", resp)
	}
	if resp.ExpiresIn <= 0 || resp.ExpiresIn > 7200 {
		t.Errorf("expires_in = %d, want within (0, 7200]", resp.ExpiresIn)
	}
}

func TestSessionStatus_NotFound(t *testing.T) {
	h := newTestHandler(&fakeSessionManager{created: liveSession(t)}, &fakeEngine{}, nil)

	w := doRequest(t, h, "GET", "/sessions/unknown?owner_id=owner-1", "")
	if w.Code != 404 {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestSessionStatus_WrongOwner(t *testing.T) {
	h := newTestHandler(&fakeSessionManager{created: liveSession(t)}, &fakeEngine{}, nil)

	w := doRequest(t, h, "GET", "/sessions/sess-1?owner_id=intruder", "")
	if w.Code != 403 {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestDeleteSession(t *testing.T) {
	mgr := &fakeSessionManager{created: liveSession(t)}
	h := newTestHandler(mgr, &fakeEngine{}, nil)

	w := doRequest(t, h, "DELETE", "/sessions/sess-1?owner_id=owner-1", "")
	if w.Code != 200 {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if len(mgr.deleted) != 1 || mgr.deleted[0] != "sess-1" {
		t.Errorf("deleted = %v, want [sess-1]", mgr.deleted)
	}

	// Idempotent: deleting again still reports deleted.
	w = doRequest(t, h, "DELETE", "/sessions/already-gone?owner_id=owner-1", "")
	if w.Code != 200 {
		t.Errorf("repeat delete status = %d, want 200", w.Code)
	}
}

func TestChat(t *testing.T) {
	eng := &fakeEngine{answer: query.Answer{
		Text:     "The total amount across all invoices is $425.75 (3 invoices).",
		Evidence: []string{"inv-0", "inv-1"},
	}}
	h := newTestHandler(&fakeSessionManager{created: liveSession(t)}, eng, nil)

	w := doRequest(t, h, "POST", "/sessions/sess-1/chat", `{"owner_id":"owner-1","question":"total?"}`)
	if w.Code != 200 {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var answer struct {
		Text     string   `json:"answer"`
		Evidence []string `json:"evidence"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &answer); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !strings.Contains(answer.Text, "$425.75") {
		t.Errorf("answer = %q", answer.Text)
	}
	if len(answer.Evidence) != 2 {
		t.Errorf("evidence = %v, want 2 ids", answer.Evidence)
	}
}

func TestChat_EvidenceNeverNull(t *testing.T) {
	eng := &fakeEngine{answer: query.Answer{Text: "No matching invoices found."}}
	h := newTestHandler(&fakeSessionManager{created: liveSession(t)}, eng, nil)

	w := doRequest(t, h, "POST", "/sessions/sess-1/chat", `{"owner_id":"owner-1","question":"anything?"}`)
	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"evidence":[]`) {
		t.Errorf("evidence should serialize as [], got %s", w.Body.String())
	}
}

func TestChat_MissingQuestion(t *testing.T) {
	h := newTestHandler(&fakeSessionManager{created: liveSession(t)}, &fakeEngine{}, nil)

	w := doRequest(t, h, "POST", "/sessions/sess-1/chat", `{"owner_id":"owner-1"}`)
	if w.Code != 400 {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestChat_ProviderDown(t *testing.T) {
	eng := &fakeEngine{err: fmt.Errorf("embedding text: %w", embedding.ErrProvider)}
	h := newTestHandler(&fakeSessionManager{created: liveSession(t)}, eng, nil)

	w := doRequest(t, h, "POST", "/sessions/sess-1/chat", `{"owner_id":"owner-1","question":"total?"}`)
	if w.Code != 502 {
		t.Errorf("status = %d, want 502", w.Code)
	}

	var resp struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Error.Type != "dependency_error" {
		t.Errorf("error type = %q, want dependency_error", resp.Error.Type)
	}
}

func TestSessionExport(t *testing.T) {
	h := newTestHandler(&fakeSessionManager{created: liveSession(t)}, &fakeEngine{}, nil)

	w := doRequest(t, h, "GET", "/sessions/sess-1/export?owner_id=owner-1", "")
	if w.Code != 200 {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("content type = %q, want text/csv", ct)
	}
	if !strings.Contains(w.Body.String(), "Acme") {
		t.Errorf("export missing invoice data: %s", w.Body.String())
	}
}

func TestArchiveList(t *testing.T) {
	arch := &fakeArchive{archived: []storage.ArchivedInvoice{
		{
			ID:         "arc-1",
			OwnerID:    "owner-1",
			SessionID:  "sess-1",
			ArchivedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
			Record:     invoice.Record{VendorName: "Acme", InvoiceNumber: "INV-1"},
		},
	}}
	h := newTestHandler(&fakeSessionManager{}, &fakeEngine{}, arch)

	w := doRequest(t, h, "GET", "/archive?owner_id=owner-1", "")
	if w.Code != 200 {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var entries []struct {
		ID        string `json:"id"`
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "arc-1" {
		t.Errorf("entries = %v", entries)
	}
}

func TestArchiveList_NilArchive(t *testing.T) {
	h := newTestHandler(&fakeSessionManager{}, &fakeEngine{}, nil)

	w := doRequest(t, h, "GET", "/archive?owner_id=owner-1", "")
	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("body = %q, want []", w.Body.String())
	}
}
