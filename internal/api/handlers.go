package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mbetel/invochat/internal/embedding"
	"github.com/mbetel/invochat/internal/invoice"
	"github.com/mbetel/invochat/internal/query"
	"github.com/mbetel/invochat/internal/session"
	"github.com/mbetel/invochat/internal/storage"
)

const maxBatchBodySize = 10 << 20 // 10MB; batches carry raw invoice text
const maxChatBodySize = 1 << 20   // 1MB

// SessionManager is the slice of the session manager the API needs.
type SessionManager interface {
	Create(ctx context.Context, ownerID string, batch []invoice.Record) (*session.Session, error)
	Get(id, requesterID string) (*session.Session, error)
	Delete(id, requesterID string) error
	TTL() time.Duration
}

// ChatEngine answers one question against one session.
type ChatEngine interface {
	Ask(ctx context.Context, sessionID, requesterID, question string) (query.Answer, error)
}

// Archive persists accepted batches for GL export. Optional; if nil,
// batches are not archived and archive routes return empty results.
type Archive interface {
	ArchiveBatch(ownerID, sessionID string, records []invoice.Record) error
	ListByOwner(ownerID string) ([]storage.ArchivedInvoice, error)
}

// Deps holds the handler's collaborators.
type Deps struct {
	Sessions SessionManager
	Engine   ChatEngine
	Archive  Archive
	Token    string
}

// NewHandler builds the HTTP API. Everything except /health sits behind
// bearer auth.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/sessions", handleCreateSession(deps))
		r.Get("/sessions/{id}", handleSessionStatus(deps))
		r.Delete("/sessions/{id}", handleDeleteSession(deps))
		r.Post("/sessions/{id}/chat", handleChat(deps))
		r.Get("/sessions/{id}/export", handleSessionExport(deps))
		r.Get("/archive", handleArchiveList(deps))
		r.Get("/archive/export", handleArchiveExport(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type createSessionRequest struct {
	OwnerID  string           `json:"owner_id"`
	Invoices []invoice.Record `json:"invoices"`
}

func handleCreateSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBatchBodySize)
		defer r.Body.Close()

		var req createSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.OwnerID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "owner_id is required")
			return
		}

		s, err := deps.Sessions.Create(r.Context(), req.OwnerID, req.Invoices)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		// The archive is best-effort: a failed write must not invalidate the
		// session that was already published.
		if deps.Archive != nil {
			if err := deps.Archive.ArchiveBatch(req.OwnerID, s.ID, req.Invoices); err != nil {
				slog.Error("archiving batch failed", "session_id", s.ID, "error", err)
			}
		}

		warnings := s.Warnings
		if warnings == nil {
			warnings = []string{}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"session_id": s.ID,
			"invoices":   len(s.Records),
			"facts":      s.Index.Len(),
			"warnings":   warnings,
		})
	}
}

func handleSessionStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := r.URL.Query().Get("owner_id")
		if ownerID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "owner_id is required")
			return
		}

		s, err := deps.Sessions.Get(chi.URLParam(r, "id"), ownerID)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"active":             true,
			"invoices":           len(s.Records),
			"expires_in_seconds": int(s.ExpiresIn(deps.Sessions.TTL(), time.Now()).Seconds()),
		})
	}
}

func handleDeleteSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := r.URL.Query().Get("owner_id")
		if ownerID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "owner_id is required")
			return
		}

		// Idempotent: deleting an already-gone session still reports deleted.
		if err := deps.Sessions.Delete(chi.URLParam(r, "id"), ownerID); err != nil {
			writeDomainError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	}
}

type chatRequest struct {
	OwnerID  string `json:"owner_id"`
	Question string `json:"question"`
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxChatBodySize)
		defer r.Body.Close()

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.OwnerID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "owner_id is required")
			return
		}
		if req.Question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}

		answer, err := deps.Engine.Ask(r.Context(), chi.URLParam(r, "id"), req.OwnerID, req.Question)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		if answer.Evidence == nil {
			answer.Evidence = []string{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(answer)
	}
}

func handleSessionExport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := r.URL.Query().Get("owner_id")
		if ownerID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "owner_id is required")
			return
		}

		s, err := deps.Sessions.Get(chi.URLParam(r, "id"), ownerID)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="invoices.csv"`)
		if err := invoice.WriteGL(w, s.Records); err != nil {
			slog.Error("GL export failed", "session_id", s.ID, "error", err)
		}
	}
}

func handleArchiveList(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := r.URL.Query().Get("owner_id")
		if ownerID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "owner_id is required")
			return
		}

		type archivedEntry struct {
			ID         string         `json:"id"`
			SessionID  string         `json:"session_id"`
			ArchivedAt string         `json:"archived_at"`
			Invoice    invoice.Record `json:"invoice"`
		}
		entries := []archivedEntry{}
		if deps.Archive != nil {
			archived, err := deps.Archive.ListByOwner(ownerID)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to list archive: %v", err)
				return
			}
			for _, a := range archived {
				entries = append(entries, archivedEntry{
					ID:         a.ID,
					SessionID:  a.SessionID,
					ArchivedAt: a.ArchivedAt.Format(time.RFC3339),
					Invoice:    a.Record,
				})
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(entries)
	}
}

func handleArchiveExport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := r.URL.Query().Get("owner_id")
		if ownerID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "owner_id is required")
			return
		}

		var records []invoice.Record
		if deps.Archive != nil {
			archived, err := deps.Archive.ListByOwner(ownerID)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to list archive: %v", err)
				return
			}
			for _, a := range archived {
				records = append(records, a.Record)
			}
		}

		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="invoices.csv"`)
		if err := invoice.WriteGL(w, records); err != nil {
			slog.Error("GL export failed", "owner_id", ownerID, "error", err)
		}
	}
}

// writeDomainError maps domain sentinel errors onto the HTTP error taxonomy.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrEmptyBatch):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, session.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "session not found or expired")
	case errors.Is(err, session.ErrAccessDenied):
		httpError(w, http.StatusForbidden, "access_denied", "session belongs to a different owner")
	case errors.Is(err, embedding.ErrProvider):
		httpError(w, http.StatusBadGateway, "dependency_error", "embedding provider unavailable: %v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
