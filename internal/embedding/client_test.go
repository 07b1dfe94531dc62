package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientEmbed(t *testing.T) {
	var gotBody embedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path = %q, want /api/embed", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"embeddings":[[0.1,0.2,0.3]]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0)
	vec, err := c.Embed(context.Background(), "nomic-embed-text", "Vendor Acme Invoice INV-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(vec) != 3 {
		t.Fatalf("vector length = %d, want 3", len(vec))
	}
	if gotBody.Model != "nomic-embed-text" {
		t.Errorf("model = %q, want nomic-embed-text", gotBody.Model)
	}
	if gotBody.Input != "Vendor Acme Invoice INV-1" {
		t.Errorf("input = %q", gotBody.Input)
	}
}

func TestClientEmbed_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0)
	_, err := c.Embed(context.Background(), "m", "text")
	if !errors.Is(err, ErrProvider) {
		t.Errorf("error = %v, want ErrProvider", err)
	}
}

func TestClientEmbed_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.Embed(context.Background(), "m", "text")
	if !errors.Is(err, ErrProvider) {
		t.Errorf("error = %v, want ErrProvider", err)
	}
}

func TestClientEmbed_EmptyEmbeddings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"embeddings":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0)
	_, err := c.Embed(context.Background(), "m", "text")
	if !errors.Is(err, ErrProvider) {
		t.Errorf("error = %v, want ErrProvider", err)
	}
}

func TestClientEmbed_MalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0)
	_, err := c.Embed(context.Background(), "m", "text")
	if !errors.Is(err, ErrProvider) {
		t.Errorf("error = %v, want ErrProvider", err)
	}
}

func TestIsRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			w.WriteHeader(404)
			return
		}
		w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0)
	if !c.IsRunning(context.Background()) {
		t.Error("expected IsRunning = true")
	}

	srv.Close()
	if c.IsRunning(context.Background()) {
		t.Error("expected IsRunning = false after server stop")
	}
}
