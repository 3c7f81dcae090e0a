package httpc

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPostSendsBody(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	resp, err := Post(srv.URL, "text/plain", []byte("hello"))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	resp.Body.Close()

	if got != "hello" {
		t.Errorf("server got body %q, want %q", got, "hello")
	}
}

func TestPostJSON(t *testing.T) {
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := PostJSON(context.Background(), nil, srv.URL, []byte(`{}`))
	if err != nil {
		t.Fatalf("PostJSON: %v", err)
	}
	resp.Body.Close()

	if contentType != "application/json" {
		t.Errorf("Content-Type = %q", contentType)
	}
}

func TestPostJSONHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := PostJSON(ctx, NewClient(time.Second), srv.URL, nil); err == nil {
		t.Fatal("expected context deadline error")
	}
}
