package api

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func gzipBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func TestBodyMiddlewareDecompressesGzip(t *testing.T) {
	store := newMemStore()
	e := newTestServer(store, Options{})
	e.Use(BodyMiddleware(todoBodyMaxSize))

	req := httptest.NewRequest(http.MethodPost, "/todos", bytes.NewReader(gzipBytes(t, `{"task":"zipped"}`)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d: %s", rec.Code, rec.Body.String())
	}
	todo, found, _ := store.FindTodo(req.Context(), 1)
	if !found || todo.Task != "zipped" {
		t.Fatalf("unexpected stored todo: %#v found=%v", todo, found)
	}
}

func TestBodyMiddlewareRejectsInvalidGzip(t *testing.T) {
	e := echo.New()
	e.Use(BodyMiddleware(todoBodyMaxSize))
	called := false
	e.POST("/todos", func(c echo.Context) error {
		called = true
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/todos", strings.NewReader("not gzip"))
	req.Header.Set(echo.HeaderContentEncoding, "br, GZIP")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
	if called {
		t.Fatal("handler should not run for invalid gzip")
	}
}

func TestBodyMiddlewareCapsBody(t *testing.T) {
	e := echo.New()
	e.Use(BodyMiddleware(8))
	var readErr error
	e.POST("/todos", func(c echo.Context) error {
		_, readErr = io.ReadAll(c.Request().Body)
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/todos", strings.NewReader(strings.Repeat("x", 64)))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var maxErr *http.MaxBytesError
	if readErr == nil || !errors.As(readErr, &maxErr) {
		t.Fatalf("expected MaxBytesError, got %v", readErr)
	}
}

func TestBodyMiddlewareOversizedTodoIsBadRequest(t *testing.T) {
	store := newMemStore()
	e := newTestServer(store, Options{})
	e.Use(BodyMiddleware(16))

	rec := serve(e, http.MethodPost, "/todos", `{"task":"`+strings.Repeat("x", 64)+`"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
	if store.Writes() != 0 {
		t.Fatal("expected no writes")
	}
}

func TestHasGzipEncoding(t *testing.T) {
	tests := map[string]bool{
		"":              false,
		"gzip":          true,
		"GZip":          true,
		"deflate, gzip": true,
		"deflate":       false,
		"x-gzip":        false,
	}
	for header, want := range tests {
		if got := hasGzipEncoding(header); got != want {
			t.Fatalf("hasGzipEncoding(%q) = %v, want %v", header, got, want)
		}
	}
}
