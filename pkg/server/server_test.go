package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"mercator-hq/dispatch/pkg/config"
)

func newTestServer(t *testing.T) (*Server, func()) {
	t.Helper()
	s := New(config.ServerConfig{ListenAddress: "127.0.0.1:0", ShutdownTimeout: time.Second})
	return s, func() { _ = s.Shutdown(context.Background()) }
}

func TestServer_StartServeShutdown(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	s.Handle("/hello", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, RequestID(r.Context()))
	}))

	if _, err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := s.Start(); err == nil {
		t.Error("second Start() should fail")
	}

	req, _ := http.NewRequest(http.MethodGet, "http://"+s.Addr()+"/hello", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if string(body) != "req-42" || resp.Header.Get(RequestIDHeader) != "req-42" {
		t.Errorf("request id = %q / %q, want req-42", body, resp.Header.Get(RequestIDHeader))
	}

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if _, err := http.Get("http://" + s.Addr() + "/hello"); err == nil {
		t.Error("server should refuse connections after shutdown")
	}
}

func TestRequestIDMiddleware_Generates(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" || rec.Header().Get(RequestIDHeader) != seen {
		t.Errorf("generated id = %q, header = %q", seen, rec.Header().Get(RequestIDHeader))
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("code = %d, want 500", rec.Code)
	}
}

func TestLoggingMiddleware_CapturesStatus(t *testing.T) {
	var rw *responseWriter
	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw = w.(*responseWriter)
		w.WriteHeader(http.StatusTeapot)
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusTeapot || rw.statusCode != http.StatusTeapot {
		t.Errorf("status = %d / %d, want 418", rec.Code, rw.statusCode)
	}
}

func TestServer_WebsocketThroughMiddleware(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	upgrader := websocket.Upgrader{}
	s.Handle("/ws", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte("hi"))
	}))

	if _, err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_, msg, err := conn.ReadMessage()
	if err != nil || !strings.EqualFold(string(msg), "hi") {
		t.Errorf("read = %q, %v", msg, err)
	}
}
