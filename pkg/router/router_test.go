package router

import (
	"context"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() *Router {
	return New(WithAccessLog(log.New(io.Discard, "", 0)))
}

func named(name string) HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, name) }
}

func TestRouter_Dispatch(t *testing.T) {
	r := quiet()
	r.GET("/api/v1/imports", named("list"))
	r.POST("/api/v1/imports/*/retry", named("retry"))
	r.GET("/api/v1/imports/*", named("get"))
	r.DELETE("/api/v1/imports/*", named("cancel"))

	tests := []struct {
		method, path string
		code         int
		body         string
	}{
		{http.MethodGet, "/api/v1/imports", 200, "list"},
		{http.MethodGet, "/api/v1/imports/abc", 200, "get"},
		{http.MethodDelete, "/api/v1/imports/abc", 200, "cancel"},
		{http.MethodPost, "/api/v1/imports/abc/retry", 200, "retry"},
		{http.MethodPut, "/api/v1/imports/abc", 405, ""},
		{http.MethodPost, "/api/v1/imports", 405, ""},
		{http.MethodGet, "/api/v2/imports", 404, ""},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.code, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestMatchWildcardRoute(t *testing.T) {
	assert.True(t, matchWildcardRoute("/swagger/index.html", "/swagger/*"))
	assert.True(t, matchWildcardRoute("/swagger/a/b.js", "/swagger/*"))
	assert.False(t, matchWildcardRoute("/swagger", "/swagger/*"))
	assert.True(t, matchWildcardRoute("/a/x/b", "/a/*/b"))
	assert.False(t, matchWildcardRoute("/a/x/c", "/a/*/b"))
	assert.False(t, matchWildcardRoute("/a//b", "/a/*/b"))
}

func TestRouter_RegistersPaths(t *testing.T) {
	r := quiet()
	r.GET("/x", named("x"))
	r.PATCH("/x", named("x"))
	assert.Len(t, r.Routes(), 2)
	assert.Equal(t, map[string]bool{"/x": true}, r.Paths())
}

func TestRouter_ServeStopsOnCancel(t *testing.T) {
	r := quiet()
	r.GET("/ping", named("pong"))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/ping")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "pong", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
