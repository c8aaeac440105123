package runtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadyz(t *testing.T) {
	healthy := ReadyCheck{Name: "db", Check: func(context.Context) error { return nil }}
	broken := ReadyCheck{Name: "kafka", Check: func(context.Context) error { return errors.New("dial refused") }}

	t.Run("all healthy", func(t *testing.T) {
		mux := NewBaseMuxWithReady(healthy, ReadyCheck{Name: "skipped"})
		rw := httptest.NewRecorder()
		mux.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusOK, rw.Code)
	})

	t.Run("one failing", func(t *testing.T) {
		mux := NewBaseMuxWithReady(healthy, broken)
		rw := httptest.NewRecorder()
		mux.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rw.Code)
		assert.Equal(t, "kafka: dial refused", rw.Body.String())
	})

	t.Run("healthz ignores checks", func(t *testing.T) {
		mux := NewBaseMuxWithReady(broken)
		rw := httptest.NewRecorder()
		mux.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rw.Code)
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}
