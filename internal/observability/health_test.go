package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHealthChecker_Readiness(t *testing.T) {
	h := NewHealthChecker()

	var seen []bool
	h.OnChange(func(ready bool) { seen = append(seen, ready) })

	readyz := func() int {
		rec := httptest.NewRecorder()
		h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		return rec.Code
	}

	require.Equal(t, http.StatusServiceUnavailable, readyz(), "not ready before recovery")

	h.SetReady(true)
	require.Equal(t, http.StatusOK, readyz())

	dbDown := true
	h.AddCheck("postgres", func(context.Context) error {
		if dbDown {
			return errors.New("connection refused")
		}
		return nil
	})
	require.Equal(t, http.StatusServiceUnavailable, readyz())
	require.Equal(t, map[string]string{"postgres": "connection refused"}, h.Check(context.Background()))

	dbDown = false
	require.Equal(t, http.StatusOK, readyz())

	h.SetReady(false)
	require.Equal(t, []bool{false, true, false}, seen)
}

func TestHealthChecker_Liveness(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthChecker().LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"alive"`)
}
