package remoteworker_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/export-service/internal/domain"
	"github.com/jonesrussell/north-cloud/export-service/internal/remoteworker"
)

func TestRun_PostsRequestAndDecodesResult(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/worker/run", r.URL.Path)

		var req remoteworker.RunRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "payment-bills", req.ExportType)
		assert.Equal(t, "job-1", req.JobID)
		assert.Equal(t, "completed", req.Params["state"])

		_ = json.NewEncoder(w).Encode(domain.Result{FileName: "f.xlsx", URL: "https://files/f.xlsx", TotalRecords: 9})
	}))
	t.Cleanup(srv.Close)

	c := remoteworker.NewClient(remoteworker.Config{URL: srv.URL})
	require.True(t, c.Enabled())

	res, err := c.Run(t.Context(), remoteworker.RunRequest{
		ExportType: "payment-bills",
		Params:     domain.Params{"state": "completed"},
		JobID:      "job-1",
	})
	require.NoError(t, err)
	assert.Equal(t, &domain.Result{FileName: "f.xlsx", URL: "https://files/f.xlsx", TotalRecords: 9}, res)
}

func TestRun_MapsStatusToDomainErrors(t *testing.T) {
	t.Parallel()

	cases := map[int]error{
		http.StatusBadRequest:         domain.ErrInvalidRequest,
		http.StatusNotFound:           domain.ErrNotFound,
		http.StatusBadGateway:         domain.ErrRenderFailure,
		http.StatusGatewayTimeout:     domain.ErrTimeout,
		http.StatusServiceUnavailable: domain.ErrSourceUnavailable,
	}

	for status, want := range cases {
		t.Run(http.StatusText(status), func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(status)
			}))
			t.Cleanup(srv.Close)

			_, err := remoteworker.NewClient(remoteworker.Config{URL: srv.URL}).
				Run(t.Context(), remoteworker.RunRequest{ExportType: "payment-bills"})
			assert.ErrorIs(t, err, want)
		})
	}
}

func TestRun_NotConfigured(t *testing.T) {
	t.Parallel()

	c := remoteworker.NewClient(remoteworker.Config{})
	assert.False(t, c.Enabled())

	_, err := c.Run(t.Context(), remoteworker.RunRequest{})
	assert.ErrorIs(t, err, remoteworker.ErrNotConfigured)
}
