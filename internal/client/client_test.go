package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/attendance/pkg/dto"
)

func TestClientIdentify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/identify", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("X-API-Key"))

		var req dto.IdentifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []float64{1, 2}, req.Descriptor)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"found":true,"name":"Ada","empId":"E001","distance":0.12}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k", 5*time.Second)
	resp, err := c.Identify(context.Background(), dto.IdentifyRequest{Descriptor: []float64{1, 2}})
	require.NoError(t, err)
	assert.True(t, resp.Found)
	assert.Equal(t, "E001", resp.EmpID)
	require.NotNil(t, resp.Distance)
	assert.InDelta(t, 0.12, *resp.Distance, 1e-9)
}

func TestClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/enroll":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"status":"error","message":"displayName: must not be empty"}`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"storage unavailable, retry the request"}`))
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "", 5*time.Second)

	_, err := c.Enroll(context.Background(), dto.EnrollRequest{IdentityID: "E001"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "displayName: must not be empty", apiErr.Message)

	_, err = c.Identify(context.Background(), dto.IdentifyRequest{})
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Contains(t, apiErr.Message, "storage unavailable")
}
