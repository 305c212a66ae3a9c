package measurement_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridcert/issuance-worker/internal/measurement"
	"github.com/gridcert/issuance-worker/tools/periodclock"
)

const testGSRN = "571313000000001234"

var testPeriod = periodclock.NewHour(time.Unix(1646308800, 0)) // 2022-03-03T12:00:00Z

func TestGet_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			GSRN     string `json:"gsrn"`
			DateFrom int64  `json:"dateFrom"`
			DateTo   int64  `json:"dateTo"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, testGSRN, req.GSRN)
		require.Equal(t, int64(1646308800), req.DateFrom)
		require.Equal(t, int64(1646312400), req.DateTo)

		require.NoError(t, json.NewEncoder(w).Encode(measurement.Reading{Quantity: 42, Quality: "measured"}))
	}))
	defer srv.Close()

	client := measurement.NewClient(srv.URL, time.Second)
	reading, err := client.Get(context.Background(), testGSRN, testPeriod)

	require.NoError(t, err)
	assert.Equal(t, uint64(42), reading.Quantity)
	assert.Equal(t, "measured", reading.Quality)
}

func TestGet_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := measurement.NewClient(srv.URL, time.Second)
	_, err := client.Get(context.Background(), testGSRN, testPeriod)

	assert.ErrorIs(t, err, measurement.ErrUnavailable)
}

func TestGet_TransportErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	client := measurement.NewClient(srv.URL, time.Second)
	_, err := client.Get(context.Background(), testGSRN, testPeriod)

	assert.ErrorIs(t, err, measurement.ErrUnavailable)
}
