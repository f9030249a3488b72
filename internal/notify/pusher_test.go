package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPusherSendJSON(t *testing.T) {
	var gotSig, gotTs, gotNonce string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotTs = r.Header.Get("X-Timestamp")
		gotNonce = r.Header.Get("X-Nonce")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewPusher(srv.Client(), "s3cret")
	code, _, err := p.SendJSON(context.Background(), srv.URL+"/hook", map[string]string{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, gotSig, 64)
	assert.NotEmpty(t, gotTs)
	assert.NotEmpty(t, gotNonce)
}

func TestPusherNoRetryOn4xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewPusher(srv.Client(), "s")
	code, _, err := p.SendJSON(context.Background(), srv.URL, map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPusherRetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewPusher(srv.Client(), "s")
	p.Backoff = []time.Duration{time.Millisecond}
	code, _, err := p.SendJSON(context.Background(), srv.URL, map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, int32(2), calls.Load())
}
