package httpclient

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryDelay = 5 * time.Millisecond
	return cfg
}

func TestNew_AppliesDefaults(t *testing.T) {
	client := New(Config{RetryAttempts: 5})
	assert.Equal(t, 5, client.config.RetryAttempts)
	assert.Equal(t, DefaultConnectTimeout, client.config.ConnectTimeout)
	assert.Equal(t, DefaultReadTimeout, client.config.ReadTimeout)
	assert.Equal(t, DefaultCircuitThreshold, client.config.CircuitThreshold)
	assert.NotNil(t, client.logger)

	base := &http.Client{Timeout: time.Second}
	cfg := DefaultConfig()
	cfg.BaseClient = base
	assert.Same(t, base, New(cfg).client)
}

func TestClient_Get(t *testing.T) {
	t.Run("sends default user agent", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Contains(t, r.Header.Get(HeaderUserAgent), "tvinput/")
			assert.Equal(t, DefaultAcceptEncodingHeader, r.Header.Get(HeaderAcceptEncoding))
			_, _ = w.Write([]byte("#EXTM3U"))
		}))
		defer server.Close()

		resp, err := NewWithDefaults().Get(context.Background(), server.URL)
		require.NoError(t, err)
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, "#EXTM3U", string(body))
	})

	t.Run("sends locator headers", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Kodi/20", r.Header.Get(HeaderUserAgent))
			assert.Equal(t, "http://example.com/", r.Header.Get("Referer"))
			assert.Equal(t, "/list.m3u", r.URL.Path)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		resp, err := NewWithDefaults().Get(context.Background(),
			server.URL+"/list.m3u|User-Agent=Kodi/20|Referer=http://example.com/")
		require.NoError(t, err)
		resp.Body.Close()
	})
}

func TestClient_Retries(t *testing.T) {
	t.Run("retries on 503 then succeeds", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&attempts, 1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte("ok"))
		}))
		defer server.Close()

		cfg := fastConfig()
		cfg.RetryAttempts = 3
		resp, err := New(cfg).Get(context.Background(), server.URL)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		_, err := New(fastConfig()).Get(context.Background(), server.URL)
		assert.ErrorIs(t, err, ErrMaxRetries)
		assert.ErrorIs(t, err, ErrUnexpectedStatus)
		assert.Equal(t, int32(1+DefaultRetryAttempts), atomic.LoadInt32(&attempts))
	})

	t.Run("does not retry on 404", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		resp, err := New(fastConfig()).Get(context.Background(), server.URL)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
	})

	t.Run("stops on context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(100 * time.Millisecond)
		}))
		defer server.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		_, err := New(fastConfig()).Get(ctx, server.URL)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestClient_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("body"))
	}))
	defer server.Close()

	client := New(fastConfig())

	body, err := client.Fetch(context.Background(), server.URL+"/ok")
	require.NoError(t, err)
	data, _ := io.ReadAll(body)
	body.Close()
	assert.Equal(t, "body", string(data))

	_, err = client.Fetch(context.Background(), server.URL+"/missing")
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}

func TestClient_Decompression(t *testing.T) {
	const payload = "#EXTM3U\n#EXTINF:0051, blizz\nhttp://example.com/51.m3u8\n"

	encode := map[string]func([]byte) []byte{
		EncodingGzip: func(b []byte) []byte {
			var buf bytes.Buffer
			gw := gzip.NewWriter(&buf)
			_, _ = gw.Write(b)
			_ = gw.Close()
			return buf.Bytes()
		},
		EncodingDeflate: func(b []byte) []byte {
			var buf bytes.Buffer
			fw, _ := flate.NewWriter(&buf, flate.DefaultCompression)
			_, _ = fw.Write(b)
			_ = fw.Close()
			return buf.Bytes()
		},
		EncodingBrotli: func(b []byte) []byte {
			var buf bytes.Buffer
			bw := brotli.NewWriter(&buf)
			_, _ = bw.Write(b)
			_ = bw.Close()
			return buf.Bytes()
		},
	}

	for encoding, fn := range encode {
		t.Run(encoding, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set(HeaderContentEncoding, encoding)
				_, _ = w.Write(fn([]byte(payload)))
			}))
			defer server.Close()

			body, err := NewWithDefaults().Fetch(context.Background(), server.URL)
			require.NoError(t, err)
			defer body.Close()

			data, err := io.ReadAll(body)
			require.NoError(t, err)
			assert.Equal(t, payload, string(data))
		})
	}
}

func TestClient_CircuitBreakerIntegration(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := fastConfig()
	cfg.RetryAttempts = 0
	cfg.CircuitThreshold = 2
	cfg.CircuitTimeout = time.Hour
	client := New(cfg)

	for range 2 {
		_, err := client.Get(context.Background(), server.URL)
		require.Error(t, err)
	}
	assert.Equal(t, CircuitOpen, client.CircuitState())

	_, err := client.Get(context.Background(), server.URL)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts), "open circuit skips the request")

	client.ResetCircuit()
	assert.Equal(t, CircuitClosed, client.CircuitState())
}

func TestClient_CancelledRequestsLeaveCircuitClosed(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer slow.Close()
	defer close(release)

	cfg := fastConfig()
	cfg.CircuitThreshold = 2
	cfg.CircuitTimeout = time.Hour
	client := New(cfg)

	for range 5 {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		_, err := client.Get(ctx, slow.URL)
		cancel()
		require.ErrorIs(t, err, context.DeadlineExceeded)
	}
	assert.Equal(t, CircuitClosed, client.CircuitState())
	assert.Zero(t, client.CircuitFailures())

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer healthy.Close()

	body, err := client.Fetch(context.Background(), healthy.URL)
	require.NoError(t, err)
	body.Close()
}

func TestClient_CircuitPerHost(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer up.Close()

	cfg := fastConfig()
	cfg.RetryAttempts = 0
	cfg.CircuitThreshold = 1
	cfg.CircuitTimeout = time.Hour
	client := New(cfg)

	_, err := client.Get(context.Background(), down.URL)
	require.Error(t, err)
	_, err = client.Get(context.Background(), down.URL)
	require.ErrorIs(t, err, ErrCircuitOpen)

	body, err := client.Fetch(context.Background(), up.URL)
	require.NoError(t, err, "another host is unaffected")
	body.Close()

	assert.Equal(t, CircuitOpen, client.CircuitState())
	assert.Equal(t, 1, client.CircuitFailures())

	client.ResetCircuit()
	assert.Equal(t, CircuitClosed, client.CircuitState())
	assert.Zero(t, client.CircuitFailures())
}

func TestClient_GzipLabelledPlainBody(t *testing.T) {
	const payload = "#EXTM3U\n#EXTINF:0051, blizz\nhttp://example.com/51.m3u8\n"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderContentEncoding, EncodingGzip)
		_, _ = w.Write([]byte(payload))
	}))
	defer server.Close()

	body, err := New(fastConfig()).Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, payload, string(data), "no bytes are lost")
}

func TestClient_CorruptGzipHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderContentEncoding, EncodingGzip)
		_, _ = w.Write([]byte{0x1f, 0x8b, 0x00, 0, 0, 0, 0, 0, 0, 0, 'x'})
	}))
	defer server.Close()

	cfg := fastConfig()
	cfg.RetryAttempts = 0
	_, err := New(cfg).Fetch(context.Background(), server.URL)
	assert.ErrorIs(t, err, gzip.ErrHeader)
}

func TestCircuitBreaker_AbandonReturnsTrial(t *testing.T) {
	now := time.Date(2024, 1, 15, 18, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(1, time.Minute, 1)
	cb.now = func() time.Time { return now }

	require.True(t, cb.Allow())
	cb.RecordFailure()
	now = now.Add(time.Minute)

	require.True(t, cb.Allow())
	cb.Abandon()
	assert.Equal(t, CircuitHalfOpen, cb.State())
	assert.True(t, cb.Allow(), "an abandoned trial frees its slot")

	cb.Abandon()
	cb.Abandon()
	assert.True(t, cb.Allow())
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker(t *testing.T) {
	now := time.Date(2024, 1, 15, 18, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(3, time.Minute, 1)
	cb.now = func() time.Time { return now }

	for range 3 {
		assert.True(t, cb.Allow())
		cb.RecordFailure()
	}
	assert.Equal(t, CircuitOpen, cb.State())
	assert.False(t, cb.Allow())

	now = now.Add(time.Minute)
	assert.True(t, cb.Allow(), "first request after timeout is a trial")
	assert.Equal(t, CircuitHalfOpen, cb.State())
	assert.False(t, cb.Allow(), "only one trial while half-open")

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	now = now.Add(time.Minute)
	assert.True(t, cb.Allow())
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Zero(t, cb.Failures())
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(99).String())
}

func TestIsRetryableStatus(t *testing.T) {
	for _, code := range []int{429, 502, 503, 504} {
		assert.True(t, isRetryableStatus(code), code)
	}
	for _, code := range []int{200, 301, 400, 401, 404, 500} {
		assert.False(t, isRetryableStatus(code), code)
	}
}

func TestClient_StandardClient(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	resp, err := New(fastConfig()).StandardClient().Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}
