package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samuel-adebayo/docextract/internal/llm"
)

func testClient(t *testing.T, visionURL, textURL string) *Client {
	t.Helper()
	return NewClient(Config{
		VisionURL:   visionURL,
		TextURL:     textURL,
		VisionModel: "minicpm-v",
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Timeout:     5 * time.Second,
	}, nil)
}

func TestInvokeVisionOK(t *testing.T) {
	img := []byte{0x89, 'P', 'N', 'G'}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		var body struct {
			Model  string   `json:"model"`
			Prompt string   `json:"prompt"`
			Images []string `json:"images"`
			Stream bool     `json:"stream"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "minicpm-v", body.Model)
		assert.Equal(t, "extract the invoice", body.Prompt)
		assert.False(t, body.Stream)
		require.Len(t, body.Images, 1)
		decoded, err := base64.StdEncoding.DecodeString(body.Images[0])
		require.NoError(t, err)
		assert.Equal(t, img, decoded)

		_ = json.NewEncoder(w).Encode(map[string]any{"response": `{"invoice_number":"A1"}`, "done": true})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, srv.URL)
	res := c.Invoke(context.Background(), llm.Job{Profile: llm.ProfileVision, Prompt: "extract the invoice", Image: img})

	assert.Equal(t, llm.StatusOK, res.Status)
	assert.Equal(t, `{"invoice_number":"A1"}`, res.Text)
}

func TestInvokeVisionRequiresImage(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, srv.URL)
	res := c.Invoke(context.Background(), llm.Job{Profile: llm.ProfileVision, Prompt: "p"})

	assert.Equal(t, llm.StatusError, res.Status)
	assert.Equal(t, llm.CodeInvalidJob, res.Code)
	assert.Zero(t, calls.Load(), "no request may be sent for an invalid job")
}

func TestInvokeTransientThenSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"response": "ok now"})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, srv.URL)
	res := c.Invoke(context.Background(), llm.Job{Profile: llm.ProfileVision, Prompt: "p", Image: []byte{1}})

	assert.Equal(t, llm.StatusOK, res.Status)
	assert.Equal(t, "ok now", res.Text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestInvokePermanentNoRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, srv.URL)
	res := c.Invoke(context.Background(), llm.Job{Profile: llm.ProfileVision, Prompt: "p", Image: []byte{1}})

	assert.Equal(t, llm.StatusError, res.Status)
	assert.Equal(t, llm.CodePermanent, res.Code)
	assert.Contains(t, res.Message, "404")
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestInvokeTransientExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, srv.URL)
	res := c.Invoke(context.Background(), llm.Job{Profile: llm.ProfileVision, Prompt: "p", Image: []byte{1}})

	assert.Equal(t, llm.StatusError, res.Status)
	assert.Equal(t, llm.CodeTransient, res.Code)
	assert.Contains(t, res.Message, "after 3 attempts")
	assert.Equal(t, int32(3), calls.Load())
}

func TestInvokeTextProfile(t *testing.T) {
	t.Run("message.content shape", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				Model    string `json:"model"`
				Messages []struct {
					Role    string `json:"role"`
					Content string `json:"content"`
				} `json:"messages"`
				Stream bool `json:"stream"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Len(t, body.Messages, 1)
			assert.Equal(t, "user", body.Messages[0].Role)
			assert.False(t, body.Stream)

			_ = json.NewEncoder(w).Encode(map[string]any{
				"message": map[string]any{"role": "assistant", "content": "parsed text"},
			})
		}))
		defer srv.Close()

		c := testClient(t, srv.URL, srv.URL)
		res := c.Invoke(context.Background(), llm.Job{Profile: llm.ProfileText, Prompt: "p"})
		assert.Equal(t, llm.StatusOK, res.Status)
		assert.Equal(t, "parsed text", res.Text)
	})

	t.Run("top-level response fallback", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"response": "legacy shape"})
		}))
		defer srv.Close()

		c := testClient(t, srv.URL, srv.URL)
		res := c.Invoke(context.Background(), llm.Job{Profile: llm.ProfileText, Prompt: "p"})
		assert.Equal(t, llm.StatusOK, res.Status)
		assert.Equal(t, "legacy shape", res.Text)
	})

	t.Run("missing text field is permanent", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]any{"done": true})
		}))
		defer srv.Close()

		c := testClient(t, srv.URL, srv.URL)
		res := c.Invoke(context.Background(), llm.Job{Profile: llm.ProfileText, Prompt: "p"})
		assert.Equal(t, llm.StatusError, res.Status)
		assert.Equal(t, llm.CodePermanent, res.Code)
		assert.Equal(t, int32(1), calls.Load(), "parse failures must not be retried")
	})

	t.Run("malformed body is permanent", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("not json at all"))
		}))
		defer srv.Close()

		c := testClient(t, srv.URL, srv.URL)
		res := c.Invoke(context.Background(), llm.Job{Profile: llm.ProfileText, Prompt: "p"})
		assert.Equal(t, llm.StatusError, res.Status)
		assert.Equal(t, llm.CodePermanent, res.Code)
	})
}

func TestInvokeConnectionRefusedIsTransient(t *testing.T) {
	// a closed server port: every attempt fails at dial time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := testClient(t, url, url)
	res := c.Invoke(context.Background(), llm.Job{Profile: llm.ProfileVision, Prompt: "p", Image: []byte{1}})

	assert.Equal(t, llm.StatusError, res.Status)
	assert.Equal(t, llm.CodeTransient, res.Code)
}

func TestInvokeInFlightCallOutlivesRunCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(map[string]any{"response": "finished"})
	}))
	defer srv.Close()

	c := NewClient(Config{
		VisionURL:   srv.URL,
		TextURL:     srv.URL,
		MaxAttempts: 1,
		Timeout:     5 * time.Second,
	}, nil)

	// the run is cancelled while the request is on the wire; the call must
	// still complete and report its real outcome
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := c.Invoke(ctx, llm.Job{Profile: llm.ProfileVision, Prompt: "p", Image: []byte{1}})
	assert.Equal(t, llm.StatusOK, res.Status)
	assert.Equal(t, "finished", res.Text)
}

func TestSnippetCutsOnRuneBoundary(t *testing.T) {
	assert.Equal(t, "short body", snippet([]byte("  short body\n")))

	// 200 three-byte runes; byte 512 lands mid-rune, so the cut backs up
	got := snippet([]byte(strings.Repeat("€", 200)))
	assert.True(t, utf8.ValidString(got), "truncation must not split a rune")
	assert.Equal(t, strings.Repeat("€", 170)+"...(truncated)", got)
}

func TestInvokeCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{
		VisionURL:   srv.URL,
		TextURL:     srv.URL,
		MaxAttempts: 5,
		BaseDelay:   200 * time.Millisecond,
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := c.Invoke(ctx, llm.Job{Profile: llm.ProfileVision, Prompt: "p", Image: []byte{1}})
	assert.Equal(t, llm.StatusError, res.Status)
	assert.Equal(t, llm.CodeCancelled, res.Code)
}
