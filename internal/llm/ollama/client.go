package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/samuel-adebayo/docextract/internal/llm"
)

// Invoke implements llm.Invoker against the Ollama wire contract: the vision
// profile posts to /api/generate with a base64 image, the text profile posts
// to /api/chat. Transient failures (no response, 5xx) are retried with
// exponential backoff up to the configured attempt budget; 4xx and malformed
// bodies are permanent and returned immediately. Cancelling ctx stops further
// attempts and backoff waits but never aborts a request already on the wire;
// an in-flight call runs to completion or to the client's own timeout.
func (c *Client) Invoke(ctx context.Context, job llm.Job) llm.ModelResponse {
	rid := uuid.New().String()
	start := time.Now()

	if job.Profile == llm.ProfileVision && len(job.Image) == 0 {
		return llm.Errorf(llm.CodeInvalidJob, "vision profile requires image bytes")
	}

	url, body, err := c.buildRequest(job)
	if err != nil {
		return llm.Errorf(llm.CodeInvalidJob, "%v", err)
	}

	c.log.Info("llm.invoke.start",
		"req_id", rid,
		"profile", string(job.Profile),
		"url", url,
		"prompt_len", len(job.Prompt),
		"image_bytes", len(job.Image),
		"max_attempts", c.cfg.MaxAttempts,
	)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		raw, status, httpErr := llm.SendJSON(context.WithoutCancel(ctx), c.http, url, body, c.log)

		switch {
		case httpErr == nil:
			text, parseErr := c.parseResponse(job.Profile, raw)
			if parseErr != nil {
				c.log.Error("llm.invoke.parse_error",
					"req_id", rid, "attempt", attempt, "error", parseErr,
					"elapsed_ms", time.Since(start).Milliseconds(),
				)
				return llm.Errorf(llm.CodePermanent, "malformed model response: %v", parseErr)
			}
			c.log.Info("llm.invoke.ok",
				"req_id", rid,
				"attempt", attempt,
				"text_len", len(text),
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return llm.OK(text)

		case status >= 400 && status < 500:
			c.log.Error("llm.invoke.permanent",
				"req_id", rid, "attempt", attempt, "status", status,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return llm.Errorf(llm.CodePermanent, "status %d: %s", status, snippet(raw))

		default:
			// status 0 (dial failure, timeout) or 5xx: transient
			lastErr = httpErr
			if status > 0 {
				lastErr = fmt.Errorf("status %d: %s", status, snippet(raw))
			}
			c.log.Warn("llm.invoke.transient",
				"req_id", rid, "attempt", attempt, "status", status, "error", lastErr,
			)
		}

		if attempt < c.cfg.MaxAttempts {
			if ctx.Err() != nil {
				return llm.Errorf(llm.CodeCancelled, "cancelled after %d attempts: %v", attempt, ctx.Err())
			}
			delay := c.cfg.BaseDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return llm.Errorf(llm.CodeCancelled, "cancelled during backoff: %v", ctx.Err())
			}
		}
	}

	c.log.Error("llm.invoke.exhausted",
		"req_id", rid,
		"attempts", c.cfg.MaxAttempts,
		"error", lastErr,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return llm.Errorf(llm.CodeTransient, "%v after %d attempts", lastErr, c.cfg.MaxAttempts)
}

func (c *Client) buildRequest(job llm.Job) (string, map[string]any, error) {
	switch job.Profile {
	case llm.ProfileVision:
		return c.cfg.VisionURL, map[string]any{
			"model":  c.cfg.VisionModel,
			"prompt": job.Prompt,
			"images": []string{base64.StdEncoding.EncodeToString(job.Image)},
			"stream": false,
		}, nil
	case llm.ProfileText:
		return c.cfg.TextURL, map[string]any{
			"model": c.cfg.TextModel,
			"messages": []map[string]any{
				{"role": "user", "content": job.Prompt},
			},
			"stream": false,
		}, nil
	default:
		return "", nil, fmt.Errorf("unknown profile %q", job.Profile)
	}
}

// parseResponse reads the generated text out of a 2xx body. The chat endpoint
// has shipped the text under message.content and under a top-level response
// field across server versions; absence of both is a permanent parse failure.
func (c *Client) parseResponse(profile llm.Profile, raw []byte) (string, error) {
	switch profile {
	case llm.ProfileVision:
		var gr struct {
			Response *string `json:"response"`
		}
		if err := json.Unmarshal(raw, &gr); err != nil {
			return "", fmt.Errorf("decode generate response: %w", err)
		}
		if gr.Response == nil {
			return "", fmt.Errorf("generate response missing 'response' field")
		}
		return *gr.Response, nil
	default:
		var cr struct {
			Message *struct {
				Content *string `json:"content"`
			} `json:"message"`
			Response *string `json:"response"`
		}
		if err := json.Unmarshal(raw, &cr); err != nil {
			return "", fmt.Errorf("decode chat response: %w", err)
		}
		if cr.Message != nil && cr.Message.Content != nil {
			return *cr.Message.Content, nil
		}
		if cr.Response != nil {
			return *cr.Response, nil
		}
		return "", fmt.Errorf("chat response carries no generated text")
	}
}

// snippet bounds a server body for logs and error messages, backing up to a
// rune boundary so a multi-byte sequence never gets split.
func snippet(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) <= 512 {
		return s
	}
	cut := 512
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "...(truncated)"
}
