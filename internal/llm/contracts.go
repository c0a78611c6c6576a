package llm

import (
	"context"
	"fmt"
)

// Profile is the wire contract used to reach the model server.
type Profile string

const (
	ProfileVision Profile = "vision"
	ProfileText   Profile = "text"
)

// Status of one model response.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Stable error codes carried by error responses.
const (
	CodeInvalidJob = "invalid_job"
	CodePermanent  = "permanent"
	CodeTransient  = "transient_exhausted"
	CodeCancelled  = "cancelled"
	CodePromptSize = "prompt_too_large"
)

// ModelResponse is the terminal outcome for one page. Never mutated after
// creation.
type ModelResponse struct {
	Status  Status `json:"status"`
	Text    string `json:"text,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func OK(text string) ModelResponse {
	return ModelResponse{Status: StatusOK, Text: text}
}

func Errorf(code, format string, args ...any) ModelResponse {
	return ModelResponse{Status: StatusError, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Job pairs one page's rendered prompt with the chosen profile. Created per
// page by the orchestrator, consumed once.
type Job struct {
	Profile Profile
	Prompt  string
	Image   []byte // required for ProfileVision
}

// Invoker is the interface the pipeline depends on. Implementations never
// raise past their boundary: every failure becomes an error-status response.
type Invoker interface {
	Invoke(ctx context.Context, job Job) ModelResponse
}
