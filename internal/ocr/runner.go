package ocr

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"time"
	"unicode/utf8"
)

// Runner is the seam between the engine and the host system; tests swap in a
// stub instead of spawning tesseract.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct {
	log *slog.Logger
}

func newExecRunner(log *slog.Logger) execRunner {
	if log == nil {
		log = slog.Default()
	}
	return execRunner{log: log}
}

func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	if err := cmd.Run(); err != nil {
		r.log.Error("ocr.exec.failed",
			"cmd", name,
			"args", args,
			"elapsed_ms", time.Since(start).Milliseconds(),
			"error", err,
			"stderr", clip(errb.String(), 8<<10),
		)
		return out.Bytes(), errb.Bytes(), err
	}

	r.log.Debug("ocr.exec.ok",
		"cmd", name,
		"elapsed_ms", time.Since(start).Milliseconds(),
		"stdout_bytes", out.Len(),
		"stderr_bytes", errb.Len(),
	)
	return out.Bytes(), errb.Bytes(), nil
}

// clip bounds s for logging and error surfaces, backing up to a rune boundary
// so a multi-byte sequence never gets split.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "...(truncated)"
}
