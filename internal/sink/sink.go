package sink

import (
	"fmt"
	"os"
	"sync"

	"github.com/samuel-adebayo/docextract/internal/llm"
)

// Sink receives one record per page. The orchestrator calls Write in strict
// page-index order, but implementations still guard against concurrent use.
type Sink interface {
	Write(pageIndex int, res llm.ModelResponse) error
}

// FileSink appends human-readable records to a flat file. Prior records are
// never truncated or reordered.
type FileSink struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open sink %q: %w", path, err)
	}
	return &FileSink{f: f}, nil
}

func (s *FileSink) Write(pageIndex int, res llm.ModelResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec string
	if res.Status == llm.StatusOK {
		rec = fmt.Sprintf("Page %d:\n%s\n\n", pageIndex, res.Text)
	} else {
		rec = fmt.Sprintf("Page %d (error %s):\n%s\n\n", pageIndex, res.Code, res.Message)
	}
	if _, err := s.f.WriteString(rec); err != nil {
		return fmt.Errorf("append page %d: %w", pageIndex, err)
	}
	return nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// Record is one captured sink write.
type Record struct {
	PageIndex int
	Response  llm.ModelResponse
}

// MemorySink captures writes for tests.
type MemorySink struct {
	mu   sync.Mutex
	recs []Record
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Write(pageIndex int, res llm.ModelResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, Record{PageIndex: pageIndex, Response: res})
	return nil
}

func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.recs))
	copy(out, s.recs)
	return out
}
