package testutils

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/avolkov/loganalytics-agent/internal/logging"
)

// MockBatchWriter records every batch handed to it. ShouldFail simulates a
// workspace rejecting the batch (false, nil); Err simulates an unrecoverable
// failure such as a malformed shared key.
type MockBatchWriter struct {
	SentBatches [][]logging.LogEvent
	mu          sync.Mutex
	ShouldFail  bool
	Err         error
	Delay       time.Duration
}

func (m *MockBatchWriter) WriteBatch(events []logging.LogEvent) (bool, error) {
	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return false, m.Err
	}
	if m.ShouldFail {
		return false, nil
	}

	m.SentBatches = append(m.SentBatches, events)
	return true, nil
}

func (m *MockBatchWriter) GetSentBatches() [][]logging.LogEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.SentBatches
}

type MockBatchProcessor struct {
	Events        []logging.LogEvent
	mu            sync.Mutex
	AddEventDelay time.Duration
	ShouldFail    bool
	AddEventCalls int
	StartCalls    int
	StopCalls     int
}

func (m *MockBatchProcessor) AddEvent(event logging.LogEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AddEventDelay > 0 {
		time.Sleep(m.AddEventDelay)
	}

	if m.ShouldFail {
		panic("mock AddEvent failed")
	}

	m.Events = append(m.Events, event)
	m.AddEventCalls++
}

func (m *MockBatchProcessor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StartCalls++
}

func (m *MockBatchProcessor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StopCalls++
}

func (m *MockBatchProcessor) GetStats() (int, int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Events), m.AddEventCalls, m.StartCalls
}

// CreateTempLogStructure lays out a small tree of .log files, mixing
// structured JSON lines with plain text, the way application log directories
// look in practice.
func CreateTempLogStructure(t *testing.T) string {
	tempDir := t.TempDir()

	structure := map[string]string{
		"web/api/requests.log":  `{"timestamp":"2026-08-20T10:00:00Z","level":"Information","message":"GET /orders returned 200","properties":{"StatusCode":200}}` + "\n",
		"web/api/errors.log":    `{"timestamp":"2026-08-20T10:00:01Z","level":"Error","message":"upstream timed out","exception":"net: timeout"}` + "\n",
		"web/worker/jobs.log":   "job 42 finished\njob 43 started\n",
		"db/postgres/slow.log":  "duration: 1204ms statement: select 1\n",
		"cache/redis/redis.log": "background save started\n",
		"cron/cleanup/run.log":  `{"timestamp":"2026-08-20T10:05:00Z","level":"Warning","message":"nothing to clean"}` + "\n",
	}

	for path, content := range structure {
		fullPath := filepath.Join(tempDir, path)
		dir := filepath.Dir(fullPath)

		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create directory %s: %v", dir, err)
		}

		if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write file %s: %v", fullPath, err)
		}
	}

	return tempDir
}

// WriteJSONLine appends one structured line to a log file under dir.
func WriteJSONLine(t *testing.T, path, level, message string) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("Failed to open %s: %v", path, err)
	}
	defer f.Close()

	line := fmt.Sprintf(`{"timestamp":%q,"level":%q,"message":%q}`+"\n",
		time.Now().UTC().Format(time.RFC3339), level, message)
	if _, err := f.WriteString(line); err != nil {
		t.Fatalf("Failed to append to %s: %v", path, err)
	}
}
