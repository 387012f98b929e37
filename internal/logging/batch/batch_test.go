package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/avolkov/loganalytics-agent/internal/logging"
	"github.com/avolkov/loganalytics-agent/internal/testutils"
)

type MockWriter struct {
	sentBatches [][]logging.LogEvent
	mu          sync.Mutex
	failures    int // reject this many batches before accepting
	err         error
	calls       int
}

func (m *MockWriter) WriteBatch(events []logging.LogEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return false, m.err
	}
	if m.failures > 0 {
		m.failures--
		return false, nil
	}

	m.sentBatches = append(m.sentBatches, events)
	return true, nil
}

func (m *MockWriter) GetSentBatches() [][]logging.LogEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sentBatches
}

func (m *MockWriter) GetCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestBatchProcessor_AddEvent(t *testing.T) {
	mockWriter := &MockWriter{}
	config := logging.Config{
		BatchSize:    2,
		BatchTimeout: 1 * time.Second,
		MaxRetries:   3,
	}

	processor := NewBatchProcessor(context.TODO(), mockWriter, config)

	processor.Start()

	events := []logging.LogEvent{
		{RenderedMessage: "test1", Timestamp: time.Now()},
		{RenderedMessage: "test2", Timestamp: time.Now()},
		{RenderedMessage: "test3", Timestamp: time.Now()},
	}

	for _, event := range events {
		processor.AddEvent(event)
	}

	// Wait for processing
	time.Sleep(100 * time.Millisecond)

	batches := mockWriter.GetSentBatches()
	assert.Greater(t, len(batches), 0)

	totalEvents := 0
	for _, batch := range batches {
		totalEvents += len(batch)
	}

	assert.Equal(t, 2, totalEvents)
}

func TestBatchProcessor_BatchTimeout(t *testing.T) {
	mockWriter := &MockWriter{}
	config := logging.Config{
		BatchSize:    100,
		BatchTimeout: 100 * time.Millisecond,
		MaxRetries:   3,
	}

	processor := NewBatchProcessor(context.TODO(), mockWriter, config)

	processor.Start()

	processor.AddEvent(logging.LogEvent{
		RenderedMessage: "timeout test",
		Timestamp:       time.Now(),
	})

	time.Sleep(200 * time.Millisecond)

	batches := mockWriter.GetSentBatches()
	assert.Greater(t, len(batches), 0)
}

func TestBatchProcessor_Stop(t *testing.T) {
	mockWriter := &MockWriter{}
	config := logging.Config{
		BatchSize:    100,
		BatchTimeout: 1 * time.Second,
		MaxRetries:   3,
	}

	processor := NewBatchProcessor(context.TODO(), mockWriter, config)

	processor.Start()

	for i := 0; i < 5; i++ {
		processor.AddEvent(logging.LogEvent{
			RenderedMessage: fmt.Sprintf("test %d", i),
			Timestamp:       time.Now(),
		})
	}

	processor.Stop()
}

func TestBatchProcessor_RetriesUndeliveredBatch(t *testing.T) {
	mockWriter := &MockWriter{failures: 1}
	config := logging.Config{
		BatchSize:    1,
		BatchTimeout: 1 * time.Second,
		MaxRetries:   2,
	}

	processor := NewBatchProcessor(context.TODO(), mockWriter, config)
	processor.Start()
	defer processor.Stop()

	processor.AddEvent(logging.LogEvent{RenderedMessage: "retry me", Timestamp: time.Now()})

	// First attempt is rejected; the backoff retry should deliver it.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(mockWriter.GetSentBatches()) > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	batches := mockWriter.GetSentBatches()
	assert.Len(t, batches, 1)
	assert.GreaterOrEqual(t, mockWriter.GetCalls(), 2)
}

func TestBatchProcessor_PermanentErrorIsNotRetried(t *testing.T) {
	mockWriter := &MockWriter{err: errors.New("shared key is not valid base64")}
	config := logging.Config{
		BatchSize:    1,
		BatchTimeout: 1 * time.Second,
		MaxRetries:   5,
	}

	processor := NewBatchProcessor(context.TODO(), mockWriter, config)
	processor.Start()
	defer processor.Stop()

	processor.AddEvent(logging.LogEvent{RenderedMessage: "unsignable", Timestamp: time.Now()})

	time.Sleep(300 * time.Millisecond)

	// The batch is dropped after a single attempt; retrying cannot fix a
	// malformed key.
	assert.Equal(t, 1, mockWriter.GetCalls())
	assert.Empty(t, mockWriter.GetSentBatches())
}

func TestBatchProcessor_IntegrationWithMockWriter(t *testing.T) {
	mockWriter := &testutils.MockBatchWriter{}
	config := logging.Config{
		BatchSize:    3,
		BatchTimeout: 50 * time.Millisecond,
		MaxRetries:   2,
	}

	processor := NewBatchProcessor(context.TODO(), mockWriter, config)

	processor.Start()

	events := []logging.LogEvent{
		{RenderedMessage: "test1", Timestamp: time.Now(), Properties: map[string]any{"Job": "api"}},
		{RenderedMessage: "test2", Timestamp: time.Now(), Properties: map[string]any{"Job": "api"}},
		{RenderedMessage: "test3", Timestamp: time.Now(), Properties: map[string]any{"Job": "api"}},
		{RenderedMessage: "test4", Timestamp: time.Now(), Properties: map[string]any{"Job": "worker"}},
		{RenderedMessage: "test5", Timestamp: time.Now(), Properties: map[string]any{"Job": "worker"}},
		{RenderedMessage: "test6", Timestamp: time.Now(), Properties: map[string]any{"Job": "worker"}},
	}

	for _, event := range events {
		processor.AddEvent(event)
	}

	time.Sleep(100 * time.Millisecond)

	batches := mockWriter.GetSentBatches()
	assert.Greater(t, len(batches), 1)

	for _, batch := range batches {
		assert.Greater(t, len(batch), 0)
	}
}

func TestBatchProcessor_ConcurrentAddAndFlush(t *testing.T) {
	mockWriter := &MockWriter{}
	config := logging.Config{
		BatchSize:    5,
		BatchTimeout: 50 * time.Millisecond,
		MaxRetries:   1,
	}

	processor := NewBatchProcessor(context.TODO(), mockWriter, config)
	processor.Start()
	defer processor.Stop()

	var wg sync.WaitGroup
	worker := func(id int) {
		for i := 0; i < 50; i++ {
			processor.AddEvent(logging.LogEvent{
				RenderedMessage: fmt.Sprintf("w%d-%d", id, i),
				Timestamp:       time.Now(),
			})
			if i%10 == 0 {
				time.Sleep(1 * time.Millisecond)
			}
		}
		wg.Done()
	}

	wg.Add(5)
	for w := 0; w < 5; w++ {
		go worker(w)
	}
	wg.Wait()

	time.Sleep(200 * time.Millisecond)
	batches := mockWriter.GetSentBatches()
	total := 0
	for _, b := range batches {
		total += len(b)
	}
	assert.GreaterOrEqual(t, total, 250)
}
