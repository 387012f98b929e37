package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/loganalytics-agent/internal/logging"
)

var errNotDelivered = errors.New("batch not delivered")

// Processor buffers events and hands them to a BatchWriter in batches, either
// when the batch fills up or when the timeout fires. Undelivered batches are
// retried with exponential backoff up to MaxRetries, then dropped; the writer
// itself never retries.
type Processor struct {
	ctx        context.Context
	writer     logging.BatchWriter
	config     logging.Config
	batch      []logging.LogEvent
	batchMutex sync.Mutex
	batchChan  chan []logging.LogEvent
	stopCtx    context.CancelFunc
	wg         sync.WaitGroup
}

func NewBatchProcessor(ctx context.Context, writer logging.BatchWriter, config logging.Config) *Processor {
	nCtx, cancel := context.WithCancel(ctx)
	return &Processor{
		writer:    writer,
		config:    config,
		batchChan: make(chan []logging.LogEvent, 100),
		stopCtx:   cancel,
		ctx:       nCtx,
	}
}

func (bp *Processor) AddEvent(event logging.LogEvent) {
	bp.batchMutex.Lock()
	defer bp.batchMutex.Unlock()

	bp.batch = append(bp.batch, event)

	if len(bp.batch) >= bp.config.BatchSize {
		bp.flushBatch()
	}
}

func (bp *Processor) Start() {
	bp.wg.Add(2)
	go bp.batchTimer()
	go bp.processBatches()
}

func (bp *Processor) Stop() {
	bp.stopCtx()
	bp.wg.Wait()
}

func (bp *Processor) batchTimer() {
	defer bp.wg.Done()

	ticker := time.NewTicker(bp.config.BatchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			bp.batchMutex.Lock()
			if len(bp.batch) > 0 {
				bp.flushBatch()
			}
			bp.batchMutex.Unlock()
		case <-bp.ctx.Done():
			return
		}
	}
}

func (bp *Processor) processBatches() {
	defer bp.wg.Done()

	for {
		select {
		case batch := <-bp.batchChan:
			bp.deliver(batch)
		case <-bp.ctx.Done():
			return
		}
	}
}

// deliver writes one batch. A false result means the workspace did not take
// the batch and a later attempt may succeed; an error means delivery is
// impossible (for example a malformed shared key), so the batch is dropped
// without retrying.
func (bp *Processor) deliver(batch []logging.LogEvent) {
	attempt := func() error {
		delivered, err := bp.writer.WriteBatch(batch)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !delivered {
			return errNotDelivered
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(bp.config.MaxRetries)),
		bp.ctx)

	if err := backoff.Retry(attempt, policy); err != nil {
		log.Error().Err(err).Int("events", len(batch)).Msg("Dropping undelivered batch")
	}
}

func (bp *Processor) flushBatch() {
	if len(bp.batch) == 0 {
		return
	}

	batchToSend := make([]logging.LogEvent, len(bp.batch))
	copy(batchToSend, bp.batch)

	bp.batch = bp.batch[:0]

	select {
	case bp.batchChan <- batchToSend:
		log.Debug().Int("events", len(batchToSend)).Msg("Queued batch for delivery")
	default:
		log.Warn().Int("events", len(batchToSend)).Msg("Batch channel full, dropping batch")
	}
}
