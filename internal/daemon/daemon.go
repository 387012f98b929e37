package daemon

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/hpcloud/tail"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/loganalytics-agent/internal/logging"
)

// LogDaemonService discovers JSON-lines log files under a root path, tails
// them with a pool of workers and feeds every parsed event into the batch
// processor. The pool scales between MinWorkers and MaxWorkers based on
// queue pressure.
type LogDaemonService struct {
	config         Config
	batchProcessor logging.BatchProcessor
	fileQueue      chan string
	workers        []*worker
	workersWg      sync.WaitGroup
	subServicesWg  sync.WaitGroup
	ctx            context.Context
	cancel         context.CancelFunc
	metrics        *SourceMetrics

	scaleMutex     sync.RWMutex
	currentWorkers int
	maxWorkers     int
	minWorkers     int

	seenFiles map[string]struct{}
}

type worker struct {
	id     int
	ctx    context.Context
	cancel context.CancelFunc
}

type Config struct {
	LogRootPath        string
	ScanInterval       time.Duration
	MinWorkers         int
	MaxWorkers         int
	FileQueueSize      int
	FileBufferSize     int
	ScaleUpThreshold   float64 // default: 0.9
	ScaleDownThreshold float64 // default: 0.3
	ScaleCheckInterval time.Duration
	// If > 0, stop tailing a file after this period without new lines
	FileIdleTimeout time.Duration
}

// lineRecord is the JSON shape this agent understands on each log line.
// Anything that does not parse is shipped as a plain message event.
type lineRecord struct {
	Timestamp       time.Time      `json:"timestamp"`
	Level           string         `json:"level"`
	Message         string         `json:"message"`
	MessageTemplate string         `json:"messageTemplate"`
	Exception       string         `json:"exception"`
	Properties      map[string]any `json:"properties"`
}

// NewLogDaemonService always creates 3 + config.MinWorkers go routines on Start()
func NewLogDaemonService(ctx context.Context, config Config, batchProcessor logging.BatchProcessor) *LogDaemonService {
	nCtx, cancel := context.WithCancel(ctx)

	service := &LogDaemonService{
		config:         config,
		batchProcessor: batchProcessor,
		fileQueue:      make(chan string, config.FileQueueSize),
		ctx:            nCtx,
		cancel:         cancel,
		metrics: &SourceMetrics{
			FilesQueueCapacity: config.FileQueueSize,
		},
		minWorkers:     config.MinWorkers,
		maxWorkers:     config.MaxWorkers,
		currentWorkers: config.MinWorkers,
		seenFiles:      make(map[string]struct{}),
	}

	service.workers = make([]*worker, config.MaxWorkers+1)

	return service
}

func (s *LogDaemonService) Start() {
	log.Info().
		Int("min_workers", s.minWorkers).
		Int("max_workers", s.maxWorkers).
		Int("queue_size", s.config.FileQueueSize).
		Msg("Starting log source daemon")

	for i := 0; i < s.minWorkers; i++ {
		s.startWorker(i)
	}

	s.subServicesWg.Add(1)
	go s.scanner()

	s.subServicesWg.Add(1)
	go s.monitorAndScale()

	s.subServicesWg.Add(1)
	go s.metricsReporter()

	log.Info().Msg("Log source daemon started")
}

func (s *LogDaemonService) Stop() {
	log.Info().Msg("Stopping log source daemon...")
	s.cancel()

	s.subServicesWg.Wait()

	close(s.fileQueue)
	s.workersWg.Wait()

	log.Info().Msg("Log source daemon stopped")
}

func (s *LogDaemonService) startWorker(id int) {
	if id >= len(s.workers) || s.workers[id] != nil {
		return
	}

	workerCtx, cancel := context.WithCancel(s.ctx)
	worker := &worker{
		id:     id,
		ctx:    workerCtx,
		cancel: cancel,
	}
	s.workers[id] = worker

	s.workersWg.Add(1)
	go s.worker(worker)

	s.metrics.IncWorkersActive()
	log.Debug().Int("worker", id).Msg("Worker started")
}

func (s *LogDaemonService) stopWorker(id int) {
	if id >= len(s.workers) || s.workers[id] == nil {
		return
	}

	s.workers[id].cancel()
	s.workers[id] = nil

	s.metrics.DecWorkersActive()
	log.Debug().Int("worker", id).Msg("Worker stopped")
}

func (s *LogDaemonService) worker(worker *worker) {
	defer s.workersWg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Int("worker", worker.id).Any("panic", r).Msg("Worker panicked")
		}
	}()

	for {
		select {
		case filePath, ok := <-s.fileQueue:
			if !ok {
				return
			}
			s.metrics.DecAmountQueueFiles()
			s.metrics.IncWorkersBusy()
			s.processFile(worker.ctx, filePath)
			s.metrics.DecWorkersBusy()

		case <-worker.ctx.Done():
			return
		}
	}
}

func (s *LogDaemonService) processFile(ctx context.Context, filePath string) {
	defer s.metrics.IncFilesProcessed()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("file", filePath).Any("panic", r).Msg("File processing panicked")
			s.metrics.IncFilesFailed()
		}
	}()

	t, err := tail.TailFile(filePath, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Poll:     true,
		Location: &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:   tail.DiscardingLogger,
	})
	if err != nil {
		log.Error().Err(err).Str("file", filePath).Msg("Failed to tail file")
		s.metrics.IncFilesFailed()
		return
	}
	defer t.Cleanup()

	checkTicker := time.NewTicker(1 * time.Second)
	defer checkTicker.Stop()

	lastActivity := time.Now()

	for {
		select {
		case line := <-t.Lines:
			if line == nil {
				continue
			}
			if line.Err != nil {
				log.Warn().Err(line.Err).Str("file", filePath).Msg("Error reading line")
				continue
			}

			s.batchProcessor.AddEvent(s.parseLine(line.Text, filePath))
			lastActivity = time.Now()

		case <-checkTicker.C:
			// waking up from blocking line reading to check context status and idle timeout
			if s.config.FileIdleTimeout > 0 && time.Since(lastActivity) > s.config.FileIdleTimeout {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// parseLine turns one line of a tailed file into a LogEvent. Structured
// JSON lines keep their level, template and properties; anything else is
// shipped as a plain informational message. Source metadata is merged into
// the event properties either way.
func (s *LogDaemonService) parseLine(text, filePath string) logging.LogEvent {
	event := logging.LogEvent{
		Timestamp:       time.Now(),
		Level:           "Information",
		RenderedMessage: text,
		Properties:      map[string]any{},
	}

	var record lineRecord
	if err := json.Unmarshal([]byte(text), &record); err == nil && record.Message != "" {
		event.Level = record.Level
		if event.Level == "" {
			event.Level = "Information"
		}
		event.RenderedMessage = record.Message
		event.MessageTemplate = record.MessageTemplate
		event.Exception = record.Exception
		if !record.Timestamp.IsZero() {
			event.Timestamp = record.Timestamp
		}
		for k, v := range record.Properties {
			event.Properties[k] = v
		}
	}

	for k, v := range s.sourceProperties(filePath) {
		event.Properties[k] = v
	}

	return event
}

func (s *LogDaemonService) scanner() {
	defer s.subServicesWg.Done()

	ticker := time.NewTicker(s.config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.scanFiles()

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *LogDaemonService) scanFiles() {
	files, err := s.discoverLogFiles()
	if err != nil {
		log.Error().Err(err).Msg("Error discovering log files")
		return
	}

	for _, file := range files {
		if _, ok := s.seenFiles[file]; !ok {
			s.metrics.IncFilesDiscovered()
			s.seenFiles[file] = struct{}{}
		}
		select {
		case s.fileQueue <- file:
			s.metrics.IncAmountQueueFiles()
		case <-s.ctx.Done():
			return

		default:
			log.Warn().
				Int("queued", len(s.fileQueue)).
				Int("capacity", cap(s.fileQueue)).
				Str("file", file).
				Msg("File queue full, skipping")
		}
	}
}

func (s *LogDaemonService) monitorAndScale() {
	defer s.subServicesWg.Done()

	ticker := time.NewTicker(s.config.ScaleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.adjustWorkers()

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *LogDaemonService) adjustWorkers() {
	metrics := s.metrics.GetMetricsStamp()

	if s.currentWorkers >= s.maxWorkers && s.currentWorkers <= s.minWorkers {
		return
	}

	queueUsage := metrics.GetQueueUsage()
	workerUtilization := 0.0
	if s.currentWorkers > 0 {
		workerUtilization = float64(metrics.WorkersBusy) / float64(s.currentWorkers)
	}

	if queueUsage > s.config.ScaleUpThreshold &&
		workerUtilization > s.config.ScaleUpThreshold &&
		s.currentWorkers < s.maxWorkers {
		s.scaleUp()
	} else if queueUsage < s.config.ScaleDownThreshold &&
		workerUtilization < s.config.ScaleDownThreshold &&
		s.currentWorkers > s.minWorkers {
		s.scaleDown()
	}
}

func (s *LogDaemonService) scaleUp() {
	s.scaleMutex.Lock()
	defer s.scaleMutex.Unlock()

	if s.currentWorkers >= s.maxWorkers {
		return
	}

	newWorkerID := s.currentWorkers
	s.currentWorkers++

	s.startWorker(newWorkerID)
	s.metrics.IncScaleUpOperations()

	log.Info().
		Int("workers", s.currentWorkers).
		Int("queue_usage_pct", int(s.metrics.GetQueueUsage()*100)).
		Msg("Scaled up")
}

func (s *LogDaemonService) scaleDown() {
	s.scaleMutex.Lock()
	defer s.scaleMutex.Unlock()

	if s.currentWorkers <= s.minWorkers {
		return
	}

	workerToStop := s.currentWorkers - 1
	s.currentWorkers--

	s.stopWorker(workerToStop)
	s.metrics.IncScaleDownOperations()

	log.Info().
		Int("workers", s.currentWorkers).
		Int("queue_usage_pct", int(s.metrics.GetQueueUsage()*100)).
		Msg("Scaled down")
}

func (s *LogDaemonService) metricsReporter() {
	defer s.subServicesWg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics := s.metrics.GetMetricsStamp()
			queueUsage := s.metrics.GetQueueUsage()

			log.Info().
				Int("workers_active", metrics.WorkersActive).
				Int("max_workers", s.maxWorkers).
				Int("workers_busy", metrics.WorkersBusy).
				Int("queued", metrics.QueuedFiles).
				Int("queue_capacity", s.config.FileQueueSize).
				Int("queue_usage_pct", int(queueUsage*100)).
				Int("files_processed", metrics.FilesProcessed).
				Int("files_discovered", metrics.FilesDiscovered).
				Int("scale_up", metrics.ScaleUpOperations).
				Int("scale_down", metrics.ScaleDownOperations).
				Msg("Source metrics")

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *LogDaemonService) discoverLogFiles() ([]string, error) {
	var logFiles []string

	err := filepath.Walk(s.config.LogRootPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Error accessing path")
			return nil
		}

		if !info.IsDir() && strings.HasSuffix(info.Name(), ".log") {
			logFiles = append(logFiles, path)
		}
		return nil
	})

	return logFiles, err
}

// sourceProperties records where an event came from so the workspace can
// filter by host and file.
func (s *LogDaemonService) sourceProperties(filePath string) map[string]any {
	host, _ := os.Hostname()
	return map[string]any{
		"SourceHost": host,
		"SourceFile": filepath.Base(filePath),
		"SourcePath": filePath,
	}
}
