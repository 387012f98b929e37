package loganalytics

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avolkov/loganalytics-agent/internal/logging"
)

const (
	// OfferingCommercial targets the public Azure cloud, OfferingGovernment
	// the sovereign US cloud. They differ only in the endpoint suffix.
	OfferingCommercial = "commercial"
	OfferingGovernment = "government"

	defaultMaxMessageSize = 30_000_000
)

type Config struct {
	WorkspaceID    string
	SharedKey      string // base64
	Offering       string
	LogType        string
	MaxMessageSize int
	NamingStrategy string
	UseUTC         bool
}

// Sink ships batches of log events to an Azure Log Analytics workspace.
// One WriteBatch call packs the batch into chunks and uploads them strictly
// in order, stopping at the first failure.
type Sink struct {
	ctx       context.Context
	workspace string
	sharedKey string
	endpoint  string
	logType   string
	packer    *Packer
	channel   *UploadChannel
	onDrop    func(logging.LogEvent)
}

func NewSink(ctx context.Context, config Config, channel *UploadChannel) (*Sink, error) {
	if config.WorkspaceID == "" {
		return nil, fmt.Errorf("workspace id is required")
	}
	if _, err := base64.StdEncoding.DecodeString(config.SharedKey); err != nil {
		return nil, fmt.Errorf("shared key is not valid base64: %w", err)
	}

	var suffix string
	switch config.Offering {
	case "", OfferingCommercial:
		suffix = ".com"
	case OfferingGovernment:
		suffix = ".us"
	default:
		return nil, fmt.Errorf("unknown offering %q", config.Offering)
	}

	naming, err := ParseNamingStrategy(config.NamingStrategy)
	if err != nil {
		return nil, err
	}

	maxSize := config.MaxMessageSize
	if maxSize <= 0 {
		maxSize = defaultMaxMessageSize
	}

	logType := config.LogType
	if logType == "" {
		logType = "DiagnosticsLog"
	}

	sink := &Sink{
		ctx:       ctx,
		workspace: config.WorkspaceID,
		sharedKey: config.SharedKey,
		endpoint: fmt.Sprintf(
			"https://%s.ods.opinsights.azure%s/api/logs?api-version=2016-04-01",
			config.WorkspaceID, suffix),
		logType: logType,
		channel: channel,
	}

	p := projector{naming: naming, useUTC: config.UseUTC}
	sink.packer = NewPacker(maxSize, p.serialize, func(event logging.LogEvent) {
		if sink.onDrop != nil {
			sink.onDrop(event)
		}
	})

	return sink, nil
}

// OnDrop registers a callback invoked for every event the packer discards.
func (s *Sink) OnDrop(fn func(logging.LogEvent)) {
	s.onDrop = fn
}

// Endpoint returns the fixed per-workspace ingestion URL.
func (s *Sink) Endpoint() string {
	return s.endpoint
}

// WriteBatch packs the events into chunks and uploads them in order.
// An empty batch succeeds without touching the network. The first failed
// chunk aborts the batch; remaining chunks are not attempted. The error
// return is reserved for signing failures, which no retry can fix.
func (s *Sink) WriteBatch(events []logging.LogEvent) (bool, error) {
	chunks := s.packer.Pack(events)

	for _, chunk := range chunks {
		body := chunk.Payload()
		date := time.Now().UTC().Format(http.TimeFormat)

		// The signature covers the true UTF-8 byte count of the body, not
		// the heuristic size used while packing.
		signature, err := BuildSignature(len(body), date, s.sharedKey)
		if err != nil {
			return false, err
		}
		authHeader := "SharedKey " + s.workspace + ":" + signature

		if !s.channel.Upload(s.ctx, s.endpoint, body, authHeader, date, s.logType) {
			return false, nil
		}

		log.Debug().Int("events", chunk.Count()).Msg("Uploaded chunk")
	}

	return true, nil
}
