package loganalytics

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/avolkov/loganalytics-agent/internal/logging"
)

// Chunk is one upload-worth of serialized events, bounded by the configured
// maximum message size and finalized as a single JSON array payload.
type Chunk struct {
	serialized []string
	size       int
}

func (c *Chunk) Count() int {
	return len(c.serialized)
}

// Payload finalizes the chunk as JSON array text.
func (c *Chunk) Payload() []byte {
	return []byte("[" + strings.Join(c.serialized, ",") + "]")
}

// bracketSize and delimiterSize account for the array wrapper and the comma
// between events, in heuristic bytes.
const (
	charSize      = 2
	bracketSize   = 2 * charSize
	delimiterSize = charSize
)

// eventSize reports the pre-send size of a serialized event, two bytes per
// UTF-16 code unit. The upstream wire contract sizes chunks this way even
// though the body is sent as UTF-8; the true UTF-8 byte count is computed
// separately at send time and the two must not be unified.
func eventSize(s string) int {
	units := 0
	for _, r := range s {
		units++
		if r > 0xFFFF {
			units++
		}
	}
	return units * charSize
}

// Packer splits an ordered batch of events into size-bounded chunks.
// Events that alone exceed the limit are dropped, never split.
type Packer struct {
	maxBytes  int
	serialize func(logging.LogEvent) (string, error)
	onDrop    func(logging.LogEvent)
}

func NewPacker(maxBytes int, serialize func(logging.LogEvent) (string, error), onDrop func(logging.LogEvent)) *Packer {
	return &Packer{
		maxBytes:  maxBytes,
		serialize: serialize,
		onDrop:    onDrop,
	}
}

func (p *Packer) Pack(events []logging.LogEvent) []*Chunk {
	var chunks []*Chunk
	current := &Chunk{size: bracketSize}

	for _, event := range events {
		text, err := p.serialize(event)
		if err != nil {
			log.Warn().Err(err).Msg("Dropping unserializable event")
			p.drop(event)
			continue
		}

		size := eventSize(text)
		if size >= p.maxBytes {
			log.Warn().
				Int("size", size).
				Int("limit", p.maxBytes).
				Msg("Dropping event larger than the maximum message size")
			p.drop(event)
			continue
		}

		added := size
		if len(current.serialized) > 0 {
			added += delimiterSize
		}
		if current.size+added > p.maxBytes && len(current.serialized) > 0 {
			chunks = append(chunks, current)
			current = &Chunk{size: bracketSize}
			added = size
		}

		current.serialized = append(current.serialized, text)
		current.size += added
	}

	if len(current.serialized) > 0 {
		chunks = append(chunks, current)
	}

	return chunks
}

func (p *Packer) drop(event logging.LogEvent) {
	if p.onDrop != nil {
		p.onDrop(event)
	}
}
