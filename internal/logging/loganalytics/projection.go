package loganalytics

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	json "github.com/goccy/go-json"

	"github.com/avolkov/loganalytics-agent/internal/logging"
)

// NamingStrategy controls how event property names appear in the flattened
// JSON sent to the workspace.
type NamingStrategy int

const (
	NamingDefault NamingStrategy = iota
	NamingCamelCase
	NamingLowerCase
)

func ParseNamingStrategy(s string) (NamingStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return NamingDefault, nil
	case "camelcase":
		return NamingCamelCase, nil
	case "lowercase":
		return NamingLowerCase, nil
	default:
		return NamingDefault, fmt.Errorf("unknown naming strategy %q", s)
	}
}

func (n NamingStrategy) apply(name string) string {
	switch n {
	case NamingCamelCase:
		if name == "" {
			return name
		}
		r := []rune(name)
		r[0] = unicode.ToLower(r[0])
		return string(r)
	case NamingLowerCase:
		return strings.ToLower(name)
	default:
		return name
	}
}

// projector turns a structured LogEvent into the flat object the Data
// Collector API ingests: fixed fields first, then one field per property.
type projector struct {
	naming NamingStrategy
	useUTC bool
}

func (p projector) flatten(e logging.LogEvent) map[string]any {
	flat := make(map[string]any, len(e.Properties)+5)

	for k, v := range e.Properties {
		flat[p.naming.apply(k)] = v
	}

	ts := e.Timestamp
	if p.useUTC {
		ts = ts.UTC()
	}
	flat["TimeGenerated"] = ts.Format(time.RFC3339Nano)
	flat["Level"] = e.Level
	flat["Message"] = e.RenderedMessage
	if e.MessageTemplate != "" {
		flat["MessageTemplate"] = e.MessageTemplate
	}
	if e.Exception != "" {
		flat["Exception"] = e.Exception
	}

	return flat
}

func (p projector) serialize(e logging.LogEvent) (string, error) {
	b, err := json.Marshal(p.flatten(e))
	if err != nil {
		return "", fmt.Errorf("failed to serialize event: %w", err)
	}
	return string(b), nil
}
