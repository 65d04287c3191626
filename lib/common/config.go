package common

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/objgraph/lib/codec"
)

// --------------------------------------------------------------------------
// Codec session configuration
// --------------------------------------------------------------------------

// CodecConfig holds the settings of one CLI invocation
type CodecConfig struct {
	// Filter is the decode filter in ParseFilter syntax
	Filter string
	// Compression of stream files (none, lz4, zstd)
	Compression string
	// Format of dumps (text, json, cbor, msgpack, gob)
	Format string
	// LogLevel of all loggers
	LogLevel string
	// Metrics prints the codec metrics after the command
	Metrics bool
}

// FilterPolicy parses the configured filter
func (c *CodecConfig) FilterPolicy() (codec.FilterPolicy, error) {
	p, err := codec.ParseFilter(c.Filter)
	if err != nil {
		return codec.FilterPolicy{}, fmt.Errorf("invalid filter: %w", err)
	}
	return p, nil
}

// String returns a formatted string representation of the configuration
func (c *CodecConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Decoding")
	addField("Filter", c.Filter)
	if p, err := codec.ParseFilter(c.Filter); err == nil {
		addField("Max Depth", limit(uint64(p.MaxDepth)))
		addField("Max Handles", limit(uint64(p.MaxHandles)))
		addField("Max Bytes", limit(p.MaxBytes))
	}

	addSection("Streams")
	addField("Compression", c.Compression)
	addField("Dump Format", c.Format)

	addSection("Logging")
	addField("Log Level", c.LogLevel)
	addField("Print Metrics", fmt.Sprintf("%t", c.Metrics))

	return sb.String()
}

func limit(v uint64) string {
	if v == 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d", v)
}
