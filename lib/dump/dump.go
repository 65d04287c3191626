package dump

import (
	"encoding/hex"
	"errors"
	"io"

	"github.com/ValentinKolb/objgraph/lib/codec"
	"github.com/ValentinKolb/objgraph/lib/util"
	dlog "github.com/lni/dragonboat/v4/logger"
	"github.com/zeebo/blake3"
)

var logger = dlog.GetLogger("dump")

// fingerprintKey separates stream fingerprints from other BLAKE3 uses
var fingerprintKey = [32]byte{
	'o', 'b', 'j', 'g', 'r', 'a', 'p', 'h', '.', 's', 't', 'r', 'e', 'a', 'm',
}

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Dump is the structural description of one stream
type Dump struct {
	FormatVersion uint16    `json:"format_version"`
	Size          int64     `json:"size"`
	Fingerprint   string    `json:"fingerprint"`
	Records       []*Record `json:"records"`
	Stats         Stats     `json:"stats"`
	// Error is set if the stream could not be read to the end. Records holds
	// everything before the failure.
	Error string `json:"error,omitempty"`
}

// Record is one record of the stream. Handle is -1 for records without a
// handle.
type Record struct {
	Offset  int64    `json:"offset"`
	Kind    string   `json:"kind"`
	Type    string   `json:"type,omitempty"`
	TypeTag uint32   `json:"type_tag,omitempty"`
	Version uint32   `json:"version,omitempty"`
	Handle  int64    `json:"handle"`
	Value   string   `json:"value,omitempty"`
	Fields  []*Field `json:"fields,omitempty"`
}

// Field is one field of an object record. Record is set for reference
// fields.
type Field struct {
	Name   string  `json:"name"`
	Kind   string  `json:"kind"`
	Value  string  `json:"value,omitempty"`
	Record *Record `json:"record,omitempty"`
}

// Stats summarizes a stream
type Stats struct {
	Roots      int            `json:"roots"`
	Objects    int            `json:"objects"`
	BackRefs   int            `json:"backrefs"`
	Nulls      int            `json:"nulls"`
	Resets     int            `json:"resets"`
	Primitives int            `json:"primitives"`
	Untracked  int            `json:"untracked"`
	MaxDepth   int            `json:"max_depth"`
	Types      map[string]int `json:"types"`

	// sizes of the top-level records in bytes
	AvgRootSize    int `json:"avg_root_size"`
	MedianRootSize int `json:"median_root_size"`
	P99RootSize    int `json:"p99_root_size"`
}

// --------------------------------------------------------------------------
// Building
// --------------------------------------------------------------------------

// Option configures Build
type Option func(*builder)

// WithRegistry resolves type tags to names with reg
func WithRegistry(reg *codec.Registry) Option {
	return func(b *builder) {
		b.reg = reg
	}
}

type builder struct {
	reg   *codec.Registry
	stats Stats
	sizes *util.SizeHistogram
}

// Build reads the whole stream from r. The depth and byte limits of limits
// apply. A broken stream is not an error: the dump records the failure and
// everything read before it. Only read errors of r itself are returned.
func Build(r io.Reader, limits codec.FilterPolicy, opts ...Option) (*Dump, error) {
	b := &builder{sizes: util.NewSizeHistogram()}
	b.stats.Types = make(map[string]int)
	for _, opt := range opts {
		opt(b)
	}

	hasher, err := blake3.NewKeyed(fingerprintKey[:])
	if err != nil {
		return nil, err
	}
	src := &sourceReader{r: r}
	sc := codec.NewScanner(io.TeeReader(src, hasher), limits)

	d := &Dump{FormatVersion: codec.FormatVersion}
	for {
		rec, err := sc.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if src.err != nil {
				return nil, src.err
			}
			logger.Infof("stream ends with error at offset %d: %v", sc.Offset(), err)
			d.Error = err.Error()
			break
		}
		b.sizes.AddSample(int(sc.Offset() - rec.Offset))
		d.Records = append(d.Records, b.record(rec, 0))
	}

	d.Size = sc.Offset()
	d.Fingerprint = hex.EncodeToString(hasher.Sum(nil))
	b.stats.AvgRootSize = b.sizes.AverageSize()
	b.stats.MedianRootSize = b.sizes.Median()
	b.stats.P99RootSize = b.sizes.Percentile(99)
	d.Stats = b.stats
	return d, nil
}

// sourceReader remembers read errors of the underlying reader, so they can
// be told apart from broken stream content
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		s.err = err
	}
	return n, err
}

// record converts a raw record and updates the statistics
func (b *builder) record(raw *codec.RawRecord, depth int) *Record {
	rec := &Record{Offset: raw.Offset, Kind: raw.Tag.String(), Handle: -1}
	if depth == 0 && raw.Tag != codec.TagReset {
		b.stats.Roots++
	}

	switch raw.Tag {
	case codec.TagNull:
		b.stats.Nulls++
	case codec.TagReset:
		b.stats.Resets++
	case codec.TagPrimitive:
		b.stats.Primitives++
		rec.Value = raw.Value.String()
	case codec.TagBackRef:
		b.stats.BackRefs++
		rec.Handle = int64(raw.Handle)
	case codec.TagObject:
		b.stats.Objects++
		b.stats.MaxDepth = max(b.stats.MaxDepth, depth+1)
		rec.TypeTag = uint32(raw.TypeTag)
		rec.Type = b.typeName(raw.TypeTag)
		rec.Version = raw.Version
		b.stats.Types[rec.Type]++
		if raw.Handle == codec.NoHandle {
			b.stats.Untracked++
		} else {
			rec.Handle = int64(raw.Handle)
		}
		for _, f := range raw.Fields {
			field := &Field{Name: f.Name, Kind: f.Kind.String()}
			if f.Record != nil {
				field.Record = b.record(f.Record, depth+1)
			} else {
				field.Value = f.Value.String()
			}
			rec.Fields = append(rec.Fields, field)
		}
	}
	return rec
}

func (b *builder) typeName(tag codec.TypeID) string {
	if b.reg != nil {
		if name, ok := b.reg.Name(tag); ok {
			return name
		}
	}
	return tag.String()
}
