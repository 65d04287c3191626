package dump

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// IDumpSerializer is the interface for all dump renderers
type IDumpSerializer interface {
	// Serialize renders a dump
	Serialize(d *Dump) ([]byte, error)
	// Deserialize reads a dump rendered by Serialize
	Deserialize(b []byte, d *Dump) error
}

// ErrNotReadable is returned by serializers whose output cannot be read back
var ErrNotReadable = errors.New("format cannot be deserialized")

// Formats lists the names accepted by NewSerializer
var Formats = []string{"text", "json", "cbor", "msgpack", "gob"}

// NewSerializer returns the serializer for a format name
func NewSerializer(format string) (IDumpSerializer, error) {
	switch format {
	case "text":
		return NewTextSerializer(), nil
	case "json":
		return NewJSONSerializer(), nil
	case "cbor":
		return NewCBORSerializer(), nil
	case "msgpack":
		return NewMsgpackSerializer(), nil
	case "gob":
		return NewGOBSerializer(), nil
	default:
		return nil, fmt.Errorf("unknown dump format %q (available: %v)", format, Formats)
	}
}

// --------------------------------------------------------------------------
// JSON
// --------------------------------------------------------------------------

// NewJSONSerializer creates a serializer producing indented JSON
func NewJSONSerializer() IDumpSerializer {
	return &jsonSerializerImpl{}
}

type jsonSerializerImpl struct {
}

func (j jsonSerializerImpl) Serialize(d *Dump) ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

func (j jsonSerializerImpl) Deserialize(b []byte, d *Dump) error {
	return json.Unmarshal(b, d)
}

// --------------------------------------------------------------------------
// CBOR
// --------------------------------------------------------------------------

// cborEncMode uses Core Deterministic Encoding, so equal dumps produce
// identical bytes
var cborEncMode cbor.EncMode

func init() {
	var err error
	cborEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("dump: CBOR encoder initialization failed: " + err.Error())
	}
}

// NewCBORSerializer creates a serializer using deterministic CBOR
func NewCBORSerializer() IDumpSerializer {
	return &cborSerializerImpl{}
}

type cborSerializerImpl struct {
}

func (c cborSerializerImpl) Serialize(d *Dump) ([]byte, error) {
	return cborEncMode.Marshal(d)
}

func (c cborSerializerImpl) Deserialize(b []byte, d *Dump) error {
	return cbor.Unmarshal(b, d)
}

// --------------------------------------------------------------------------
// MessagePack
// --------------------------------------------------------------------------

// NewMsgpackSerializer creates a serializer using MessagePack. Field names
// follow the json tags.
func NewMsgpackSerializer() IDumpSerializer {
	return &msgpackSerializerImpl{}
}

type msgpackSerializerImpl struct {
}

func (m msgpackSerializerImpl) Serialize(d *Dump) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m msgpackSerializerImpl) Deserialize(b []byte, d *Dump) error {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.SetCustomStructTag("json")
	return dec.Decode(d)
}

// --------------------------------------------------------------------------
// gob
// --------------------------------------------------------------------------

// NewGOBSerializer creates a serializer using Go's gob format
func NewGOBSerializer() IDumpSerializer {
	return &gobSerializerImpl{}
}

type gobSerializerImpl struct {
}

func (g gobSerializerImpl) Serialize(d *Dump) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g gobSerializerImpl) Deserialize(b []byte, d *Dump) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(d)
}
