package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/lni/dragonboat/v4/logger"
)

// Logger is the package logger, formatted by the factory installed with
// common.InitLoggers
var Logger = logger.GetLogger("codec")

// Marshal encodes root into a new single-graph stream
func Marshal(reg *Registry, root Serializable) ([]byte, error) {
	var buf bytes.Buffer
	if err := NewEncoder(&buf, reg).Encode(root); err != nil {
		return nil, err
	}
	graphSize.Update(float64(buf.Len()))
	return buf.Bytes(), nil
}

// Unmarshal decodes the single graph in data. Trailing records are an error.
func Unmarshal(reg *Registry, data []byte, filter FilterPolicy) (Serializable, error) {
	dec := NewDecoder(bytes.NewReader(data), reg, filter)
	root, err := dec.Decode()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &DecodeError{Err: corrupt("empty stream"), Handle: NoHandle}
		}
		return nil, err
	}
	if _, err := dec.DecodeValue(); !errors.Is(err, io.EOF) {
		if err == nil {
			err = &DecodeError{Err: corrupt("trailing data after root"), Offset: dec.Offset(), Handle: NoHandle}
		}
		return nil, err
	}
	return root, nil
}

// DeepCopy copies the graph reachable from root by encoding and decoding it.
// Shared references and cycles are preserved; substitution hooks run as they
// would for a real stream.
func DeepCopy[T Serializable](reg *Registry, root T) (T, error) {
	var zero T
	data, err := Marshal(reg, root)
	if err != nil {
		return zero, err
	}
	obj, err := Unmarshal(reg, data, AllowAll())
	if err != nil {
		return zero, err
	}
	if obj == nil {
		return zero, nil
	}
	copied, ok := obj.(T)
	if !ok {
		return zero, fmt.Errorf("%w: copy of %T decoded as %T", ErrInvalidObjectState, root, obj)
	}
	return copied, nil
}
