package codec_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/objgraph/lib/codec"
	"github.com/ValentinKolb/objgraph/lib/demo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Test helpers
// --------------------------------------------------------------------------

var boxType = codec.TypeIDOf("test.Box")

// box holds an arbitrary reference, so tests can nest any type
type box struct {
	Value int64
	Child codec.Serializable
}

func (b *box) TypeID() codec.TypeID { return boxType }

func (b *box) WriteFields(f *codec.Fields) error {
	f.PutInt("value", b.Value)
	f.PutRef("child", b.Child)
	return nil
}

func (b *box) ReadFields(f *codec.Fields) error {
	b.Value = f.Int("value")
	codec.ReadRef(f, "child", &b.Child)
	return f.Err()
}

// bogus is never registered
type bogus struct{}

func (b *bogus) TypeID() codec.TypeID { return 0xDEAD }

func (b *bogus) WriteFields(f *codec.Fields) error { return nil }

func (b *bogus) ReadFields(f *codec.Fields) error { return nil }

func newRegistry(t testing.TB) *codec.Registry {
	t.Helper()
	reg := codec.NewRegistry()
	require.NoError(t, demo.Register(reg))
	require.NoError(t, reg.RegisterType(codec.TypeDescriptor{
		Name:    "test.Box",
		Version: 1,
		Fields: []codec.FieldSchema{
			{Name: "value", Kind: codec.KindInt},
			{Name: "child", Kind: codec.KindRef},
		},
		New: func() codec.Serializable { return &box{} },
	}))
	reg.Seal()
	return reg
}

func defaultFilter(t testing.TB) codec.FilterPolicy {
	t.Helper()
	p, err := codec.ParseFilter(demo.DefaultFilter + ";test.*")
	require.NoError(t, err)
	return p
}

func mustFilter(t testing.TB, s string) codec.FilterPolicy {
	t.Helper()
	p, err := codec.ParseFilter(s)
	require.NoError(t, err)
	return p
}

// roundTrip encodes root and decodes it again with the default filter
func roundTrip[T codec.Serializable](t *testing.T, reg *codec.Registry, root T) T {
	t.Helper()
	data, err := codec.Marshal(reg, root)
	require.NoError(t, err)
	obj, err := codec.Unmarshal(reg, data, defaultFilter(t))
	require.NoError(t, err)
	got, ok := obj.(T)
	require.Truef(t, ok, "decoded %T", obj)
	return got
}

// countRecords counts object records and back-references in a stream,
// including nested ones
func countRecords(t *testing.T, data []byte) (objects, backRefs, resets int) {
	t.Helper()
	var walk func(r *codec.RawRecord)
	walk = func(r *codec.RawRecord) {
		switch r.Tag {
		case codec.TagObject:
			objects++
		case codec.TagBackRef:
			backRefs++
		case codec.TagReset:
			resets++
		}
		for _, f := range r.Fields {
			if f.Record != nil {
				walk(f.Record)
			}
		}
	}
	sc := codec.NewScanner(bytes.NewReader(data), codec.FilterPolicy{})
	for {
		rec, err := sc.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		require.NoError(t, err)
		walk(rec)
	}
}

// stream builds raw (possibly hostile) streams
type stream struct {
	bytes.Buffer
}

func newStream() *stream {
	s := &stream{}
	s.u32(codec.StreamMagic)
	s.u16(codec.FormatVersion)
	return s
}

func (s *stream) u8(v uint8) *stream { s.WriteByte(v); return s }

func (s *stream) u16(v uint16) *stream {
	s.Write(binary.BigEndian.AppendUint16(nil, v))
	return s
}

func (s *stream) u32(v uint32) *stream {
	s.Write(binary.BigEndian.AppendUint32(nil, v))
	return s
}

func (s *stream) object(tag codec.TypeID, version uint32, h codec.Handle, fields uint16) *stream {
	return s.u8(uint8(codec.TagObject)).u32(uint32(tag)).u32(version).u32(uint32(h)).u16(fields)
}

func (s *stream) field(name string, kind codec.Kind) *stream {
	s.u16(uint16(len(name)))
	s.WriteString(name)
	return s.u8(uint8(kind))
}

func (s *stream) str(v string) *stream {
	s.u32(uint32(len(v)))
	s.WriteString(v)
	return s
}

func (s *stream) int(v int64) *stream {
	s.Write(binary.BigEndian.AppendUint64(nil, uint64(v)))
	return s
}

func (s *stream) backRef(h codec.Handle) *stream {
	return s.u8(uint8(codec.TagBackRef)).u32(uint32(h))
}

func (s *stream) null() *stream {
	return s.u8(uint8(codec.TagNull))
}

func decodeErr(t *testing.T, reg *codec.Registry, data []byte, filter codec.FilterPolicy) error {
	t.Helper()
	obj, err := codec.Unmarshal(reg, data, filter)
	require.Error(t, err)
	assert.Nil(t, obj, "no partial graph on error")
	var de *codec.DecodeError
	assert.Truef(t, errors.As(err, &de), "want *DecodeError, got %T", err)
	return err
}

// --------------------------------------------------------------------------
// Round trip and identity
// --------------------------------------------------------------------------

func TestRoundTripPerson(t *testing.T) {
	reg := newRegistry(t)
	in := &demo.Person{ID: 7, Name: "Ada Lovelace", Email: "ada@example.com"}

	got := roundTrip(t, reg, in)

	assert.Equal(t, in, got)
	assert.NotSame(t, in, got)
}

func TestRoundTripPrimitives(t *testing.T) {
	reg := newRegistry(t)
	values := []codec.Value{
		codec.Int(-42),
		codec.Float(3.25),
		codec.Bool(true),
		codec.Bytes([]byte{0, 1, 2}),
		codec.String("grüße"),
	}

	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, reg)
	for _, v := range values {
		require.NoError(t, enc.EncodeValue(v))
	}

	dec := codec.NewDecoder(&buf, reg, defaultFilter(t))
	for _, want := range values {
		got, err := dec.DecodeValue()
		require.NoError(t, err)
		assert.Equal(t, want.Kind, got.Kind)
		assert.Equal(t, want.String(), got.String())
	}
	_, err := dec.DecodeValue()
	assert.ErrorIs(t, err, io.EOF)
}

func TestNullRoot(t *testing.T) {
	reg := newRegistry(t)
	var buf bytes.Buffer
	require.NoError(t, codec.NewEncoder(&buf, reg).Encode(nil))

	dec := codec.NewDecoder(&buf, reg, defaultFilter(t))
	obj, err := dec.Decode()
	require.NoError(t, err)
	assert.Nil(t, obj)
	_, err = dec.Decode()
	assert.ErrorIs(t, err, io.EOF)
}

func TestEmptyStream(t *testing.T) {
	reg := newRegistry(t)
	_, err := codec.NewDecoder(bytes.NewReader(nil), reg, defaultFilter(t)).Decode()
	assert.ErrorIs(t, err, io.EOF)

	_, err = codec.Unmarshal(reg, nil, defaultFilter(t))
	assert.ErrorIs(t, err, codec.ErrStreamCorrupted)
}

func TestSharedReferences(t *testing.T) {
	reg := newRegistry(t)

	edsger := roundTrip(t, reg, demo.Team())

	alan := edsger.Manager
	require.NotNil(t, alan)
	grace := alan.Manager
	require.NotNil(t, grace)
	assert.Equal(t, "Grace", grace.Name)

	dept := edsger.Department
	require.NotNil(t, dept)
	assert.Same(t, dept, alan.Department)
	assert.Same(t, dept, grace.Department)
	assert.Same(t, grace, dept.Head)
}

func TestSelfCycle(t *testing.T) {
	reg := newRegistry(t)
	n := &demo.Node{Value: 42}
	n.Next = n

	got := roundTrip(t, reg, n)

	assert.Equal(t, int64(42), got.Value)
	assert.Same(t, got, got.Next)
}

func TestThreeNodeCycle(t *testing.T) {
	reg := newRegistry(t)
	data, err := codec.Marshal(reg, demo.Ring(3))
	require.NoError(t, err)

	objects, backRefs, _ := countRecords(t, data)
	assert.Equal(t, 3, objects)
	assert.Equal(t, 1, backRefs)

	obj, err := codec.Unmarshal(reg, data, defaultFilter(t))
	require.NoError(t, err)
	a := obj.(*demo.Node)
	assert.Same(t, a, a.Next.Next.Next)
	assert.Equal(t, []int64{1, 2, 3}, []int64{a.Value, a.Next.Value, a.Next.Next.Value})
}

func TestEncodeDoesNotMutateSource(t *testing.T) {
	reg := newRegistry(t)
	ring := demo.Ring(3)
	second, third := ring.Next, ring.Next.Next

	_, err := codec.Marshal(reg, ring)
	require.NoError(t, err)

	assert.Same(t, second, ring.Next)
	assert.Same(t, third, ring.Next.Next)
	assert.Same(t, ring, third.Next)
}

// --------------------------------------------------------------------------
// Reset
// --------------------------------------------------------------------------

func TestResetSemantics(t *testing.T) {
	reg := newRegistry(t)
	n := &demo.Node{Value: 7}

	tests := []struct {
		name        string
		reset       bool
		wantObjects int
		wantBack    int
		wantSame    bool
	}{
		{name: "without reset", reset: false, wantObjects: 1, wantBack: 1, wantSame: true},
		{name: "with reset", reset: true, wantObjects: 2, wantBack: 0, wantSame: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			enc := codec.NewEncoder(&buf, reg)
			require.NoError(t, enc.Encode(n))
			if tt.reset {
				require.NoError(t, enc.Reset())
				assert.Equal(t, 0, enc.Handles())
			}
			require.NoError(t, enc.Encode(n))

			objects, backRefs, resets := countRecords(t, buf.Bytes())
			assert.Equal(t, tt.wantObjects, objects)
			assert.Equal(t, tt.wantBack, backRefs)
			assert.Equal(t, tt.reset, resets == 1)

			dec := codec.NewDecoder(&buf, reg, defaultFilter(t))
			first, err := dec.Decode()
			require.NoError(t, err)
			second, err := dec.Decode()
			require.NoError(t, err)
			assert.Equal(t, tt.wantSame, first == second)
			assert.Equal(t, int64(7), second.(*demo.Node).Value)
		})
	}
}

func TestBackReferenceAcrossRoots(t *testing.T) {
	reg := newRegistry(t)
	ring := demo.Ring(2)

	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, reg)
	require.NoError(t, enc.Encode(ring))
	require.NoError(t, enc.Encode(ring.Next))
	assert.Equal(t, 2, enc.Handles())

	dec := codec.NewDecoder(&buf, reg, defaultFilter(t))
	first, err := dec.Decode()
	require.NoError(t, err)
	second, err := dec.Decode()
	require.NoError(t, err)
	assert.Same(t, first.(*demo.Node).Next, second)
}

// --------------------------------------------------------------------------
// Substitution
// --------------------------------------------------------------------------

func TestSingletonResolvesToCanonicalInstance(t *testing.T) {
	reg := newRegistry(t)

	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, reg)
	require.NoError(t, enc.Encode(demo.Instance()))
	require.NoError(t, enc.Encode(demo.Instance()))
	require.NoError(t, enc.Encode(demo.SettingsFor("ops")))

	dec := codec.NewDecoder(&buf, reg, defaultFilter(t))
	for _, want := range []*demo.GlobalSettings{demo.Instance(), demo.Instance(), demo.SettingsFor("ops")} {
		got, err := dec.Decode()
		require.NoError(t, err)
		assert.Same(t, want, got)
	}
}

func TestResolvedObjectReplacesHandle(t *testing.T) {
	reg := newRegistry(t)
	inner := &box{Value: 2, Child: demo.Instance()}

	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, reg)
	require.NoError(t, enc.Encode(&box{Value: 1, Child: inner}))
	// written as a back-reference to the settings handle of the first root
	require.NoError(t, enc.Encode(demo.Instance()))

	dec := codec.NewDecoder(&buf, reg, defaultFilter(t))
	first, err := dec.Decode()
	require.NoError(t, err)
	second, err := dec.Decode()
	require.NoError(t, err)

	assert.Same(t, demo.Instance(), first.(*box).Child.(*box).Child)
	assert.Same(t, demo.Instance(), second)
}

func TestProxyRoundTrip(t *testing.T) {
	reg := newRegistry(t)
	p, err := demo.NewPeriod(10, 20)
	require.NoError(t, err)

	data, err := codec.Marshal(reg, p)
	require.NoError(t, err)

	// only the proxy is on the wire
	rec, err := codec.NewScanner(bytes.NewReader(data), codec.FilterPolicy{}).Next()
	require.NoError(t, err)
	assert.Equal(t, demo.PeriodProxyType, rec.TypeTag)

	obj, err := codec.Unmarshal(reg, data, defaultFilter(t))
	require.NoError(t, err)
	got, ok := obj.(*demo.Period)
	require.True(t, ok)
	assert.Equal(t, int64(10), got.Start())
	assert.Equal(t, int64(20), got.End())
}

func TestProxyOnlyTypeRejected(t *testing.T) {
	reg := newRegistry(t)
	forged := newStream().object(demo.PeriodType, 1, 0, 2).
		field("start", codec.KindInt).int(5).
		field("end", codec.KindInt).int(1)

	err := decodeErr(t, reg, forged.Bytes(), defaultFilter(t))
	assert.ErrorIs(t, err, codec.ErrProxyRequired)
}

func TestProxyValidatesState(t *testing.T) {
	reg := newRegistry(t)
	forged := newStream().object(demo.PeriodProxyType, 1, 0, 2).
		field("start", codec.KindInt).int(5).
		field("end", codec.KindInt).int(1)

	err := decodeErr(t, reg, forged.Bytes(), defaultFilter(t))
	assert.ErrorIs(t, err, codec.ErrInvalidObjectState)
}

func TestReplacementIsStablePerStream(t *testing.T) {
	reg := newRegistry(t)
	p, err := demo.NewPeriod(1, 2)
	require.NoError(t, err)

	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, reg)
	require.NoError(t, enc.Encode(p))
	require.NoError(t, enc.Encode(p))

	objects, backRefs, _ := countRecords(t, buf.Bytes())
	assert.Equal(t, 1, objects)
	assert.Equal(t, 1, backRefs)

	dec := codec.NewDecoder(&buf, reg, defaultFilter(t))
	first, err := dec.Decode()
	require.NoError(t, err)
	second, err := dec.Decode()
	require.NoError(t, err)
	assert.Same(t, first, second)
}

// --------------------------------------------------------------------------
// Versioning
// --------------------------------------------------------------------------

func TestPersonV1ReadAsV2(t *testing.T) {
	legacy, err := demo.NewLegacyRegistry()
	require.NoError(t, err)
	reg := newRegistry(t)

	data, err := codec.Marshal(legacy, &demo.PersonV1{ID: 1, FullName: "Ada Lovelace", Age: 36})
	require.NoError(t, err)

	var diags []codec.Diagnostic
	dec := codec.NewDecoder(bytes.NewReader(data), reg, defaultFilter(t),
		codec.WithDiagnostics(func(d codec.Diagnostic) { diags = append(diags, d) }))
	obj, err := dec.Decode()
	require.NoError(t, err)

	assert.Equal(t, &demo.Person{ID: 1, Name: "Ada Lovelace", Email: ""}, obj)
	require.Len(t, diags, 1)
	assert.Equal(t, "age", diags[0].Field)
	assert.Equal(t, demo.PersonName, diags[0].Type)
}

func TestNewerVersionUnsupported(t *testing.T) {
	reg := newRegistry(t)
	s := newStream().object(demo.NodeType, 9, 0, 1).
		field("value", codec.KindInt).int(1)

	err := decodeErr(t, reg, s.Bytes(), defaultFilter(t))
	assert.ErrorIs(t, err, codec.ErrUnsupportedVersion)
}

func TestMissingFieldTakesDefault(t *testing.T) {
	reg := newRegistry(t)
	s := newStream().object(demo.GlobalSettingsType, 1, 0, 1).
		field("theme", codec.KindString).str("dark")

	obj, err := codec.Unmarshal(reg, s.Bytes(), defaultFilter(t))
	require.NoError(t, err)
	// "profile" defaults to the default profile, so the canonical instance comes back
	assert.Same(t, demo.Instance(), obj)
}

// --------------------------------------------------------------------------
// Filter
// --------------------------------------------------------------------------

func TestFilterRejectsBeforeFieldParsing(t *testing.T) {
	reg := newRegistry(t)
	// a denied type tag followed by garbage: the filter must fire first
	s := newStream().u8(uint8(codec.TagObject)).u32(uint32(demo.SecretType)).u8(0xFF).u8(0xFF)

	err := decodeErr(t, reg, s.Bytes(), defaultFilter(t))
	assert.ErrorIs(t, err, codec.ErrFilteredType)
	assert.NotErrorIs(t, err, codec.ErrStreamCorrupted)

	var de *codec.DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, int64(codec.HeaderSize+1+4), de.Offset)
}

func TestFilterDeniesNestedType(t *testing.T) {
	reg := newRegistry(t)
	data, err := codec.Marshal(reg, &box{Child: &demo.Secret{Token: "s3cr3t"}})
	require.NoError(t, err)

	err = decodeErr(t, reg, data, defaultFilter(t))
	assert.ErrorIs(t, err, codec.ErrFilteredType)
	assert.NotContains(t, err.Error(), "s3cr3t")
}

func TestFilterDefaultDeny(t *testing.T) {
	reg := newRegistry(t)
	data, err := codec.Marshal(reg, &demo.Person{ID: 1})
	require.NoError(t, err)

	_, err = codec.Unmarshal(reg, data, codec.FilterPolicy{})
	assert.ErrorIs(t, err, codec.ErrFilteredType)

	_, err = codec.Unmarshal(reg, data, mustFilter(t, "demo.Node;#"+itoa(uint32(demo.PersonType))))
	assert.NoError(t, err)
}

func TestFilterLimits(t *testing.T) {
	reg := newRegistry(t)
	data, err := codec.Marshal(reg, demo.Ring(3))
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter string
		ok     bool
	}{
		{"depth within", "demo.*;maxdepth=3", true},
		{"depth exceeded", "demo.*;maxdepth=2", false},
		{"handles within", "demo.*;maxhandles=3", true},
		{"handles exceeded", "demo.*;maxhandles=2", false},
		{"bytes within", "demo.*;maxbytes=" + itoa(uint32(len(data))), true},
		{"bytes exceeded", "demo.*;maxbytes=10", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Unmarshal(reg, data, mustFilter(t, tt.filter))
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, codec.ErrFilterLimitExceeded)
		})
	}
}

func TestHandleLimitSpansRoots(t *testing.T) {
	reg := newRegistry(t)
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, reg)
	require.NoError(t, enc.Encode(&demo.Node{Value: 1}))
	require.NoError(t, enc.Reset())
	require.NoError(t, enc.Encode(&demo.Node{Value: 2}))

	dec := codec.NewDecoder(&buf, reg, mustFilter(t, "demo.*;maxhandles=1"))
	_, err := dec.Decode()
	require.NoError(t, err)
	_, err = dec.Decode()
	assert.ErrorIs(t, err, codec.ErrFilterLimitExceeded)
}

func TestForwardReferenceCountsAgainstHandleLimit(t *testing.T) {
	reg := newRegistry(t)
	s := newStream().object(demo.NodeType, 1, 0, 2).
		field("value", codec.KindInt).int(1).
		field("next", codec.KindRef).backRef(1 << 20)

	err := decodeErr(t, reg, s.Bytes(), defaultFilter(t))
	assert.ErrorIs(t, err, codec.ErrFilterLimitExceeded)

	// within the limit it is only broken because handle 1<<20 never comes
	err = decodeErr(t, reg, s.Bytes(), mustFilter(t, "demo.*"))
	assert.ErrorIs(t, err, codec.ErrStreamCorrupted)
}

// manyRoots writes n unrelated nodes as separate roots of one stream
func manyRoots(t testing.TB, reg *codec.Registry, n int) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, reg)
	for i := 0; i < n; i++ {
		require.NoError(t, enc.Encode(&demo.Node{Value: int64(i)}))
	}
	return buf.Bytes()
}

func TestManyRootsWithoutReset(t *testing.T) {
	reg := newRegistry(t)
	const n = 50000
	data := manyRoots(t, reg, n)

	dec := codec.NewDecoder(bytes.NewReader(data), reg, defaultFilter(t))
	start := time.Now()
	for i := 0; i < n; i++ {
		obj, err := dec.Decode()
		require.NoError(t, err)
		require.Equal(t, int64(i), obj.(*demo.Node).Value)
	}
	_, err := dec.Decode()
	assert.ErrorIs(t, err, io.EOF)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func itoa(v uint32) string {
	return strconv.FormatUint(uint64(v), 10)
}

// --------------------------------------------------------------------------
// Hostile and broken streams
// --------------------------------------------------------------------------

func TestCorruptedStreams(t *testing.T) {
	reg := newRegistry(t)
	valid, err := codec.Marshal(reg, demo.Ring(3))
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{
			name: "bad magic",
			data: append([]byte("XXXX\x00\x01"), valid[codec.HeaderSize:]...),
			want: codec.ErrStreamCorrupted,
		},
		{
			name: "truncated",
			data: valid[:len(valid)-3],
			want: codec.ErrStreamCorrupted,
		},
		{
			name: "unknown record tag",
			data: newStream().u8(0x09).Bytes(),
			want: codec.ErrStreamCorrupted,
		},
		{
			name: "duplicate handle",
			data: newStream().object(demo.NodeType, 1, 0, 2).
				field("value", codec.KindInt).int(1).
				field("next", codec.KindRef).object(demo.NodeType, 1, 0, 0).Bytes(),
			want: codec.ErrDuplicateHandle,
		},
		{
			name: "handle out of order",
			data: newStream().object(demo.NodeType, 1, 7, 2).
				field("value", codec.KindInt).int(1).
				field("next", codec.KindRef).null().Bytes(),
			want: codec.ErrStreamCorrupted,
		},
		{
			name: "handle skipped in nested record",
			data: newStream().object(demo.NodeType, 1, 0, 2).
				field("value", codec.KindInt).int(1).
				field("next", codec.KindRef).object(demo.NodeType, 1, 2, 0).Bytes(),
			want: codec.ErrStreamCorrupted,
		},
		{
			name: "dangling back-reference",
			data: newStream().object(demo.NodeType, 1, 0, 2).
				field("value", codec.KindInt).int(1).
				field("next", codec.KindRef).backRef(5).Bytes(),
			want: codec.ErrStreamCorrupted,
		},
		{
			name: "field kind mismatch",
			data: newStream().object(demo.NodeType, 1, 0, 1).
				field("value", codec.KindString).str("one").Bytes(),
			want: codec.ErrStreamCorrupted,
		},
		{
			name: "duplicate field",
			data: newStream().object(demo.NodeType, 1, 0, 2).
				field("value", codec.KindInt).int(1).
				field("value", codec.KindInt).int(2).Bytes(),
			want: codec.ErrStreamCorrupted,
		},
		{
			name: "invalid bool",
			data: newStream().object(boxType, 1, 0, 1).
				field("value", codec.KindBool).u8(7).Bytes(),
			want: codec.ErrStreamCorrupted,
		},
		{
			name: "huge string length",
			data: newStream().object(demo.PersonType, 2, 0, 1).
				field("name", codec.KindString).u32(0xFFFFFFF0).Bytes(),
			want: codec.ErrStreamCorrupted,
		},
		{
			name: "untracked type with handle",
			data: newStream().object(demo.LabelType, 1, 0, 0).Bytes(),
			want: codec.ErrStreamCorrupted,
		},
		{
			name: "trailing data",
			data: append(append([]byte{}, valid...), byte(codec.TagNull)),
			want: codec.ErrStreamCorrupted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := decodeErr(t, reg, tt.data, defaultFilter(t))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestUnknownType(t *testing.T) {
	reg := newRegistry(t)
	s := newStream().object(codec.TypeID(12345), 1, 0, 0)

	err := decodeErr(t, reg, s.Bytes(), mustFilter(t, "#12345"))
	assert.ErrorIs(t, err, codec.ErrUnknownType)
}

func TestDecodeErrorIsSticky(t *testing.T) {
	reg := newRegistry(t)
	s := newStream().u8(0x09)
	dec := codec.NewDecoder(bytes.NewReader(s.Bytes()), reg, defaultFilter(t))

	_, first := dec.Decode()
	require.Error(t, first)
	_, second := dec.Decode()
	assert.Equal(t, first, second)
}

func TestForwardReference(t *testing.T) {
	reg := newRegistry(t)
	// Edsger's manager is handle 2, which is only defined inside the
	// department record that follows
	s := newStream().object(demo.EmployeeType, 1, 0, 3).
		field("name", codec.KindString).str("Edsger").
		field("manager", codec.KindRef).backRef(2).
		field("department", codec.KindRef).object(demo.DepartmentType, 1, 1, 2).
		field("name", codec.KindString).str("Eng").
		field("head", codec.KindRef).object(demo.EmployeeType, 1, 2, 3).
		field("name", codec.KindString).str("Grace").
		field("manager", codec.KindRef).null().
		field("department", codec.KindRef).backRef(1)

	obj, err := codec.Unmarshal(reg, s.Bytes(), defaultFilter(t))
	require.NoError(t, err)

	edsger := obj.(*demo.Employee)
	require.NotNil(t, edsger.Manager)
	assert.Equal(t, "Grace", edsger.Manager.Name)
	assert.Same(t, edsger.Manager, edsger.Department.Head)
	assert.Same(t, edsger.Department, edsger.Manager.Department)
}

func TestValidationRunsAfterGraphCompletes(t *testing.T) {
	reg := newRegistry(t)

	// a valid cycle: the head points back to its department
	team := demo.Team()
	got := roundTrip(t, reg, team.Manager.Manager.Department)
	assert.Equal(t, "Grace", got.Head.Name)

	// the head works somewhere else
	other := &demo.Department{Name: "Sales"}
	dept := &demo.Department{Name: "Engineering", Head: &demo.Employee{Name: "Mallory", Department: other}}
	data, err := codec.Marshal(reg, dept)
	require.NoError(t, err)

	err = decodeErr(t, reg, data, defaultFilter(t))
	assert.ErrorIs(t, err, codec.ErrInvalidObjectState)
}

// --------------------------------------------------------------------------
// Untracked types
// --------------------------------------------------------------------------

func TestUntrackedTypes(t *testing.T) {
	reg := newRegistry(t)
	root := &demo.Label{Text: "root"}
	a := &demo.Label{Text: "a", Parent: root}
	b := &demo.Label{Text: "b", Parent: root}

	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, reg)
	require.NoError(t, enc.Encode(a))
	require.NoError(t, enc.Encode(b))
	assert.Equal(t, 0, enc.Handles())

	objects, backRefs, _ := countRecords(t, buf.Bytes())
	assert.Equal(t, 4, objects)
	assert.Equal(t, 0, backRefs)

	dec := codec.NewDecoder(&buf, reg, defaultFilter(t))
	ga, err := dec.Decode()
	require.NoError(t, err)
	gb, err := dec.Decode()
	require.NoError(t, err)

	pa, pb := ga.(*demo.Label).Parent, gb.(*demo.Label).Parent
	assert.Equal(t, "root", pa.Text)
	assert.Equal(t, "root", pb.Text)
	assert.NotSame(t, pa, pb)
}

func TestUntrackedCycle(t *testing.T) {
	reg := newRegistry(t)
	a := &demo.Label{Text: "a"}
	b := &demo.Label{Text: "b", Parent: a}
	a.Parent = b

	var buf bytes.Buffer
	err := codec.NewEncoder(&buf, reg).Encode(a)
	assert.ErrorIs(t, err, codec.ErrCycleWithoutHandleSupport)
	assert.Zero(t, buf.Len())
}

// --------------------------------------------------------------------------
// Encode errors
// --------------------------------------------------------------------------

func TestEncodeUnregisteredTypeRollsBack(t *testing.T) {
	reg := newRegistry(t)
	root := &box{Value: 1, Child: &bogus{}}

	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, reg)
	err := enc.Encode(root)
	require.ErrorIs(t, err, codec.ErrUnregisteredType)

	var ee *codec.EncodeError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, []codec.Handle{0}, ee.Path)
	assert.Contains(t, ee.Type, "bogus")

	// nothing was written and no handle survived
	assert.Zero(t, buf.Len())
	assert.Equal(t, 0, enc.Handles())

	root.Child = nil
	require.NoError(t, enc.Encode(root))
	objects, backRefs, _ := countRecords(t, buf.Bytes())
	assert.Equal(t, 1, objects)
	assert.Equal(t, 0, backRefs)
}

func TestTransientFieldIsNotWritten(t *testing.T) {
	reg := newRegistry(t)
	got, err := codec.DeepCopy(reg, &demo.Account{User: "ada", Password: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, "ada", got.User)
	assert.Empty(t, got.Password)
}

// --------------------------------------------------------------------------
// DeepCopy and concurrency
// --------------------------------------------------------------------------

func TestDeepCopy(t *testing.T) {
	reg := newRegistry(t)
	ring := demo.Ring(4)

	cp, err := codec.DeepCopy(reg, ring)
	require.NoError(t, err)

	assert.NotSame(t, ring, cp)
	assert.Same(t, cp, cp.Next.Next.Next.Next)
	for orig, c := ring, cp; ; orig, c = orig.Next, c.Next {
		assert.Equal(t, orig.Value, c.Value)
		assert.NotSame(t, orig, c)
		if orig.Next == ring {
			break
		}
	}

	var nilNode *demo.Node
	got, err := codec.DeepCopy(reg, nilNode)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestConcurrentStreamsShareRegistry(t *testing.T) {
	reg := newRegistry(t)
	filter := defaultFilter(t)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, err := codec.Marshal(reg, demo.Ring(i+1))
			if err != nil {
				errs <- err
				return
			}
			obj, err := codec.Unmarshal(reg, data, filter)
			if err != nil {
				errs <- err
				return
			}
			if obj.(*demo.Node).Value != 1 {
				errs <- errors.New("unexpected head value")
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

// --------------------------------------------------------------------------
// Benchmarks
// --------------------------------------------------------------------------

func BenchmarkMarshalRing(b *testing.B) {
	reg := newRegistry(b)
	ring := demo.Ring(100)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := codec.Marshal(reg, ring); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkUnmarshalRing(b *testing.B) {
	reg := newRegistry(b)
	data, err := codec.Marshal(reg, demo.Ring(100))
	require.NoError(b, err)
	filter := defaultFilter(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := codec.Unmarshal(reg, data, filter); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecodeManyRoots(b *testing.B) {
	reg := newRegistry(b)
	const n = 10000
	data := manyRoots(b, reg, n)
	filter := defaultFilter(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dec := codec.NewDecoder(bytes.NewReader(data), reg, filter)
		for j := 0; j < n; j++ {
			if _, err := dec.Decode(); err != nil {
				b.Fatal(err)
			}
		}
	}
}
