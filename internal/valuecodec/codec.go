package valuecodec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/barusanov/Perl5-IDEA/internal/plvalue"
)

const (
	// MAX_VALUE_DEPTH is the maximum nesting depth of an encoded value (root, bless tags and
	// no-value markers included), values nested deeper cannot be encoded.
	MAX_VALUE_DEPTH = 256

	methodCallFlag = 1
)

var (
	// ErrCorruptRecord is wrapped by all the errors caused by a malformed or truncated record,
	// the record should be discarded and rebuilt.
	ErrCorruptRecord = errors.New("corrupt value record")

	ErrUnknownKind   = errors.New("unknown value kind")
	ErrMissingValue  = errors.New("missing value")
	ErrTruncated     = errors.New("truncated value")
	ErrTrailingBytes = errors.New("trailing bytes after value")
	ErrNonCanonical  = errors.New("non canonical encoding")
	ErrTooDeep       = errors.New("value nesting is too deep")
	ErrNilValue      = errors.New("nil value")
)

// An Encoder encodes values to their persisted binary form:
//
//	value   = kind-id payload
//	payload = name-id                        (static)
//	        | bless                          (unknown)
//	        | bless count value*             (one-of, concat)
//	        | bless value                    (reference, deref)
//	        | bless flags value value count value*  (call-static: namespace, sub, args)
//	        | bless value value count value* (call-object: invocant, sub, args)
//	bless   = value | 0
//
// All integers are minimal uvarints, flags is a single byte.
type Encoder struct {
	names NameTable
}

func NewEncoder(names NameTable) *Encoder {
	return &Encoder{names: names}
}

func (e *Encoder) Encode(v plvalue.Value) ([]byte, error) {
	return e.AppendValue(nil, v)
}

// AppendValue appends the encoding of v to buf.
func (e *Encoder) AppendValue(buf []byte, v plvalue.Value) ([]byte, error) {
	if v == nil {
		return nil, ErrNilValue
	}
	return e.appendValue(buf, v, 0)
}

func (e *Encoder) appendValue(buf []byte, v plvalue.Value, depth int) ([]byte, error) {
	if depth > MAX_VALUE_DEPTH {
		return nil, ErrTooDeep
	}
	if v == nil {
		return binary.AppendUvarint(buf, plvalue.NO_VALUE_ID), nil
	}

	buf = binary.AppendUvarint(buf, plvalue.KindID(v.Kind()))

	if static, ok := v.(*plvalue.Static); ok {
		id, err := e.names.NameID(static.Literal())
		if err != nil {
			return nil, err
		}
		return binary.AppendUvarint(buf, id), nil
	}

	buf, err := e.appendValue(buf, v.Bless(), depth+1)
	if err != nil {
		return nil, err
	}

	switch val := v.(type) {
	case *plvalue.Unknown:
		return buf, nil
	case *plvalue.OneOf:
		return e.appendValues(buf, val.Alternatives(), depth)
	case *plvalue.Reference:
		return e.appendValue(buf, val.Target(), depth+1)
	case *plvalue.Deref:
		return e.appendValue(buf, val.Target(), depth+1)
	case *plvalue.CallStatic:
		var flags byte
		if val.IsMethod() {
			flags |= methodCallFlag
		}
		buf = append(buf, flags)
		if buf, err = e.appendValue(buf, val.Namespace(), depth+1); err != nil {
			return nil, err
		}
		if buf, err = e.appendValue(buf, val.Sub(), depth+1); err != nil {
			return nil, err
		}
		return e.appendValues(buf, val.Args(), depth)
	case *plvalue.CallObject:
		if buf, err = e.appendValue(buf, val.Invocant(), depth+1); err != nil {
			return nil, err
		}
		if buf, err = e.appendValue(buf, val.Sub(), depth+1); err != nil {
			return nil, err
		}
		return e.appendValues(buf, val.Args(), depth)
	case *plvalue.Concat:
		return e.appendValues(buf, val.Parts(), depth)
	default:
		return nil, fmt.Errorf("cannot encode value of kind %s", v.Kind())
	}
}

func (e *Encoder) appendValues(buf []byte, values []plvalue.Value, depth int) ([]byte, error) {
	buf = binary.AppendUvarint(buf, uint64(len(values)))
	for _, v := range values {
		var err error
		buf, err = e.appendValue(buf, v, depth+1)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// A Decoder decodes persisted values, decoded values are created by the registry's factories
// and are therefore interned like any other value.
type Decoder struct {
	registry *plvalue.Registry
	names    NameTable
	encoder  *Encoder
}

func NewDecoder(registry *plvalue.Registry, names NameTable) *Decoder {
	return &Decoder{
		registry: registry,
		names:    names,
		encoder:  NewEncoder(names),
	}
}

// Decode decodes a value encoded by an Encoder using the same name table. All the errors caused by
// a malformed, truncated or non canonical input wrap ErrCorruptRecord. An error wrapping
// plvalue.ErrForeignEpoch is returned if the registry was cleared during the decoding.
func (d *Decoder) Decode(data []byte) (result plvalue.Value, finalErr error) {
	defer func() {
		if e := recover(); e != nil {
			if err, ok := e.(error); ok && errors.Is(err, plvalue.ErrForeignEpoch) {
				result = nil
				finalErr = fmt.Errorf("registry cleared while decoding: %w", err)
				return
			}
			panic(e)
		}
	}()

	r := &reader{data: data}
	v, err := d.readValue(r, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	if v == nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptRecord, ErrMissingValue)
	}
	if r.pos != len(data) {
		return nil, fmt.Errorf("%w: %w (%d)", ErrCorruptRecord, ErrTrailingBytes, len(data)-r.pos)
	}

	//a canonical record only contains names that are already in the table.
	reencoded, err := d.encoder.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", ErrCorruptRecord, ErrNonCanonical, err)
	}
	if !bytes.Equal(reencoded, data) {
		return nil, fmt.Errorf("%w: %w", ErrCorruptRecord, ErrNonCanonical)
	}
	return v, nil
}

// readValue returns nil for the reserved no-value id.
func (d *Decoder) readValue(r *reader, depth int) (plvalue.Value, error) {
	if depth > MAX_VALUE_DEPTH {
		return nil, ErrTooDeep
	}

	id, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if id == plvalue.NO_VALUE_ID {
		return nil, nil
	}

	kind, ok := plvalue.KindForID(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, id)
	}

	if kind == plvalue.KindStatic {
		nameId, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		name, err := d.names.Name(nameId)
		if err != nil {
			return nil, err
		}
		return d.registry.Static(name), nil
	}

	bless, err := d.readValue(r, depth+1)
	if err != nil {
		return nil, err
	}

	var v plvalue.Value

	switch kind {
	case plvalue.KindUnknown:
		v = plvalue.UNKNOWN
	case plvalue.KindOneOf:
		alternatives, err := d.readValues(r, depth)
		if err != nil {
			return nil, err
		}
		v = d.registry.OneOf(alternatives...)
	case plvalue.KindReference, plvalue.KindDeref:
		target, err := d.readRequiredValue(r, depth)
		if err != nil {
			return nil, err
		}
		if kind == plvalue.KindReference {
			v = d.registry.Reference(target)
		} else {
			v = d.registry.Deref(target)
		}
	case plvalue.KindCallStatic:
		flags, err := r.byte()
		if err != nil {
			return nil, err
		}
		if flags&^methodCallFlag != 0 {
			return nil, fmt.Errorf("%w: unknown call flags %#x", ErrNonCanonical, flags)
		}
		namespace, sub, args, err := d.readCall(r, depth)
		if err != nil {
			return nil, err
		}
		if flags&methodCallFlag != 0 {
			v = d.registry.CallMethod(namespace, sub, args...)
		} else {
			v = d.registry.CallStatic(namespace, sub, args...)
		}
	case plvalue.KindCallObject:
		invocant, sub, args, err := d.readCall(r, depth)
		if err != nil {
			return nil, err
		}
		v = d.registry.CallObject(invocant, sub, args...)
	case plvalue.KindConcat:
		parts, err := d.readValues(r, depth)
		if err != nil {
			return nil, err
		}
		v = d.registry.Concat(parts...)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	if bless != nil {
		v = d.registry.Bless(v, bless)
	}
	return v, nil
}

func (d *Decoder) readRequiredValue(r *reader, depth int) (plvalue.Value, error) {
	v, err := d.readValue(r, depth+1)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, ErrMissingValue
	}
	return v, nil
}

func (d *Decoder) readValues(r *reader, depth int) ([]plvalue.Value, error) {
	count, err := r.count()
	if err != nil {
		return nil, err
	}
	values := make([]plvalue.Value, 0, count)
	for i := 0; i < count; i++ {
		v, err := d.readRequiredValue(r, depth)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

func (d *Decoder) readCall(r *reader, depth int) (target, sub plvalue.Value, args []plvalue.Value, err error) {
	target, err = d.readRequiredValue(r, depth)
	if err != nil {
		return
	}
	sub, err = d.readRequiredValue(r, depth)
	if err != nil {
		return
	}
	args, err = d.readValues(r, depth)
	return
}

type reader struct {
	data []byte
	pos  int
}

func (r *reader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.data[r.pos:])
	switch {
	case n == 0:
		return 0, ErrTruncated
	case n < 0:
		return 0, fmt.Errorf("%w: varint overflow", ErrNonCanonical)
	case n != uvarintLen(v):
		return 0, fmt.Errorf("%w: non minimal varint", ErrNonCanonical)
	}
	r.pos += n
	return v, nil
}

// count reads an element count, each element takes at least one byte.
func (r *reader) count() (int, error) {
	n, err := r.uvarint()
	if err != nil {
		return 0, err
	}
	if n > uint64(len(r.data)-r.pos) {
		return 0, ErrTruncated
	}
	return int(n), nil
}

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, ErrTruncated
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func uvarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}
