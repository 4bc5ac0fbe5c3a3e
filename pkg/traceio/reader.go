// Package traceio moves intervals in and out of history stores: a JSON
// lines input format checked against an embedded schema, a compressed dump
// of a whole store, and the YAML registry that names attribute quarks.
package traceio

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/Sumatoshi-tech/histree/pkg/interval"
	"github.com/Sumatoshi-tech/histree/pkg/units"
)

// maxLineSize bounds one input line. It fits the largest payload base64 encoded.
const maxLineSize = 1 * units.MiB

// Value type names used in the "type" field of input records.
const (
	TypeNull   = "null"
	TypeInt32  = "int32"
	TypeInt64  = "int64"
	TypeDouble = "double"
	TypeString = "string"
	TypeCustom = "custom"
)

// ErrInvalidRecord is returned for an input line that is not a valid interval record.
var ErrInvalidRecord = errors.New("invalid interval record")

// Record is one decoded input line with its attribute still named.
type Record struct {
	Value     interval.Value
	Attribute string
	Start     int64
	End       int64
	Line      int
}

type rawValue struct {
	Code *uint8          `json:"code,omitempty"`
	Type string          `json:"type"`
	V    json.RawMessage `json:"v,omitempty"`
}

type rawRecord struct {
	Attribute string   `json:"attribute"`
	Value     rawValue `json:"value"`
	Start     int64    `json:"start"`
	End       int64    `json:"end"`
}

// ReadRecords yields the records of a JSON lines stream in input order.
// Blank lines are skipped. The first invalid line is yielded as an error
// carrying its line number and ends the sequence.
func ReadRecords(r io.Reader) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*units.KiB), maxLineSize)

		lineNo := 0

		for scanner.Scan() {
			lineNo++

			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			rec, err := parseRecord(line)
			if err != nil {
				yield(Record{}, fmt.Errorf("line %d: %w", lineNo, err))

				return
			}

			rec.Line = lineNo

			if !yield(rec, nil) {
				return
			}
		}

		err := scanner.Err()
		if err != nil {
			yield(Record{}, fmt.Errorf("read intervals after line %d: %w", lineNo, err))
		}
	}
}

func parseRecord(line []byte) (Record, error) {
	err := validateLine(line)
	if err != nil {
		return Record{}, err
	}

	var raw rawRecord

	err = json.Unmarshal(line, &raw)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}

	value, err := decodeValue(raw.Value)
	if err != nil {
		return Record{}, err
	}

	if raw.End < raw.Start {
		return Record{}, fmt.Errorf("%w: end %d before start %d", ErrInvalidRecord, raw.End, raw.Start)
	}

	return Record{Attribute: raw.Attribute, Start: raw.Start, End: raw.End, Value: value}, nil
}

func decodeValue(raw rawValue) (interval.Value, error) {
	var err error

	switch raw.Type {
	case TypeNull:
		return interval.Null{}, nil
	case TypeInt32:
		var v int32

		err = json.Unmarshal(raw.V, &v)
		if err == nil {
			return interval.Int32(v), nil
		}
	case TypeInt64:
		var v int64

		err = json.Unmarshal(raw.V, &v)
		if err == nil {
			return interval.Int64(v), nil
		}
	case TypeDouble:
		var v float64

		err = json.Unmarshal(raw.V, &v)
		if err == nil {
			return interval.Double(v), nil
		}
	case TypeString:
		var v string

		err = json.Unmarshal(raw.V, &v)
		if err == nil {
			return interval.String(v), nil
		}
	case TypeCustom:
		var data []byte

		err = json.Unmarshal(raw.V, &data)
		if err == nil && raw.Code != nil {
			return interval.Custom{Code: *raw.Code, Data: data}, nil
		}
	default:
		return nil, fmt.Errorf("%w: value type %q", ErrInvalidRecord, raw.Type)
	}

	return nil, fmt.Errorf("%w: %s value: %w", ErrInvalidRecord, raw.Type, err)
}

// EncodeRecord renders rec as one JSON line in the input format.
func EncodeRecord(rec Record) ([]byte, error) {
	raw := rawRecord{Attribute: rec.Attribute, Start: rec.Start, End: rec.End}

	var (
		payload any
		err     error
	)

	switch v := rec.Value.(type) {
	case interval.Null, nil:
		raw.Value.Type = TypeNull
	case interval.Int32:
		raw.Value.Type, payload = TypeInt32, int32(v)
	case interval.Int64:
		raw.Value.Type, payload = TypeInt64, int64(v)
	case interval.Double:
		raw.Value.Type, payload = TypeDouble, float64(v)
	case interval.String:
		raw.Value.Type, payload = TypeString, string(v)
	case interval.Custom:
		code := v.Code

		data := v.Data
		if data == nil {
			data = []byte{}
		}

		raw.Value.Type, raw.Value.Code, payload = TypeCustom, &code, data
	default:
		return nil, fmt.Errorf("%w: %T", interval.ErrUnknownKind, rec.Value)
	}

	if payload != nil {
		raw.Value.V, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode value: %w", err)
		}
	}

	out, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}

	return out, nil
}
