package corpus

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JakeFAU/sitecorpus/internal/crawler"
)

var (
	errNoURL     = errors.New("record has no url")
	errNotObject = errors.New("record is not a JSON object")
)

// rawRecord keeps a record's top-level fields verbatim and in input order, so
// kept records are written back with exactly the keys they were read with.
type rawRecord struct {
	keys   []string
	fields map[string]json.RawMessage
}

func parseRawRecord(data []byte) (*rawRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errNotObject
	}
	r := &rawRecord{fields: make(map[string]json.RawMessage)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		r.set(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return r, nil
}

// set replaces key in place, or appends it when the record lacks it.
func (r *rawRecord) set(key string, value json.RawMessage) {
	if _, ok := r.fields[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.fields[key] = value
}

func (r *rawRecord) setString(key, value string) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	r.set(key, encoded)
	return nil
}

// appendLine writes the record as one compact JSON line.
func (r *rawRecord) appendLine(buf *bytes.Buffer) error {
	buf.WriteByte('{')
	for i, key := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(buf, key); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := json.Compact(buf, r.fields[key]); err != nil {
			return err
		}
	}
	buf.WriteString("}\n")
	return nil
}

func writeKey(buf *bytes.Buffer, key string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(key); err != nil {
		return err
	}
	// Drop the encoder's trailing newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}

// decodeRecord returns the typed view used for classification alongside the
// raw fields used for output.
func decodeRecord(data []byte) (crawler.PageRecord, *rawRecord, error) {
	raw, err := parseRawRecord(data)
	if err != nil {
		return crawler.PageRecord{}, nil, fmt.Errorf("decode record: %w", err)
	}
	var record crawler.PageRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return crawler.PageRecord{}, nil, fmt.Errorf("decode record: %w", err)
	}
	if record.URL == "" {
		return crawler.PageRecord{}, nil, errNoURL
	}
	return record, raw, nil
}
