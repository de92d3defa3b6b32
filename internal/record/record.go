// Package record holds the sparse, flat key/value sample emitted once per
// sampling pass. Keys are free-form strings; values are scalars. A metric
// that could not be obtained is simply absent.
package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding: the same record always produces
// the same bytes.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("record: CBOR encoder initialization failed: " + err.Error())
	}
}

// Record maps keys to scalar values
type Record map[string]Value

func New() Record {
	return make(Record)
}

// Set stores v under key. Invalid values (unset kind, NaN, Inf) are dropped.
func (r Record) Set(key string, v Value) {
	if !v.Valid() {
		return
	}
	r[key] = v
}

// Get returns the value stored under key
func (r Record) Get(key string) (Value, bool) {
	v, ok := r[key]
	return v, ok
}

// Keys returns all keys in lexicographic order
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Scope returns a builder that prefixes every key with prefix
func (r Record) Scope(prefix string) Scope {
	return Scope{rec: r, prefix: prefix}
}

// MarshalJSON writes a single-line object with keys in lexicographic order
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := r[k].MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("encode %q: %w", k, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalCBOR encodes the record as a deterministic CBOR map
func (r Record) MarshalCBOR() ([]byte, error) {
	m := make(map[string]any, len(r))
	for k, v := range r {
		m[k] = v.Interface()
	}
	return encMode.Marshal(m)
}

// Scope namespaces writes into a Record, e.g. "gpu.0."
type Scope struct {
	rec    Record
	prefix string
}

// Key returns the full key for field
func (s Scope) Key(field string) string { return s.prefix + field }

// Int, Float, String and Bool set prefix+field
func (s Scope) Int(field string, v int64)     { s.rec.Set(s.prefix+field, Int(v)) }
func (s Scope) Float(field string, v float64) { s.rec.Set(s.prefix+field, Float(v)) }
func (s Scope) String(field, v string)        { s.rec.Set(s.prefix+field, String(v)) }
func (s Scope) Bool(field string, v bool)     { s.rec.Set(s.prefix+field, Bool(v)) }
