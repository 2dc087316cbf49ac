package pattern

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"

	"github.com/bobg/lineage/hashing"
)

// JSON is a Pattern for JSON documents.
//
// Each leaf value is a field named by its dotted path from the root;
// arrays count as leaves of type "array".
// Depth is the deepest nesting of objects and arrays.
// The content is repeating if it contains an array of two or more elements.
type JSON struct{}

var _ Pattern = JSON{}

func (JSON) Name() string { return "json" }

func (JSON) Structure(content []byte) (*hashing.Structure, error) {
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, errors.Wrap(err, "decoding JSON")
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}

	s := new(hashing.Structure)
	s.Depth = walkJSON(s, "", v)
	sort.Slice(s.Fields, func(i, j int) bool { return s.Fields[i].Name < s.Fields[j].Name })
	return s, nil
}

// walkJSON adds the leaves of v to s and returns the nesting depth of v.
func walkJSON(s *hashing.Structure, prefix string, v interface{}) int {
	switch v := v.(type) {
	case map[string]interface{}:
		var depth int
		for k, child := range v {
			name := k
			if prefix != "" {
				name = prefix + "." + k
			}
			if d := walkJSON(s, name, child); d > depth {
				depth = d
			}
		}
		return depth + 1

	case []interface{}:
		if prefix != "" {
			s.Fields = append(s.Fields, hashing.Field{Name: prefix, Type: "array"})
		}
		if len(v) >= 2 {
			s.Repeating = true
		}
		var depth int
		for _, elt := range v {
			inner := new(hashing.Structure)
			if d := walkJSON(inner, "", elt); d > depth {
				depth = d
			}
			s.Repeating = s.Repeating || inner.Repeating
		}
		return depth + 1
	}

	if prefix != "" {
		s.Fields = append(s.Fields, hashing.Field{Name: prefix, Type: jsonType(v)})
	}
	return 0
}

func jsonType(v interface{}) string {
	switch v.(type) {
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	}
	return "unknown"
}
