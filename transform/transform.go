// Package transform implements the transformations that produce derived objects from their parents.
//
// A transformation is described by a Descriptor,
// whose Op is one of a closed set of operation types,
// each with its own payload shape.
// Descriptors are validated when they are constructed or parsed,
// so Apply only ever sees well-formed operations.
//
// Objects handled here are JSON documents.
// Apply is a pure function:
// the same parent contents and the same Descriptor always produce byte-identical output.
// Replaying a chain of derivations depends on that.
package transform

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// Kind names a transformation operation.
type Kind string

const (
	KindAddField          Kind = "add_field"
	KindAddExtraction     Kind = "add_extraction"
	KindMergeSchemas      Kind = "merge_schemas"
	KindModifyLogic       Kind = "modify_logic"
	KindConstrainValue    Kind = "constrain_value"
	KindRemoveField       Kind = "remove_field"
	KindRefactorStructure Kind = "refactor_structure"
	KindSplitPattern      Kind = "split_pattern"
	KindComposePatterns   Kind = "compose_patterns"
)

// Op is a transformation operation.
// The set of implementations is closed:
// AddField, AddExtraction, MergeSchemas, ModifyLogic, ConstrainValue,
// RemoveField, RefactorStructure, SplitPattern, and ComposePatterns.
type Op interface {
	Kind() Kind

	validate() error
	changes() interface{}
	apply(parents []interface{}) (interface{}, error)
}

// Descriptor describes a transformation.
type Descriptor struct {
	Op Op
}

// New produces a Descriptor for op after validating it.
// An invalid op yields a *ConfigError.
func New(op Op) (Descriptor, error) {
	if op == nil {
		return Descriptor{}, &ConfigError{Msg: "nil operation"}
	}
	if err := op.validate(); err != nil {
		return Descriptor{}, &ConfigError{Kind: op.Kind(), Msg: err.Error()}
	}
	return Descriptor{Op: op}, nil
}

// Kind is the Kind of d's operation,
// or the empty string for the zero Descriptor.
func (d Descriptor) Kind() Kind {
	if d.Op == nil {
		return ""
	}
	return d.Op.Kind()
}

type wireDescriptor struct {
	Operation Kind            `json:"operation"`
	Changes   json.RawMessage `json:"changes"`
}

// MarshalJSON implements json.Marshaler.
// The encoding is {"operation": kind, "changes": [...]}.
func (d Descriptor) MarshalJSON() ([]byte, error) {
	if d.Op == nil {
		return nil, errors.New("marshaling empty transformation descriptor")
	}
	ch, err := json.Marshal(d.Op.changes())
	if err != nil {
		return nil, errors.Wrapf(err, "marshaling %s changes", d.Op.Kind())
	}
	return json.Marshal(wireDescriptor{Operation: d.Op.Kind(), Changes: ch})
}

// UnmarshalJSON implements json.Unmarshaler.
// It fails with a *ConfigError on an unknown operation or a malformed payload.
func (d *Descriptor) UnmarshalJSON(data []byte) error {
	got, err := Parse(data)
	if err != nil {
		return err
	}
	*d = got
	return nil
}

// Parse decodes and validates the JSON encoding of a Descriptor.
func Parse(data []byte) (Descriptor, error) {
	var w wireDescriptor
	if err := json.Unmarshal(data, &w); err != nil {
		return Descriptor{}, &ConfigError{Msg: "malformed descriptor: " + err.Error()}
	}

	var op Op
	switch w.Operation {
	case KindAddField:
		op = &AddField{}
	case KindAddExtraction:
		op = &AddExtraction{}
	case KindMergeSchemas:
		op = &MergeSchemas{}
	case KindModifyLogic:
		op = &ModifyLogic{}
	case KindConstrainValue:
		op = &ConstrainValue{}
	case KindRemoveField:
		op = &RemoveField{}
	case KindRefactorStructure:
		op = &RefactorStructure{}
	case KindSplitPattern:
		op = &SplitPattern{}
	case KindComposePatterns:
		op = &ComposePatterns{}
	case "":
		return Descriptor{}, &ConfigError{Msg: "missing operation"}
	default:
		return Descriptor{}, &ConfigError{Kind: w.Operation, Msg: "unknown operation"}
	}

	if len(w.Changes) > 0 && !bytes.Equal(w.Changes, []byte("null")) {
		if err := decodeChanges(w.Changes, op); err != nil {
			return Descriptor{}, &ConfigError{Kind: w.Operation, Msg: "malformed changes: " + err.Error()}
		}
	}

	return New(op)
}

func decodeChanges(raw json.RawMessage, op Op) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	dec.DisallowUnknownFields()

	switch op := op.(type) {
	case *AddField:
		return dec.Decode(&op.Changes)
	case *AddExtraction:
		return dec.Decode(&op.Changes)
	case *MergeSchemas:
		var changes []json.RawMessage
		if err := dec.Decode(&changes); err != nil {
			return err
		}
		if len(changes) > 0 {
			return fmt.Errorf("takes no changes, got %d", len(changes))
		}
		return nil
	case *ModifyLogic:
		return dec.Decode(&op.Changes)
	case *ConstrainValue:
		return dec.Decode(&op.Changes)
	case *RemoveField:
		return dec.Decode(&op.Changes)
	case *RefactorStructure:
		return dec.Decode(&op.Changes)
	case *SplitPattern:
		var changes []PathChange
		if err := dec.Decode(&changes); err != nil {
			return err
		}
		if len(changes) != 1 {
			return fmt.Errorf("takes exactly one change, got %d", len(changes))
		}
		op.Path = changes[0].Path
		return nil
	case *ComposePatterns:
		var changes []KeyChange
		if err := dec.Decode(&changes); err != nil {
			return err
		}
		for _, c := range changes {
			op.Keys = append(op.Keys, c.Key)
		}
		return nil
	}
	return fmt.Errorf("unhandled operation type %T", op)
}

// Apply applies the transformation d to the given parent contents
// and returns the resulting content.
//
// Each parent must be a JSON document
// (empty content counts as the empty object).
// The result is canonical JSON:
// object keys sorted, no insignificant whitespace, no HTML escaping,
// numbers reproduced exactly as they appeared in the input.
func Apply(parents [][]byte, d Descriptor) ([]byte, error) {
	if d.Op == nil {
		return nil, &ConfigError{Msg: "empty descriptor"}
	}

	values := make([]interface{}, 0, len(parents))
	for i, p := range parents {
		v, err := decode(p)
		if err != nil {
			return nil, errors.Wrapf(err, "decoding parent %d", i)
		}
		values = append(values, v)
	}

	result, err := d.Op.apply(values)
	if err != nil {
		return nil, err
	}
	return Encode(result)
}

func decode(content []byte) (interface{}, error) {
	if len(bytes.TrimSpace(content)) == 0 {
		return map[string]interface{}{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, errors.Wrap(ErrNotStructured, err.Error())
	}
	if dec.More() {
		return nil, errors.Wrap(ErrNotStructured, "trailing data after JSON value")
	}
	return v, nil
}

// Encode produces the canonical JSON encoding of v.
func Encode(v interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, errors.Wrap(err, "encoding result")
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// ErrNotStructured is the error returned when a parent is not a JSON document.
var ErrNotStructured = errors.New("content is not structured")

// ErrNotSupported is the error returned when applying an operation
// that can be described but not yet carried out.
var ErrNotSupported = errors.New("operation not supported")

// ConfigError reports a malformed or unknown transformation.
// It is not retryable: the descriptor itself is wrong.
type ConfigError struct {
	Kind Kind
	Msg  string
}

func (e *ConfigError) Error() string {
	if e.Kind == "" {
		return "transformation config error: " + e.Msg
	}
	return fmt.Sprintf("transformation config error (%s): %s", e.Kind, e.Msg)
}
