package transform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ExtractPath is where AddExtraction appends its entries.
const ExtractPath = "metadata.extract"

// ErrPathNotFound is the error returned when an operation
// refers to a path that is absent from its input.
var ErrPathNotFound = errors.New("path not found")

type (
	// FieldAdd is one change of an AddField operation.
	FieldAdd struct {
		Path string      `json:"path"`
		Add  interface{} `json:"add"`
	}

	// Extraction is one change of an AddExtraction operation.
	Extraction struct {
		Add interface{} `json:"add"`
	}

	// Constraint is one change of a ConstrainValue operation.
	Constraint struct {
		Path  string      `json:"path"`
		Value interface{} `json:"value"`
	}

	// PathChange is one change of a RemoveField or SplitPattern operation.
	PathChange struct {
		Path string `json:"path"`
	}

	// Move is one change of a RefactorStructure operation.
	Move struct {
		From string `json:"from"`
		To   string `json:"to"`
	}

	// KeyChange is one change of a ComposePatterns operation.
	KeyChange struct {
		Key string `json:"key"`
	}
)

// AddField inserts values at dotted paths,
// creating intermediate objects as needed.
type AddField struct {
	Changes []FieldAdd
}

func (*AddField) Kind() Kind { return KindAddField }

func (op *AddField) validate() error {
	if len(op.Changes) == 0 {
		return errors.New("no changes")
	}
	for _, c := range op.Changes {
		if err := checkPath(c.Path); err != nil {
			return err
		}
	}
	return nil
}

func (op *AddField) changes() interface{} { return op.Changes }

func (op *AddField) apply(parents []interface{}) (interface{}, error) {
	root, err := single(KindAddField, parents)
	if err != nil {
		return nil, err
	}
	for _, c := range op.Changes {
		v, err := clone(c.Add)
		if err != nil {
			return nil, errors.Wrapf(err, "copying value for %s", c.Path)
		}
		if err = setPath(root, c.Path, v); err != nil {
			return nil, err
		}
	}
	return root, nil
}

// AddExtraction appends entries to the list at ExtractPath,
// creating it if needed.
type AddExtraction struct {
	Changes []Extraction
}

func (*AddExtraction) Kind() Kind { return KindAddExtraction }

func (op *AddExtraction) validate() error {
	if len(op.Changes) == 0 {
		return errors.New("no changes")
	}
	return nil
}

func (op *AddExtraction) changes() interface{} { return op.Changes }

func (op *AddExtraction) apply(parents []interface{}) (interface{}, error) {
	root, err := single(KindAddExtraction, parents)
	if err != nil {
		return nil, err
	}

	var list []interface{}
	existing, err := getPath(root, ExtractPath)
	switch {
	case errors.Is(err, ErrPathNotFound):
		// start a new list
	case err != nil:
		return nil, err
	default:
		l, ok := existing.([]interface{})
		if !ok {
			return nil, fmt.Errorf("%s is a %s, not a list", ExtractPath, typeName(existing))
		}
		list = l
	}

	for _, c := range op.Changes {
		v, err := clone(c.Add)
		if err != nil {
			return nil, errors.Wrap(err, "copying extraction")
		}
		list = append(list, v)
	}
	return root, setPath(root, ExtractPath, list)
}

// MergeSchemas combines all its parents, left to right.
// Objects merge key by key, recursively;
// lists concatenate;
// any other conflict goes to the later parent.
type MergeSchemas struct{}

func (*MergeSchemas) Kind() Kind { return KindMergeSchemas }
func (*MergeSchemas) validate() error { return nil }
func (*MergeSchemas) changes() interface{} { return []struct{}{} }

func (*MergeSchemas) apply(parents []interface{}) (interface{}, error) {
	if len(parents) == 0 {
		return nil, &ConfigError{Kind: KindMergeSchemas, Msg: "needs at least one parent"}
	}
	result := parents[0]
	for _, p := range parents[1:] {
		result = merge(result, p)
	}
	return result, nil
}

func merge(a, b interface{}) interface{} {
	switch av := a.(type) {
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		if !ok {
			return b
		}
		for k, v := range bv {
			if existing, ok := av[k]; ok {
				av[k] = merge(existing, v)
			} else {
				av[k] = v
			}
		}
		return av

	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok {
			return b
		}
		out := make([]interface{}, 0, len(av)+len(bv))
		out = append(out, av...)
		return append(out, bv...)
	}
	return b
}

// ModifyLogic describes a change to an object's embedded logic.
// It can be recorded but not applied:
// Apply fails with ErrNotSupported.
type ModifyLogic struct {
	Changes []json.RawMessage
}

func (*ModifyLogic) Kind() Kind { return KindModifyLogic }
func (*ModifyLogic) validate() error { return nil }
func (op *ModifyLogic) changes() interface{} {
	if op.Changes == nil {
		return []json.RawMessage{}
	}
	return op.Changes
}

func (*ModifyLogic) apply([]interface{}) (interface{}, error) {
	return nil, errors.Wrap(ErrNotSupported, string(KindModifyLogic))
}

// ConstrainValue overwrites the values at existing dotted paths.
type ConstrainValue struct {
	Changes []Constraint
}

func (*ConstrainValue) Kind() Kind { return KindConstrainValue }

func (op *ConstrainValue) validate() error {
	if len(op.Changes) == 0 {
		return errors.New("no changes")
	}
	for _, c := range op.Changes {
		if err := checkPath(c.Path); err != nil {
			return err
		}
	}
	return nil
}

func (op *ConstrainValue) changes() interface{} { return op.Changes }

func (op *ConstrainValue) apply(parents []interface{}) (interface{}, error) {
	root, err := single(KindConstrainValue, parents)
	if err != nil {
		return nil, err
	}
	for _, c := range op.Changes {
		if _, err := getPath(root, c.Path); err != nil {
			return nil, err
		}
		v, err := clone(c.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "copying value for %s", c.Path)
		}
		if err = setPath(root, c.Path, v); err != nil {
			return nil, err
		}
	}
	return root, nil
}

// RemoveField deletes existing dotted paths.
type RemoveField struct {
	Changes []PathChange
}

func (*RemoveField) Kind() Kind { return KindRemoveField }

func (op *RemoveField) validate() error {
	if len(op.Changes) == 0 {
		return errors.New("no changes")
	}
	for _, c := range op.Changes {
		if err := checkPath(c.Path); err != nil {
			return err
		}
	}
	return nil
}

func (op *RemoveField) changes() interface{} { return op.Changes }

func (op *RemoveField) apply(parents []interface{}) (interface{}, error) {
	root, err := single(KindRemoveField, parents)
	if err != nil {
		return nil, err
	}
	for _, c := range op.Changes {
		if err := deletePath(root, c.Path); err != nil {
			return nil, err
		}
	}
	return root, nil
}

// RefactorStructure moves values from one dotted path to another.
type RefactorStructure struct {
	Changes []Move
}

func (*RefactorStructure) Kind() Kind { return KindRefactorStructure }

func (op *RefactorStructure) validate() error {
	if len(op.Changes) == 0 {
		return errors.New("no changes")
	}
	for _, c := range op.Changes {
		if err := checkPath(c.From); err != nil {
			return err
		}
		if err := checkPath(c.To); err != nil {
			return err
		}
		if c.From == c.To {
			return fmt.Errorf("move from %s to itself", c.From)
		}
	}
	return nil
}

func (op *RefactorStructure) changes() interface{} { return op.Changes }

func (op *RefactorStructure) apply(parents []interface{}) (interface{}, error) {
	root, err := single(KindRefactorStructure, parents)
	if err != nil {
		return nil, err
	}
	for _, c := range op.Changes {
		v, err := getPath(root, c.From)
		if err != nil {
			return nil, err
		}
		if err = deletePath(root, c.From); err != nil {
			return nil, err
		}
		if err = setPath(root, c.To, v); err != nil {
			return nil, err
		}
	}
	return root, nil
}

// SplitPattern produces the sub-document found at Path.
type SplitPattern struct {
	Path string
}

func (*SplitPattern) Kind() Kind { return KindSplitPattern }
func (op *SplitPattern) validate() error { return checkPath(op.Path) }
func (op *SplitPattern) changes() interface{} { return []PathChange{{Path: op.Path}} }

func (op *SplitPattern) apply(parents []interface{}) (interface{}, error) {
	root, err := single(KindSplitPattern, parents)
	if err != nil {
		return nil, err
	}
	return getPath(root, op.Path)
}

// ComposePatterns produces an object mapping each of Keys
// to the parent in the same position.
type ComposePatterns struct {
	Keys []string
}

func (*ComposePatterns) Kind() Kind { return KindComposePatterns }

func (op *ComposePatterns) validate() error {
	if len(op.Keys) == 0 {
		return errors.New("no keys")
	}
	seen := make(map[string]struct{}, len(op.Keys))
	for _, k := range op.Keys {
		if k == "" {
			return errors.New("empty key")
		}
		if _, ok := seen[k]; ok {
			return fmt.Errorf("duplicate key %q", k)
		}
		seen[k] = struct{}{}
	}
	return nil
}

func (op *ComposePatterns) changes() interface{} {
	out := make([]KeyChange, 0, len(op.Keys))
	for _, k := range op.Keys {
		out = append(out, KeyChange{Key: k})
	}
	return out
}

func (op *ComposePatterns) apply(parents []interface{}) (interface{}, error) {
	if len(parents) != len(op.Keys) {
		return nil, &ConfigError{
			Kind: KindComposePatterns,
			Msg:  fmt.Sprintf("%d keys for %d parents", len(op.Keys), len(parents)),
		}
	}
	out := make(map[string]interface{}, len(parents))
	for i, p := range parents {
		out[op.Keys[i]] = p
	}
	return out, nil
}

// single returns the one input of a single-parent operation.
// No parents means starting from the empty object.
func single(kind Kind, parents []interface{}) (interface{}, error) {
	switch len(parents) {
	case 0:
		return map[string]interface{}{}, nil
	case 1:
		return parents[0], nil
	}
	return nil, &ConfigError{Kind: kind, Msg: fmt.Sprintf("takes at most one parent, got %d", len(parents))}
}

func checkPath(path string) error {
	if path == "" {
		return errors.New("empty path")
	}
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return fmt.Errorf("path %q has an empty segment", path)
		}
	}
	return nil
}

// walk descends through all but the last segment of path,
// returning the object that holds the last segment.
func walk(root interface{}, path string, create bool) (map[string]interface{}, string, error) {
	segs := strings.Split(path, ".")
	m, ok := root.(map[string]interface{})
	if !ok {
		return nil, "", fmt.Errorf("path %s: document is a %s, not an object", path, typeName(root))
	}
	for i, seg := range segs[:len(segs)-1] {
		next, ok := m[seg]
		if !ok {
			if !create {
				return nil, "", errors.Wrap(ErrPathNotFound, path)
			}
			child := make(map[string]interface{})
			m[seg] = child
			m = child
			continue
		}
		child, ok := next.(map[string]interface{})
		if !ok {
			return nil, "", fmt.Errorf("path %s: %s is a %s, not an object", path, strings.Join(segs[:i+1], "."), typeName(next))
		}
		m = child
	}
	return m, segs[len(segs)-1], nil
}

func getPath(root interface{}, path string) (interface{}, error) {
	m, last, err := walk(root, path, false)
	if err != nil {
		return nil, err
	}
	v, ok := m[last]
	if !ok {
		return nil, errors.Wrap(ErrPathNotFound, path)
	}
	return v, nil
}

func setPath(root interface{}, path string, v interface{}) error {
	m, last, err := walk(root, path, true)
	if err != nil {
		return err
	}
	m[last] = v
	return nil
}

func deletePath(root interface{}, path string) error {
	m, last, err := walk(root, path, false)
	if err != nil {
		return err
	}
	if _, ok := m[last]; !ok {
		return errors.Wrap(ErrPathNotFound, path)
	}
	delete(m, last)
	return nil
}

// clone produces a private copy of v in decoded-JSON form,
// so a result never shares structure with a descriptor.
func clone(v interface{}) (interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out interface{}
	err = dec.Decode(&out)
	return out, err
}

func typeName(v interface{}) string {
	switch v.(type) {
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "list"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	}
	return fmt.Sprintf("%T", v)
}
