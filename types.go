package lineage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/lineage/transform"
)

// ObjectType is a namespace tag for objects.
// Deduplication, similarity buckets, refs, and derivations are all scoped to a type.
type ObjectType string

// Check reports an error if t cannot be used as a namespace.
// Types become path components in some backends,
// so separators and dot-names are rejected.
func (t ObjectType) Check() error {
	return checkName("object type", string(t))
}

// CheckRefName reports an error if name cannot be used as a ref name.
func CheckRefName(name string) error {
	return checkName("ref name", name)
}

func checkName(what, s string) error {
	switch {
	case s == "":
		return fmt.Errorf("empty %s", what)
	case strings.ContainsAny(s, `/\`):
		return fmt.Errorf("%s %q contains a path separator", what, s)
	case strings.HasPrefix(s, "."):
		return fmt.Errorf("%s %q begins with a dot", what, s)
	case strings.ContainsRune(s, 0):
		return fmt.Errorf("%s %q contains a NUL byte", what, s)
	}
	return nil
}

// Metadata is the record stored alongside each object's content.
// Caller-supplied fields live in Extra
// and are flattened into the same JSON object as the computed fields.
// On a name clash the computed field wins.
type Metadata struct {
	ExactHash          Hash               `json:"exact_hash"`
	SimilarityHash     SimHash            `json:"similarity_hash"`
	ObjectType         ObjectType         `json:"object_type"`
	CreatedAt          time.Time          `json:"created_at"`
	SizeBytes          int                `json:"size_bytes"`
	Entropy            float64            `json:"entropy"`
	Negentropy         float64            `json:"negentropy"`
	StructuralFeatures map[string]float64 `json:"structural_features"`

	// Derivation is the ID of the Derivation record that produced this object,
	// if any.
	Derivation *Hash `json:"derivation,omitempty"`

	Extra map[string]interface{} `json:"-"`
}

type plainMetadata Metadata

var metadataKeys = []string{
	"exact_hash",
	"similarity_hash",
	"object_type",
	"created_at",
	"size_bytes",
	"entropy",
	"negentropy",
	"structural_features",
	"derivation",
}

// MarshalJSON implements json.Marshaler.
func (m Metadata) MarshalJSON() ([]byte, error) {
	computed, err := json.Marshal(plainMetadata(m))
	if err != nil {
		return nil, err
	}
	if len(m.Extra) == 0 {
		return computed, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(computed, &fields); err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(m.Extra)+len(fields))
	for k, v := range m.Extra {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var p plainMetadata
	if err := json.Unmarshal(data, &p); err != nil {
		return errors.Wrap(err, "decoding metadata")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var all map[string]interface{}
	if err := dec.Decode(&all); err != nil {
		return errors.Wrap(err, "decoding metadata")
	}
	for _, k := range metadataKeys {
		delete(all, k)
	}
	if len(all) > 0 {
		p.Extra = all
	}

	*m = Metadata(p)
	return nil
}

// Object is an object's content together with its metadata.
type Object struct {
	Content  []byte
	Metadata *Metadata
}

// Relation describes how a derived object relates to one of its parents.
// It is descriptive only and does not affect transformation semantics.
type Relation string

const (
	Extends     Relation = "extends"
	Refines     Relation = "refines"
	Specializes Relation = "specializes"
	Merges      Relation = "merges"
	Derives     Relation = "derives"
	Equivalent  Relation = "equivalent"
)

// Valid tells whether r is one of the known relations.
func (r Relation) Valid() bool {
	switch r {
	case Extends, Refines, Specializes, Merges, Derives, Equivalent:
		return true
	}
	return false
}

// ParentRef is one parent of a derivation.
type ParentRef struct {
	Hash       Hash     `json:"hash"`
	Relation   Relation `json:"relation"`
	Similarity float64  `json:"similarity"`
	Branch     string   `json:"branch,omitempty"`
}

// Fingerprint is the set of descriptive tags attached to a derivation.
// None of it feeds into transformation logic.
type Fingerprint struct {
	Capabilities []string            `json:"capabilities"`
	Intent       []string            `json:"intent"`
	Constraints  map[string]string   `json:"constraints"`
	Domain       map[string][]string `json:"domain"`
}

// Normalize sorts and de-duplicates the set-valued fields of f in place,
// and replaces nil collections with empty ones,
// so that equal fingerprints encode identically.
func (f *Fingerprint) Normalize() {
	f.Capabilities = NormalizeSet(f.Capabilities)
	f.Intent = NormalizeSet(f.Intent)
	if f.Constraints == nil {
		f.Constraints = make(map[string]string)
	}
	if f.Domain == nil {
		f.Domain = make(map[string][]string)
	}
	for k, v := range f.Domain {
		f.Domain[k] = NormalizeSet(v)
	}
}

// NormalizeSet returns the sorted, de-duplicated members of strs.
// The result is never nil.
func NormalizeSet(strs []string) []string {
	out := make([]string, 0, len(strs))
	seen := make(map[string]struct{}, len(strs))
	for _, s := range strs {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Derivation records how an object was produced from zero or more parents.
// Once recorded it never changes.
type Derivation struct {
	ObjectHash     Hash                 `json:"object_hash"`
	ObjectType     ObjectType           `json:"object_type"`
	Parents        []ParentRef          `json:"parents"`
	Transformation transform.Descriptor `json:"transformation"`
	Semantic       Fingerprint          `json:"semantic"`
	Entropy        float64              `json:"entropy"`
	Negentropy     float64              `json:"negentropy"`
	Timestamp      time.Time            `json:"timestamp"`
	Author         string               `json:"author,omitempty"`
}

// ParentHashes returns the hashes of d's parents in order.
func (d *Derivation) ParentHashes() []Hash {
	out := make([]Hash, 0, len(d.Parents))
	for _, p := range d.Parents {
		out = append(out, p.Hash)
	}
	return out
}

// Encode produces the canonical encoding of d
// and its record ID, which is the exact hash of that encoding.
func (d *Derivation) Encode() ([]byte, Hash, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, Zero, errors.Wrapf(err, "encoding derivation of %s", d.ObjectHash)
	}
	return b, ExactHash(b), nil
}

// DecodeDerivation parses the encoding produced by Derivation.Encode.
func DecodeDerivation(b []byte) (*Derivation, error) {
	var d Derivation
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, errors.Wrap(err, "decoding derivation")
	}
	return &d, nil
}
