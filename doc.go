// Package lineage is a content-addressed object store
// with a fuzzy similarity index
// and a record of how objects were derived from one another.
//
// Every object is stored once per exact hash within its type namespace.
// The exact hash is sha2-256 of the content,
// truncated to HashSize bytes.
//
// Alongside the exact hash,
// each object gets a similarity hash:
// a 32-bit value quantizing the object's byte entropy
// and a handful of structural features.
// Objects with similar features get similarity hashes that agree in most of their hex digits,
// and the first four digits select a bucket
// in which near matches can be found without scanning the whole store.
// The similarity hash is a discovery aid.
// Never use it to decide that two objects are equal.
//
// Objects are never modified.
// Instead they evolve:
// a Derivation records that one object was produced from zero or more parents
// by a declarative transformation
// (see the transform subpackage).
// Derivations form a DAG that can be navigated
// (see the dag subpackage),
// and because transformations are deterministic,
// an object that is missing from direct storage
// can be rebuilt by replaying the transformations along its evolution path
// (see the replay subpackage).
//
// Named, mutable pointers to objects are called refs.
// A ref is the only mutable thing in the store.
//
// This package holds the data model and the Backend interfaces.
// The objstore subpackage implements the store proper on top of any Backend,
// and the store/... subpackages implement backends.
package lineage
