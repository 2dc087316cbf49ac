package hashing

import (
	"bytes"
	"math/rand"
	"testing"
	"testing/quick"

	"github.com/google/go-cmp/cmp"
)

func TestEntropy(t *testing.T) {
	if got := Entropy([]byte("AAAA")); got != 0 {
		t.Errorf("got entropy %v for AAAA, want 0", got)
	}

	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}
	if got := Entropy(all); got != 8 {
		t.Errorf("got entropy %v for all byte values, want 8", got)
	}
	if got := Negentropy(all); got != 0 {
		t.Errorf("got negentropy %v for all byte values, want 0", got)
	}

	if got := Entropy(nil); got != 0 {
		t.Errorf("got entropy %v for empty input, want 0", got)
	}
	if got := Entropy([]byte("ab")); got != 1 {
		t.Errorf("got entropy %v for ab, want 1", got)
	}
}

func TestFeaturesRange(t *testing.T) {
	f := func(content []byte, nfields uint8, depth int8, repeating bool) bool {
		s := &Structure{Depth: int(depth), Repeating: repeating}
		for i := 0; i < int(nfields); i++ {
			s.Fields = append(s.Fields, Field{Name: string(rune('a' + i%26)), Type: []string{"string", "number", "bool"}[i%3]})
		}
		for _, st := range []*Structure{nil, s} {
			feats := Features(content, st)
			if len(feats) != len(FeatureNames) {
				t.Logf("got %d features, want %d", len(feats), len(FeatureNames))
				return false
			}
			for name, v := range feats {
				if v < 0 || v > 1 {
					t.Logf("feature %s = %v out of range", name, v)
					return false
				}
			}
		}
		return true
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestByteUniformity(t *testing.T) {
	if got := Features(nil, nil)[ByteUniformity]; got != 0 {
		t.Errorf("got %v for empty content, want 0", got)
	}

	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}
	if got := Features(all, nil)[ByteUniformity]; got != 1 {
		t.Errorf("got %v for perfectly uniform content, want 1", got)
	}

	if got := Features([]byte("AAAAAAAA"), nil)[ByteUniformity]; got >= 0.01 {
		t.Errorf("got %v for constant content, want nearly 0", got)
	}
}

func TestTypeDiversity(t *testing.T) {
	cases := []struct {
		types []string
		want  float64
	}{
		{types: nil, want: 0},
		{types: []string{"string"}, want: 0},
		{types: []string{"string", "string"}, want: 0},
		{types: []string{"string", "number"}, want: 1},
		{types: []string{"string", "number", "bool", "null"}, want: 1},
		{types: []string{"string", "string", "number", "number"}, want: 0.5},
	}
	for _, c := range cases {
		s := &Structure{}
		for _, typ := range c.types {
			s.Fields = append(s.Fields, Field{Type: typ})
		}
		if got := Features(nil, s)[TypeDiversity]; got != c.want {
			t.Errorf("types %v: got %v, want %v", c.types, got, c.want)
		}
	}
}

func TestRepetition(t *testing.T) {
	if got := Features([]byte("short"), &Structure{Repeating: true})[Repetition]; got != 1 {
		t.Errorf("got %v with a repeating hint, want 1", got)
	}

	rnd := rand.New(rand.NewSource(1))
	block := make([]byte, 4096)
	rnd.Read(block)

	if got := Features(block, nil)[Repetition]; got != 0 {
		t.Errorf("got %v for random content, want 0", got)
	}
	if got := Features(bytes.Repeat(block, 3), nil)[Repetition]; got != 1 {
		t.Errorf("got %v for repeated random content, want 1", got)
	}
}

func TestSimilarityDeterminism(t *testing.T) {
	f := func(content []byte, depth uint8) bool {
		s := &Structure{Depth: int(depth), Fields: []Field{{Name: "a", Type: "string"}}}
		return Similarity(content, s) == Similarity(content, s) && Similarity(content, nil) == Similarity(content, nil)
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestSimilarityChecksum(t *testing.T) {
	f := func(content []byte) bool {
		h := Similarity(content, nil)
		var sum uint8
		for i := 0; i < 7; i++ {
			sum ^= h.Nibble(i)
		}
		return sum == h.Nibble(7)
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestSimilarityMonotonicity(t *testing.T) {
	content := []byte(`{"a":{"b":{"c":1}},"d":"x"}`)
	s1 := &Structure{
		Fields: []Field{{Name: "a.b.c", Type: "number"}, {Name: "d", Type: "string"}},
		Depth:  2,
	}
	s2 := &Structure{
		Fields: s1.Fields,
		Depth:  10,
	}

	h1, h2 := Similarity(content, s1), Similarity(content, s2)
	if h1 == h2 {
		t.Fatalf("similarity hashes equal (%s) despite different nesting depth", h1)
	}

	var differ []int
	for i := 0; i < 8; i++ {
		if h1.Nibble(i) != h2.Nibble(i) {
			differ = append(differ, i)
		}
	}
	if diff := cmp.Diff([]int{3, 7}, differ); diff != "" {
		t.Errorf("differing nibbles of %s and %s mismatch (-want +got):\n%s", h1, h2, diff)
	}
}

func TestMeasure(t *testing.T) {
	content := []byte("hello")
	m := Measure(content, nil)
	if m.Size != 5 {
		t.Errorf("got size %d, want 5", m.Size)
	}
	if m.SimHash != Similarity(content, nil) {
		t.Errorf("got simhash %s, want %s", m.SimHash, Similarity(content, nil))
	}
	if m.Entropy+m.Negentropy != 8 {
		t.Errorf("entropy %v + negentropy %v != 8", m.Entropy, m.Negentropy)
	}
	if diff := cmp.Diff(Features(content, nil), m.Features); diff != "" {
		t.Errorf("features mismatch (-want +got):\n%s", diff)
	}
}
