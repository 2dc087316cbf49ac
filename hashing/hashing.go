// Package hashing computes the content measurements behind an object's metadata:
// its exact hash,
// its byte entropy and negentropy,
// a vector of structural features,
// and the quantized similarity hash built from them.
//
// Everything here is a pure function of its inputs.
package hashing

import (
	"crypto/sha256"
	"math"

	"github.com/bobg/hashsplit"

	"github.com/bobg/lineage"
)

// Names of the structural features.
const (
	FieldCount     = "field_count"
	NestingDepth   = "nesting_depth"
	TypeDiversity  = "type_diversity"
	Repetition     = "repetition"
	ByteUniformity = "byte_uniformity"
)

// FeatureNames lists the structural features in similarity-hash order.
var FeatureNames = []string{FieldCount, NestingDepth, TypeDiversity, Repetition, ByteUniformity}

const (
	maxFields = 32
	maxDepth  = 16

	// Parameters for the content-defined chunking that detects repetition.
	chunkMinSize   = 64
	chunkSplitBits = 6
)

// Field is one field of a Structure.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Structure is an optional hint describing the shape of some content.
// It comes from a pattern (see the pattern package).
// A nil *Structure means only byte-level features are available.
type Structure struct {
	Fields    []Field `json:"fields"`
	Depth     int     `json:"depth"`
	Repeating bool    `json:"repeating"`
}

// Measurement bundles every value computed from some content.
type Measurement struct {
	Hash       lineage.Hash
	SimHash    lineage.SimHash
	Size       int
	Entropy    float64
	Negentropy float64
	Features   map[string]float64
}

// Measure computes all measurements of content.
func Measure(content []byte, s *Structure) Measurement {
	var (
		e     = Entropy(content)
		feats = Features(content, s)
	)
	return Measurement{
		Hash:       lineage.ExactHash(content),
		SimHash:    pack(e, feats),
		Size:       len(content),
		Entropy:    e,
		Negentropy: 8 - e,
		Features:   feats,
	}
}

// Entropy is the Shannon entropy, in bits, of the byte-value distribution of b.
// It lies in [0,8].
// Empty input has entropy 0.
func Entropy(b []byte) float64 {
	if len(b) == 0 {
		return 0
	}
	var counts [256]int
	for _, c := range b {
		counts[c]++
	}
	return clamp(histEntropy(counts[:], len(b)), 0, 8)
}

// Negentropy is 8 minus the Entropy of b.
func Negentropy(b []byte) float64 {
	return 8 - Entropy(b)
}

func histEntropy(counts []int, total int) float64 {
	var e float64
	n := float64(total)
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		e -= p * math.Log2(p)
	}
	return e
}

// Features computes the structural feature vector of content.
// Every value lies in [0,1].
// With a nil Structure the structure-derived features are 0
// and only the byte-level ones carry information.
func Features(content []byte, s *Structure) map[string]float64 {
	out := map[string]float64{
		FieldCount:     0,
		NestingDepth:   0,
		TypeDiversity:  0,
		Repetition:     0,
		ByteUniformity: byteUniformity(content),
	}
	if s != nil {
		out[FieldCount] = float64(minInt(len(s.Fields), maxFields)) / maxFields
		out[NestingDepth] = float64(minInt(maxInt(s.Depth, 0), maxDepth)) / maxDepth
		out[TypeDiversity] = typeDiversity(s.Fields)
		if s.Repeating {
			out[Repetition] = 1
		}
	}
	if out[Repetition] == 0 && hasRepeatedChunk(content) {
		out[Repetition] = 1
	}
	return out
}

// Similarity computes the similarity hash of content.
func Similarity(content []byte, s *Structure) lineage.SimHash {
	return pack(Entropy(content), Features(content, s))
}

func pack(entropy float64, feats map[string]float64) lineage.SimHash {
	vals := []float64{entropy / 8, (8 - entropy) / 8}
	for _, name := range FeatureNames {
		vals = append(vals, feats[name])
	}

	var (
		out uint32
		sum uint32
	)
	for _, v := range vals {
		q := quantize(v)
		out = out<<4 | q
		sum ^= q
	}
	return lineage.SimHash(out<<4 | sum)
}

// quantize maps v in [0,1] to one of 16 levels.
func quantize(v float64) uint32 {
	return uint32(math.Round(clamp(v, 0, 1) * 15))
}

func typeDiversity(fields []Field) float64 {
	if len(fields) < 2 {
		return 0
	}
	counts := make(map[string]int)
	for _, f := range fields {
		counts[f.Type]++
	}
	hist := make([]int, 0, len(counts))
	for _, c := range counts {
		hist = append(hist, c)
	}
	return clamp(histEntropy(hist, len(fields))/math.Log2(float64(len(fields))), 0, 1)
}

// byteUniformity is 1/(1+χ²/n),
// where χ² measures how far the byte histogram of b is from uniform
// and n is the length of b.
func byteUniformity(b []byte) float64 {
	if len(b) == 0 {
		return 0
	}
	var counts [256]int
	for _, c := range b {
		counts[c]++
	}
	var (
		n        = float64(len(b))
		expected = n / 256
		chi2     float64
	)
	for _, c := range counts {
		d := float64(c) - expected
		chi2 += d * d / expected
	}
	return 1 / (1 + chi2/n)
}

// hasRepeatedChunk tells whether content-defined chunking of b
// yields the same chunk more than once.
func hasRepeatedChunk(b []byte) bool {
	if len(b) < 2*chunkMinSize {
		return false
	}

	var (
		seen     = make(map[[sha256.Size]byte]struct{})
		repeated bool
	)
	spl := hashsplit.NewSplitter(func(chunk []byte, _ uint) error {
		sum := sha256.Sum256(chunk)
		if _, ok := seen[sum]; ok {
			repeated = true
		}
		seen[sum] = struct{}{}
		return nil
	})
	spl.MinSize = chunkMinSize
	spl.SplitBits = chunkSplitBits

	// The callback never fails, so neither do these.
	_, _ = spl.Write(b)
	_ = spl.Close()

	return repeated
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
