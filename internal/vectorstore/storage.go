// Package vectorstore persists built retrieval indexes so a restart can skip
// re-embedding every taught question.
package vectorstore

import (
	"encoding/binary"
	"fmt"
	"math"

	"learnbot/internal/domain"
)

// FormatVersion is bumped whenever Document changes incompatibly.
const FormatVersion = 1

// Document is the serialized form of a snapshot.
type Document struct {
	Version   int      `json:"version"`
	Embedder  string   `json:"embedder"`
	Dimension int      `json:"dimension"`
	Entries   []Record `json:"entries"`
}

// Record is one serialized index entry. Vector holds little-endian float32s.
type Record struct {
	Question string   `json:"question"`
	Answers  []string `json:"answers"`
	Vector   []byte   `json:"vector"`
}

// Encode converts a snapshot into its serialized form.
func Encode(snap domain.Snapshot) Document {
	doc := Document{
		Version:   FormatVersion,
		Embedder:  snap.Embedder,
		Dimension: snap.Dimension,
		Entries:   make([]Record, len(snap.Entries)),
	}
	for i, e := range snap.Entries {
		doc.Entries[i] = Record{Question: e.Question, Answers: e.Answers, Vector: Float32ToBytes(e.Vector)}
	}
	return doc
}

// Decode converts a serialized document back into a snapshot.
func Decode(doc Document) (domain.Snapshot, error) {
	if doc.Version != FormatVersion {
		return domain.Snapshot{}, fmt.Errorf("unsupported snapshot version %d", doc.Version)
	}
	snap := domain.Snapshot{
		Embedder:  doc.Embedder,
		Dimension: doc.Dimension,
		Entries:   make([]domain.IndexEntry, len(doc.Entries)),
	}
	for i, r := range doc.Entries {
		if len(r.Vector)%4 != 0 {
			return domain.Snapshot{}, fmt.Errorf("entry %d: truncated vector", i)
		}
		snap.Entries[i] = domain.IndexEntry{Question: r.Question, Answers: r.Answers, Vector: BytesToFloat32(r.Vector)}
	}
	return snap, nil
}

// Float32ToBytes packs v as little-endian IEEE 754 values.
func Float32ToBytes(v []float32) []byte {
	b := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

// BytesToFloat32 is the inverse of Float32ToBytes. Trailing bytes that do not
// form a whole value are ignored.
func BytesToFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
