package sourcemap

import (
	"sort"
	"strings"
)

// Mapping ties a position in the generated file to a position in an
// original source file.
type Mapping struct {
	GeneratedLine   uint32
	GeneratedColumn uint32
	SourceIndex     uint32
	OriginalLine    uint32
	OriginalColumn  uint32
	NameIndex       *uint32
}

// MappingIndex holds mappings sorted by generated line, then generated
// column, to support binary-search lookups.
type MappingIndex struct {
	mappings []Mapping
}

// NewMappingIndex returns an empty index.
func NewMappingIndex() *MappingIndex {
	return &MappingIndex{}
}

// Add appends a mapping. Callers must add mappings in generated-line order;
// DecodeMappings does this naturally since it walks the mappings string
// line by line.
func (idx *MappingIndex) Add(m Mapping) {
	idx.mappings = append(idx.mappings, m)
}

// Len returns the number of mappings in the index.
func (idx *MappingIndex) Len() int {
	return len(idx.mappings)
}

// IsEmpty reports whether the index holds no mappings.
func (idx *MappingIndex) IsEmpty() bool {
	return len(idx.mappings) == 0
}

// Find returns the mapping with the greatest generated column at or before
// column on the given generated line. It returns false if the line has no
// mappings or if column precedes every mapping on that line.
func (idx *MappingIndex) Find(line, column uint32) (Mapping, bool) {
	lineStart := sort.Search(len(idx.mappings), func(i int) bool {
		return idx.mappings[i].GeneratedLine >= line
	})
	lineEnd := sort.Search(len(idx.mappings), func(i int) bool {
		return idx.mappings[i].GeneratedLine > line
	})

	if lineStart >= lineEnd {
		return Mapping{}, false
	}

	lineMappings := idx.mappings[lineStart:lineEnd]
	offset := sort.Search(len(lineMappings), func(i int) bool {
		return lineMappings[i].GeneratedColumn > column
	})

	if offset == 0 {
		return Mapping{}, false
	}
	return lineMappings[offset-1], true
}

// DecodeMappings parses a source map v3 "mappings" string into a
// MappingIndex. Lines are separated by ';', segments within a line by ','.
// A segment decodes to 1, 4, or 5 delta-encoded values; the first is always
// the generated column (reset each line), the rest (when present) are
// source index, original line, original column, and name index, each
// accumulated across the whole mappings string.
func DecodeMappings(mappings string) (*MappingIndex, error) {
	idx := NewMappingIndex()

	var prevSource, prevOriginalLine, prevOriginalColumn, prevName int

	var generatedLine uint32
	for _, line := range strings.Split(mappings, ";") {
		var generatedColumn int

		for _, segment := range strings.Split(line, ",") {
			if segment == "" {
				continue
			}

			values, err := decodeVLQSegment(segment)
			if err != nil {
				return nil, err
			}
			if len(values) == 0 {
				continue
			}

			generatedColumn += values[0]

			if len(values) >= 4 {
				prevSource += values[1]
				prevOriginalLine += values[2]
				prevOriginalColumn += values[3]

				m := Mapping{
					GeneratedLine:   generatedLine,
					GeneratedColumn: uint32(generatedColumn),
					SourceIndex:     uint32(prevSource),
					OriginalLine:    uint32(prevOriginalLine),
					OriginalColumn:  uint32(prevOriginalColumn),
				}

				if len(values) >= 5 {
					prevName += values[4]
					name := uint32(prevName)
					m.NameIndex = &name
				}

				idx.Add(m)
			}
		}

		generatedLine++
	}

	return idx, nil
}
