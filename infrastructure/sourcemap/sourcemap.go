package sourcemap

import (
	"encoding/json"
	"fmt"
)

// rawSourceMap mirrors the on-disk source map v3 JSON shape.
type rawSourceMap struct {
	Version        int      `json:"version"`
	File           string   `json:"file"`
	Sources        []string `json:"sources"`
	SourcesContent []string `json:"sourcesContent"`
	Names          []string `json:"names"`
	Mappings       string   `json:"mappings"`
}

// SourceMap is a parsed, indexed source map v3 document.
type SourceMap struct {
	File           string
	Sources        []string
	SourcesContent []string
	Names          []string
	Index          *MappingIndex
}

// Position is an original-source location resolved from a generated
// position, with embedded source content when available.
type Position struct {
	Source        string
	Line          uint32
	Column        uint32
	Name          string
	HasName       bool
	SourceContent string
	HasContent    bool
}

// Parse decodes a source map v3 JSON document and indexes its mappings.
func Parse(data []byte) (*SourceMap, error) {
	var raw rawSourceMap
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("sourcemap: invalid JSON: %w", err)
	}

	idx, err := DecodeMappings(raw.Mappings)
	if err != nil {
		return nil, err
	}

	return &SourceMap{
		File:           raw.File,
		Sources:        raw.Sources,
		SourcesContent: raw.SourcesContent,
		Names:          raw.Names,
		Index:          idx,
	}, nil
}

// Lookup resolves a 0-indexed generated (line, column) to its original
// position, returning false if no mapping covers that position.
func (sm *SourceMap) Lookup(line, column uint32) (Position, bool) {
	m, ok := sm.Index.Find(line, column)
	if !ok {
		return Position{}, false
	}

	pos := Position{
		Line:   m.OriginalLine,
		Column: m.OriginalColumn,
	}

	if int(m.SourceIndex) < len(sm.Sources) {
		pos.Source = sm.Sources[m.SourceIndex]
	}
	if int(m.SourceIndex) < len(sm.SourcesContent) {
		pos.SourceContent = sm.SourcesContent[m.SourceIndex]
		pos.HasContent = pos.SourceContent != ""
	}
	if m.NameIndex != nil && int(*m.NameIndex) < len(sm.Names) {
		pos.Name = sm.Names[*m.NameIndex]
		pos.HasName = true
	}

	return pos, true
}
