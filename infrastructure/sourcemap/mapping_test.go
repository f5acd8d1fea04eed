package sourcemap

import "testing"

func TestDecodeMappings_Simple(t *testing.T) {
	idx, err := DecodeMappings("AAAA")
	if err != nil {
		t.Fatal(err)
	}
	if idx.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", idx.Len())
	}

	m, ok := idx.Find(0, 0)
	if !ok {
		t.Fatal("expected mapping at (0,0)")
	}
	if m.GeneratedLine != 0 || m.GeneratedColumn != 0 || m.SourceIndex != 0 ||
		m.OriginalLine != 0 || m.OriginalColumn != 0 {
		t.Errorf("unexpected mapping: %+v", m)
	}
}

func TestDecodeMappings_MultiLine(t *testing.T) {
	idx, err := DecodeMappings("AAAA;AACA")
	if err != nil {
		t.Fatal(err)
	}
	if idx.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", idx.Len())
	}

	first, ok := idx.Find(0, 0)
	if !ok || first.GeneratedLine != 0 || first.OriginalLine != 0 {
		t.Errorf("first mapping wrong: %+v ok=%v", first, ok)
	}

	second, ok := idx.Find(1, 0)
	if !ok || second.GeneratedLine != 1 || second.OriginalLine != 1 {
		t.Errorf("second mapping wrong: %+v ok=%v", second, ok)
	}
}

func TestMappingIndex_FindClosest(t *testing.T) {
	idx := NewMappingIndex()
	idx.Add(Mapping{GeneratedLine: 0, GeneratedColumn: 0, OriginalLine: 0, OriginalColumn: 0})
	idx.Add(Mapping{GeneratedLine: 0, GeneratedColumn: 10, OriginalLine: 1, OriginalColumn: 5})
	idx.Add(Mapping{GeneratedLine: 0, GeneratedColumn: 20, OriginalLine: 2, OriginalColumn: 10})

	if found, ok := idx.Find(0, 5); !ok || found.GeneratedColumn != 0 || found.OriginalLine != 0 {
		t.Errorf("column 5: got %+v ok=%v", found, ok)
	}
	if found, ok := idx.Find(0, 15); !ok || found.GeneratedColumn != 10 || found.OriginalLine != 1 {
		t.Errorf("column 15: got %+v ok=%v", found, ok)
	}
	if found, ok := idx.Find(0, 25); !ok || found.GeneratedColumn != 20 || found.OriginalLine != 2 {
		t.Errorf("column 25: got %+v ok=%v", found, ok)
	}
}

func TestMappingIndex_Find_ColumnBeforeAll(t *testing.T) {
	idx := NewMappingIndex()
	idx.Add(Mapping{GeneratedLine: 0, GeneratedColumn: 10})

	if _, ok := idx.Find(0, 5); ok {
		t.Error("expected no mapping before the first column on the line")
	}
}

func TestMappingIndex_Find_NoSuchLine(t *testing.T) {
	idx := NewMappingIndex()
	idx.Add(Mapping{GeneratedLine: 0, GeneratedColumn: 0})

	if _, ok := idx.Find(5, 0); ok {
		t.Error("expected no mapping for a line with no entries")
	}
}

func TestDecodeMappings_InvalidChar(t *testing.T) {
	if _, err := DecodeMappings("!!!!"); err == nil {
		t.Error("expected error for invalid VLQ character in mappings")
	}
}

func TestDecodeMappings_NameIndex(t *testing.T) {
	// AAAAC decodes to [0,0,0,0,1]: generated col 0, source 0, orig line 0,
	// orig col 0, name index 1 (delta).
	idx, err := DecodeMappings("AAAAC")
	if err != nil {
		t.Fatal(err)
	}
	m, ok := idx.Find(0, 0)
	if !ok {
		t.Fatal("expected mapping")
	}
	if m.NameIndex == nil || *m.NameIndex != 1 {
		t.Errorf("NameIndex = %v, want 1", m.NameIndex)
	}
}
