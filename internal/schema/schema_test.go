package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/JonMunkholm/propstage/internal/record"
)

func TestBuiltinDatasets(t *testing.T) {
	extract, ok := Get(PropExtract)
	if !ok {
		t.Fatal("prop_extract not registered")
	}
	if extract.QualifiedTable() != "stg.prop_extract" {
		t.Errorf("QualifiedTable() = %q", extract.QualifiedTable())
	}
	if extract.UniqueKey != "" {
		t.Errorf("prop_extract UniqueKey = %q, want empty", extract.UniqueKey)
	}

	latest, ok := Get(PropLatest)
	if !ok {
		t.Fatal("prop_latest not registered")
	}
	if latest.UniqueKey != "property_id" {
		t.Errorf("prop_latest UniqueKey = %q, want property_id", latest.UniqueKey)
	}

	tests := []struct {
		column string
		want   record.SemanticType
	}{
		{"bedrooms", record.TypeNumeric},
		{"est_loantovalue", record.TypeNumeric},
		{"effective_year_built", record.TypeInteger},
		{"pre_fc_recording_date", record.TypeDate},
		{"extract_date", record.TypeDate},
		{"owner_1_first_name", record.TypeText},
	}
	for _, tt := range tests {
		if got := extract.Types[tt.column]; got != tt.want {
			t.Errorf("Types[%s] = %v, want %v", tt.column, got, tt.want)
		}
	}

	if _, err := extract.ValueFuncs(); err != nil {
		t.Errorf("ValueFuncs() error = %v", err)
	}
}

func TestRegister_DuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Register of duplicate key did not panic")
		}
	}()
	Register(Dataset{Key: PropExtract, Schema: "stg", Table: "x"})
}

func TestParse_ExtendsAndOverrides(t *testing.T) {
	data := []byte(`
datasets:
  - key: test_prop_nv
    extends: prop_extract
    table: prop_extract_nv
    types:
      hoa_fee: numeric
      listing_updated_at: timestamp
    renames:
      hoa_fee_amount: hoa_fee
`)

	got, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Parse() returned %d datasets, want 1", len(got))
	}

	d, ok := Get("test_prop_nv")
	if !ok {
		t.Fatal("test_prop_nv not registered")
	}
	if d.QualifiedTable() != "stg.prop_extract_nv" {
		t.Errorf("QualifiedTable() = %q", d.QualifiedTable())
	}
	if d.Types["hoa_fee"] != record.TypeNumeric || d.Types["listing_updated_at"] != record.TypeTimestamp {
		t.Errorf("override types not applied: %v %v", d.Types["hoa_fee"], d.Types["listing_updated_at"])
	}
	if d.Types["bedrooms"] != record.TypeNumeric {
		t.Errorf("inherited type lost: bedrooms = %v", d.Types["bedrooms"])
	}
	if d.Renames["agent_e_mail"] != "agent_email" || d.Renames["hoa_fee_amount"] != "hoa_fee" {
		t.Errorf("renames not merged: %v", d.Renames)
	}

	base, _ := Get(PropExtract)
	if _, leaked := base.Types["hoa_fee"]; leaked {
		t.Error("override mutated the base dataset's type map")
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown base", "datasets:\n  - key: a\n    extends: nope\n"},
		{"unknown type", "datasets:\n  - key: b\n    schema: s\n    table: t\n    types: {x: blob}\n"},
		{"missing table", "datasets:\n  - key: c\n"},
		{"unknown normalizer", "datasets:\n  - key: d\n    schema: s\n    table: t\n    normalizers: {x: nope}\n"},
		{"bad yaml", "datasets: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data)); err == nil {
				t.Error("Parse() error = nil, want error")
			}
		})
	}
}

func TestNormalizeUsState(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Nevada", "NV"},
		{"  new york ", "NY"},
		{"nv", "NV"},
		{"CA", "CA"},
		{"Ontario", "Ontario"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeUsState(tt.input); got != tt.want {
			t.Errorf("NormalizeUsState(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestNormalizeZip(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"89101", "89101"},
		{"89101-1234", "89101"},
		{"2134", "02134"},
		{"2134.0", "02134"},
		{"K1A 0B1", "K1A 0B1"},
	}
	for _, tt := range tests {
		if got := NormalizeZip(tt.input); got != tt.want {
			t.Errorf("NormalizeZip(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestLoadFile_Registers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datasets.yaml")
	yaml := "datasets:\n  - key: test_prop_file\n    extends: prop_extract\n    table: prop_extract_file\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("LoadFile() returned %d datasets, want 1", len(got))
	}
	d, ok := Get("test_prop_file")
	if !ok {
		t.Fatal("test_prop_file not registered by LoadFile")
	}
	if d.QualifiedTable() != "stg.prop_extract_file" {
		t.Errorf("QualifiedTable() = %q", d.QualifiedTable())
	}
}
