package catalog

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const calculatorScript = `<#
id: open-calculator
name: Open Calculator
description: Opens the Windows calculator
category: apps
risk_level: low
side_effects: launches a process
parameters: []
examples:
  - description: open calculator
  - description: launch the calculator
#>
Start-Process calc.exe
`

const volumeScript = `<#
.SYNOPSIS
Set volume.
#>
<#
id: set-volume
name: set volume
description: Sets the master volume
category: audio
risk_level: medium
side_effects: changes volume
parameters:
  - name: level
    type: integer
    description: Volume percent
    required: true
  - name: mute
    type: boolean
    description: Mute afterwards
examples:
  - description: set volume to 50
    args: {level: 50}
#>
`

func writeScript(t *testing.T, dir, rel, body string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestExtractMetadataBlock(t *testing.T) {
	block, ok := ExtractMetadataBlock(volumeScript)
	if !ok {
		t.Fatal("expected a metadata block")
	}
	if !strings.HasPrefix(block, "id: set-volume") {
		t.Errorf("block should skip the synopsis comment, got %q", block[:20])
	}

	if _, ok := ExtractMetadataBlock("<# .SYNOPSIS only #>\nWrite-Host hi"); ok {
		t.Error("block without id: should not match")
	}
	if _, ok := ExtractMetadataBlock("Write-Host hi"); ok {
		t.Error("script without block comments should not match")
	}
}

func TestParseMetadata_MissingField(t *testing.T) {
	for _, field := range RequiredFields {
		t.Run(field, func(t *testing.T) {
			block, _ := ExtractMetadataBlock(calculatorScript)
			var kept []string
			for _, line := range strings.Split(block, "\n") {
				if strings.HasPrefix(line, field+":") {
					continue
				}
				if field == "examples" && strings.HasPrefix(line, "  - ") {
					continue
				}
				kept = append(kept, line)
			}

			m, err := ParseMetadata(strings.Join(kept, "\n"))
			if m != nil {
				t.Fatalf("ParseMetadata returned metadata without %q", field)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("error = %v, want *ValidationError", err)
			}
			if ve.Field != field {
				t.Errorf("Field = %q, want %q", ve.Field, field)
			}
		})
	}
}

func TestParseMetadata_NotMapping(t *testing.T) {
	if _, err := ParseMetadata("- id: x\n- name: y"); err == nil {
		t.Fatal("sequence document should be rejected")
	}
	if _, err := ParseMetadata("id: [unclosed"); err == nil {
		t.Fatal("malformed yaml should be rejected")
	}
}

func TestParseMetadata_BareStringExamples(t *testing.T) {
	block := `id: lock-screen
name: Lock Screen
description: Locks the workstation
category: system
risk_level: low
side_effects: [locks session]
parameters: []
examples: ["lock my computer", "lock the screen"]`

	m, err := ParseMetadata(block)
	if err != nil {
		t.Fatalf("ParseMetadata: %v", err)
	}
	got := m.ExamplePhrases()
	if len(got) != 2 || got[0] != "lock my computer" {
		t.Errorf("ExamplePhrases = %v", got)
	}
}

func TestToToolSchema_NoParameters(t *testing.T) {
	block, _ := ExtractMetadataBlock(calculatorScript)
	m, err := ParseMetadata(block)
	if err != nil {
		t.Fatal(err)
	}

	s := ToToolSchema(m)
	if s.Name != "open-calculator" {
		t.Errorf("Name = %q", s.Name)
	}
	want := "Opens the Windows calculator | User might say: open calculator, launch the calculator"
	if s.Description != want {
		t.Errorf("Description = %q, want %q", s.Description, want)
	}
	if s.Parameters.Type != "OBJECT" || len(s.Parameters.Properties) != 0 {
		t.Errorf("Parameters = %+v", s.Parameters)
	}

	data, _ := json.Marshal(s.Parameters)
	if strings.Contains(string(data), "required") {
		t.Errorf("parameterless schema should omit required: %s", data)
	}
}

func TestToToolSchema_Parameters(t *testing.T) {
	block, _ := ExtractMetadataBlock(volumeScript)
	m, err := ParseMetadata(block)
	if err != nil {
		t.Fatal(err)
	}

	s := ToToolSchema(m)
	if strings.HasPrefix(s.Description, "set volume.") {
		t.Errorf("name equal to id words should not prefix: %q", s.Description)
	}
	if got := s.Parameters.Properties["level"].Type; got != "INTEGER" {
		t.Errorf("level type = %q, want INTEGER", got)
	}
	if got := s.Parameters.Properties["mute"].Type; got != "BOOLEAN" {
		t.Errorf("mute type = %q, want BOOLEAN", got)
	}
	if len(s.Parameters.Required) != 1 || s.Parameters.Required[0] != "level" {
		t.Errorf("Required = %v, want [level]", s.Parameters.Required)
	}
}

func TestToToolSchema_NamePrefix(t *testing.T) {
	m := &Metadata{ID: "wifi-toggle", Name: "Toggle Wi-Fi", Description: "Turns wifi on or off"}
	s := ToToolSchema(m)
	if s.Description != "Toggle Wi-Fi. Turns wifi on or off" {
		t.Errorf("Description = %q", s.Description)
	}
}

func TestToToolSchema_DefaultParamType(t *testing.T) {
	m := &Metadata{ID: "x", Parameters: []Parameter{{Name: "path"}}}
	if got := ToToolSchema(m).Parameters.Properties["path"].Type; got != "STRING" {
		t.Errorf("type = %q, want STRING", got)
	}
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "b.ps1", calculatorScript)
	writeScript(t, dir, "sub/a.ps1", volumeScript)
	writeScript(t, dir, "_helper.ps1", calculatorScript)
	writeScript(t, dir, "notes.txt", "hello")

	paths, err := Scan(dir, ".ps1")
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 2 {
		t.Fatalf("Scan returned %v", paths)
	}
	for _, p := range paths {
		if strings.HasPrefix(filepath.Base(p), "_") {
			t.Errorf("helper script %s should be excluded", p)
		}
	}
}

func TestScan_MissingDir(t *testing.T) {
	paths, err := Scan(filepath.Join(t.TempDir(), "nope"), "")
	if err != nil {
		t.Fatalf("Scan missing dir: %v", err)
	}
	if len(paths) != 0 {
		t.Errorf("paths = %v", paths)
	}
}

func TestBuilderGenerate(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "open-calculator.ps1", calculatorScript)
	writeScript(t, dir, "audio/set-volume.ps1", volumeScript)
	writeScript(t, dir, "bare.ps1", "Write-Host 'no metadata'")
	writeScript(t, dir, "broken.ps1", "<#\nid: broken\nname: Broken\n#>")

	cat, err := NewBuilder(dir, "", nil).Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if cat.Len() != 2 {
		t.Fatalf("tools = %d, want 2", cat.Len())
	}
	if _, ok := cat.Tool("broken"); ok {
		t.Error("invalid metadata should be skipped")
	}
	if got := cat.RiskLevel("set-volume"); got != RiskMedium {
		t.Errorf("risk(set-volume) = %q", got)
	}
	if got := cat.RiskLevel("unknown"); got != RiskLow {
		t.Errorf("risk(unknown) = %q, want low", got)
	}
	for _, tool := range cat.Tools {
		if _, ok := cat.RiskLevels[tool.Name]; !ok {
			t.Errorf("tool %s has no risk entry", tool.Name)
		}
	}
}

func TestBuilderGenerate_IDMustMatchFileName(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "wipe.ps1", strings.Replace(calculatorScript, "id: open-calculator", "id: wipe-disk", 1))
	writeScript(t, dir, "open-calculator.ps1", calculatorScript)

	cat, err := NewBuilder(dir, "", nil).Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, ok := cat.Tool("wipe-disk"); ok {
		t.Error("tool whose id differs from its file name should be skipped")
	}
	if _, ok := cat.RiskLevels["wipe-disk"]; ok {
		t.Error("skipped tool should have no risk entry")
	}
	if cat.Len() != 1 {
		t.Errorf("tools = %d, want 1", cat.Len())
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "tools.json")

	cat := New()
	cat.Add(ToolSchema{Name: "a", Description: "A", Parameters: Parameters{Type: ObjectType, Properties: map[string]Property{}}}, "")
	cat.Add(ToolSchema{Name: "b", Description: "B", Parameters: Parameters{Type: ObjectType, Properties: map[string]Property{}}}, RiskHigh)
	if err := cat.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Len() != 2 || got.RiskLevel("a") != RiskLow || got.RiskLevel("b") != RiskHigh {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestLoad_Missing(t *testing.T) {
	cat, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cat.Len() != 0 {
		t.Errorf("missing catalog should be empty")
	}
}

func TestParseRiskLevel(t *testing.T) {
	tests := []struct {
		in     string
		want   RiskLevel
		wantOK bool
	}{
		{"low", RiskLow, true},
		{" HIGH ", RiskHigh, true},
		{"Medium", RiskMedium, true},
		{"critical", "critical", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseRiskLevel(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseRiskLevel(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
