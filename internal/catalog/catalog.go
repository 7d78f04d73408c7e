// Package catalog turns annotated tool scripts into function-calling tool
// schemas for the reasoning service.
//
// Each script carries a YAML metadata block inside a PowerShell block
// comment (<# ... #>). Scripts with valid metadata become [ToolSchema]
// entries in a [Catalog]; scripts without it are skipped with a warning
// and remain discoverable only through the semantic index.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// RiskLevel classifies how dangerous a tool is to run.
type RiskLevel string

// Recognized risk levels.
const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ParseRiskLevel normalizes s. Unrecognized values are returned as-is
// (lowercased) with ok=false so callers can fail closed.
func ParseRiskLevel(s string) (level RiskLevel, ok bool) {
	l := RiskLevel(strings.ToLower(strings.TrimSpace(s)))
	switch l {
	case RiskLow, RiskMedium, RiskHigh:
		return l, true
	default:
		return l, false
	}
}

// ToolSchema is a function declaration in the form the reasoning
// service accepts.
type ToolSchema struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Parameters  Parameters `json:"parameters"`
}

// Parameters is an OBJECT schema describing a tool's arguments.
type Parameters struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	// Required is nil for tools that declare no parameters, which omits
	// the key from the serialized schema.
	Required []string `json:"required,omitempty"`
}

// Property describes one argument. Type is upper-case (STRING, NUMBER,
// INTEGER, BOOLEAN, ...).
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Catalog is the set of tools offered to the reasoning service plus the
// risk level of each.
type Catalog struct {
	Tools      []ToolSchema         `json:"tools"`
	RiskLevels map[string]RiskLevel `json:"risk_levels"`
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{Tools: []ToolSchema{}, RiskLevels: map[string]RiskLevel{}}
}

// Add appends a tool and records its risk level. An empty level is
// stored as [RiskLow].
func (c *Catalog) Add(tool ToolSchema, level RiskLevel) {
	if level == "" {
		level = RiskLow
	}
	c.Tools = append(c.Tools, tool)
	c.RiskLevels[tool.Name] = level
}

// Tool returns the schema named name.
func (c *Catalog) Tool(name string) (ToolSchema, bool) {
	if c == nil {
		return ToolSchema{}, false
	}
	for _, t := range c.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return ToolSchema{}, false
}

// RiskLevel returns the recorded risk for name, defaulting to [RiskLow]
// for tools the catalog does not know.
func (c *Catalog) RiskLevel(name string) RiskLevel {
	if c == nil {
		return RiskLow
	}
	if l, ok := c.RiskLevels[name]; ok && l != "" {
		return l
	}
	return RiskLow
}

// Len returns the number of tools.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Tools)
}

// Save writes the catalog as indented JSON, creating parent directories.
func (c *Catalog) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create catalog dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}
	return nil
}

// Load reads a catalog file. A missing file yields an empty catalog.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return New(), nil
		}
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	c := New()
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if c.Tools == nil {
		c.Tools = []ToolSchema{}
	}
	if c.RiskLevels == nil {
		c.RiskLevels = map[string]RiskLevel{}
	}
	return c, nil
}
