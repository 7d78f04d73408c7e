package catalog

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// RequiredFields lists the keys every metadata block must declare.
var RequiredFields = []string{
	"id",
	"name",
	"description",
	"category",
	"risk_level",
	"side_effects",
	"parameters",
	"examples",
}

var blockCommentRe = regexp.MustCompile(`(?s)<#(.*?)#>`)

// Metadata is the YAML block embedded in a tool script.
type Metadata struct {
	ID          string      `yaml:"id"`
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Category    string      `yaml:"category"`
	RiskLevel   string      `yaml:"risk_level"`
	SideEffects any         `yaml:"side_effects"`
	Parameters  []Parameter `yaml:"parameters"`
	Examples    []Example   `yaml:"examples"`
	Keywords    []string    `yaml:"keywords"`
}

// Parameter is one declared tool argument.
type Parameter struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
}

// Example is a sample utterance for a tool. Examples may be written
// either as a bare string or as a mapping with description and args.
type Example struct {
	Description string         `yaml:"description"`
	Args        map[string]any `yaml:"args"`
}

// UnmarshalYAML accepts both the mapping and the bare-string form.
func (e *Example) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		e.Description = node.Value
		return nil
	}
	type plain Example
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*e = Example(p)
	return nil
}

// ValidationError reports a metadata block that cannot become a tool.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid metadata: " + e.Reason
	}
	return fmt.Sprintf("invalid metadata field %q: %s", e.Field, e.Reason)
}

// ExtractMetadataBlock returns the trimmed text of the first <# ... #>
// block comment that contains "id:".
func ExtractMetadataBlock(content string) (string, bool) {
	for _, m := range blockCommentRe.FindAllStringSubmatch(content, -1) {
		if strings.Contains(m[1], "id:") {
			return strings.TrimSpace(m[1]), true
		}
	}
	return "", false
}

// ParseMetadata decodes block and checks that every required field is
// present. It returns a *ValidationError when the block is not a YAML
// mapping or a required key is absent.
func ParseMetadata(block string) (*Metadata, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(block), &doc); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, &ValidationError{Reason: "metadata is not a mapping"}
	}
	root := doc.Content[0]

	present := make(map[string]bool, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		present[root.Content[i].Value] = true
	}
	for _, f := range RequiredFields {
		if !present[f] {
			return nil, &ValidationError{Field: f, Reason: "missing"}
		}
	}

	var m Metadata
	if err := root.Decode(&m); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}
	if strings.TrimSpace(m.ID) == "" {
		return nil, &ValidationError{Field: "id", Reason: "empty"}
	}
	return &m, nil
}

// LooseMetadata decodes block without enforcing required fields. It is
// used by the semantic index, which tolerates partial metadata.
func LooseMetadata(block string) (*Metadata, bool) {
	var m Metadata
	if err := yaml.Unmarshal([]byte(block), &m); err != nil {
		return nil, false
	}
	return &m, true
}

// ExamplePhrases returns the non-empty example descriptions in order.
func (m *Metadata) ExamplePhrases() []string {
	var out []string
	for _, ex := range m.Examples {
		if d := strings.TrimSpace(ex.Description); d != "" {
			out = append(out, d)
		}
	}
	return out
}
