package catalog

import "strings"

// ObjectType is the schema type of every tool's parameter block.
const ObjectType = "OBJECT"

// ToToolSchema converts validated metadata into a function declaration.
//
// The description is enriched with example phrases ("| User might say:
// ...") and prefixed with the display name when the name is more than a
// restatement of the id.
func ToToolSchema(m *Metadata) ToolSchema {
	desc := m.Description
	if phrases := m.ExamplePhrases(); len(phrases) > 0 {
		desc += " | User might say: " + strings.Join(phrases, ", ")
	}
	if m.Name != "" && strings.ToLower(m.Name) != strings.ToLower(strings.ReplaceAll(m.ID, "-", " ")) {
		desc = m.Name + ". " + desc
	}

	params := Parameters{Type: ObjectType, Properties: map[string]Property{}}
	if len(m.Parameters) > 0 {
		params.Required = []string{}
		for _, p := range m.Parameters {
			typ := strings.ToUpper(strings.TrimSpace(p.Type))
			if typ == "" {
				typ = "STRING"
			}
			params.Properties[p.Name] = Property{Type: typ, Description: p.Description}
			if p.Required {
				params.Required = append(params.Required, p.Name)
			}
		}
	}

	return ToolSchema{Name: m.ID, Description: desc, Parameters: params}
}
