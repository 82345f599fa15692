package models

// FieldSchema describes one required field of a schema-directed refinement query, collected
// by unioning every configured artifact's template declarations (spec.md §4.4).
type FieldSchema struct {
	Description string       `yaml:"description" json:"description"`
	Structure   FieldStructure `yaml:"structure" json:"structure"`
}

// FieldStructure is either a primitive type tag ("string", "number", "boolean") or a shape
// descriptor over those primitives (an array or a nested object).
type FieldStructure struct {
	// Primitive holds a bare type tag, e.g. "string" or "number". Empty if this is a shape.
	Primitive string `yaml:"-" json:"-"`

	// Kind is "primitive", "array", or "object".
	Kind string `yaml:"kind" json:"kind"`
	// Of is the element structure for an array.
	Of *FieldStructure `yaml:"of,omitempty" json:"of,omitempty"`
	// Fields is the member structure for an object.
	Fields map[string]FieldStructure `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// Equal reports whether two field structures describe the same shape, used to detect
// TemplateSchemaConflict when two templates declare the same field name with incompatible
// structures.
func (a FieldStructure) Equal(b FieldStructure) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case "primitive":
		return a.Primitive == b.Primitive
	case "array":
		if a.Of == nil || b.Of == nil {
			return a.Of == b.Of
		}
		return a.Of.Equal(*b.Of)
	case "object":
		if len(a.Fields) != len(b.Fields) {
			return false
		}
		for k, v := range a.Fields {
			ov, ok := b.Fields[k]
			if !ok || !v.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// DefaultSchema is the fallback schema used when the artifact list is empty or no template
// declares fields (spec.md §4.3 REFINE).
func DefaultSchema() map[string]FieldSchema {
	str := FieldStructure{Kind: "primitive", Primitive: "string"}
	arr := FieldStructure{Kind: "array", Of: &FieldStructure{Kind: "primitive", Primitive: "string"}}
	return map[string]FieldSchema{
		"clean_text":     {Description: "Cleaned transcript text", Structure: str},
		"summary":        {Description: "A concise summary", Structure: str},
		"key_takeaways":  {Description: "Key takeaways", Structure: arr},
		"participants":   {Description: "Participants mentioned or speaking", Structure: arr},
		"quotes":         {Description: "Notable quotes", Structure: arr},
		"action_items":   {Description: "Action items", Structure: arr},
	}
}
