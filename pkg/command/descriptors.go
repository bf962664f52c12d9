package command

// ToolDescriptor is the JSON-schema-shaped description of a command,
// served to external tool consumers.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolDescriptors renders every registered command as a tool descriptor
func (r *Registry) ToolDescriptors() []ToolDescriptor {
	cmds := r.List()
	descriptors := make([]ToolDescriptor, 0, len(cmds))
	for _, cmd := range cmds {
		properties := map[string]any{}
		var required []string
		for _, p := range cmd.Params {
			prop := map[string]any{"type": schemaType(p.Type)}
			if p.Description != "" {
				prop["description"] = p.Description
			}
			if p.Default != nil {
				prop["default"] = p.Default
			}
			if len(p.Choices) > 0 {
				prop["enum"] = p.Choices
			}
			if p.Type == TypeArray {
				prop["items"] = map[string]any{"type": "string"}
			}
			properties[p.Name] = prop
			if p.Required {
				required = append(required, p.Name)
			}
		}
		schema := map[string]any{
			"type":       "object",
			"properties": properties,
		}
		if len(required) > 0 {
			schema["required"] = required
		}
		descriptors = append(descriptors, ToolDescriptor{
			Name:        cmd.Name,
			Description: cmd.Description,
			InputSchema: schema,
		})
	}
	return descriptors
}

func schemaType(t ParamType) string {
	switch t {
	case TypeNumber:
		return "number"
	case TypeBoolean:
		return "boolean"
	case TypeArray:
		return "array"
	default:
		return "string"
	}
}
