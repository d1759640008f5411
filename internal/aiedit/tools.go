package aiedit

import (
	"encoding/json"
	"fmt"
)

// Tool names exposed to the assistant
const (
	ToolEditEmail         = "edit_email"
	ToolSectionOperations = "apply_section_operations"
	ToolPatch             = "apply_patch"
)

// Target is the editor state a tool call commits to
type Target interface {
	GetContent() string
	ReplaceHTML(req ReplaceRequest) ReplaceResult
	ApplySections(ops []SectionOp, description string) error
	ApplyPatch(p Patch, description string) error
}

// ToolDefinition describes one callable tool as a JSON schema
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolResult is the outcome of section and patch tool calls
type ToolResult struct {
	Success bool   `json:"success"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

type sectionArgs struct {
	Operations  []SectionOp `json:"operations"`
	Explanation string      `json:"explanation"`
}

type patchArgs struct {
	Patch
	Explanation string `json:"explanation"`
}

// Definitions lists the edit tools in the order they should be offered
func Definitions() []ToolDefinition {
	return []ToolDefinition{
		{
			Name: ToolEditEmail,
			Description: "Replace the whole email table. Regenerate the complete <table> with every row, " +
				"including rows you did not change.",
			Parameters: object(map[string]any{
				"updatedHtml": str("The complete updated HTML table"),
				"explanation": str("Short summary of what changed"),
			}, "updatedHtml", "explanation"),
		},
		{
			Name:        ToolSectionOperations,
			Description: "Add, remove, move, rename or rewrite whole sections of the email by section name.",
			Parameters: object(map[string]any{
				"operations": map[string]any{
					"type": "array",
					"items": object(map[string]any{
						"type": map[string]any{
							"type": "string",
							"enum": []string{string(OpAddSection), string(OpRemoveSection), string(OpMoveSection), string(OpRenameSection), string(OpUpdateContent)},
						},
						"section":  str("Section name to act on"),
						"new_name": str("New section name for update_section_name"),
						"content":  str("Content for add_section and update_section_content"),
						"position": map[string]any{
							"type": "string",
							"enum": []string{string(PositionStart), string(PositionEnd), string(PositionBefore), string(PositionAfter)},
						},
						"target": str("Section name that before/after refers to"),
						"all":    map[string]any{"type": "boolean", "description": "Apply to every section with this name"},
					}, "type", "section"),
				},
				"explanation": str("Short summary of what changed"),
			}, "operations"),
		},
		{
			Name: ToolPatch,
			Description: "Edit text inside a section: retain/delete/insert operations counted in characters " +
				"from the first occurrence of target_text.",
			Parameters: object(map[string]any{
				"target_text": str("Literal text that anchors the cursor"),
				"operations": map[string]any{
					"type": "array",
					"items": object(map[string]any{
						"type": map[string]any{
							"type": "string",
							"enum": []string{string(PatchRetain), string(PatchDelete), string(PatchInsert)},
						},
						"length": map[string]any{"type": "integer", "minimum": 0},
						"value":  str("Text to insert"),
					}, "type"),
				},
				"explanation": str("Short summary of what changed"),
			}, "operations"),
		},
	}
}

// Call decodes args for the named tool and commits it to target
func Call(target Target, name string, args json.RawMessage) (any, error) {
	switch name {
	case ToolEditEmail:
		var req ReplaceRequest
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("invalid %s arguments: %w", name, err)
		}
		return target.ReplaceHTML(req), nil

	case ToolSectionOperations:
		var a sectionArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("invalid %s arguments: %w", name, err)
		}
		return result(target, target.ApplySections(a.Operations, a.Explanation)), nil

	case ToolPatch:
		var a patchArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("invalid %s arguments: %w", name, err)
		}
		return result(target, target.ApplyPatch(a.Patch, a.Explanation)), nil
	}
	return nil, fmt.Errorf("unknown tool %q", name)
}

func result(target Target, err error) ToolResult {
	if err != nil {
		return ToolResult{Success: false, Error: err.Error()}
	}
	return ToolResult{Success: true, Content: target.GetContent()}
}

func object(props map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func str(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}
