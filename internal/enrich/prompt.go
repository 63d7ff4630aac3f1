package enrich

import (
	"strings"
)

// FunctionName is the tool name the model is asked to call.
const FunctionName = "generate_product_info"

// FunctionDescription accompanies FunctionName in tool definitions.
const FunctionDescription = "Return the English listing title, description and item specifics for one product."

// BuildPrompt renders the instructions for one row. The reference text is
// passed through as-is; it is usually Japanese.
func BuildPrompt(title, description string, attributes []string) string {
	var b strings.Builder
	b.WriteString("Look at the product image, if any, and use the reference information below to write an English product title and description, then fill in the item specifics.\n")
	b.WriteString("Reference title: " + strings.TrimSpace(title) + "\n")
	b.WriteString("Reference description: " + strings.TrimSpace(description) + "\n")
	b.WriteString("Item specifics: " + strings.Join(attributes, ", ") + "\n")
	b.WriteString(`Return JSON with the keys NewTitle, NewDescription and ItemSpecifics.

Rules:
- NewTitle is English and at most 80 characters; a space counts as one character. Use as much of the 80 as possible. If it comes out at 70 characters or fewer, write it again.
- NewDescription leaves out shipping, packaging and purchase notes. Keep the size of the item and notes about scratches, stains or other condition issues.
- Convert sizes given in centimetres to inches in the item specifics.
- Write "N/A" for any item specific you cannot determine.
`)
	return b.String()
}

// ResponseSchema is the JSON schema of the structured answer.
func ResponseSchema(attributes []string) map[string]any {
	props := make(map[string]any, len(attributes))
	for _, name := range attributes {
		props[name] = map[string]any{"type": "string"}
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"NewTitle":       map[string]any{"type": "string"},
			"NewDescription": map[string]any{"type": "string"},
			"ItemSpecifics": map[string]any{
				"type":       "object",
				"properties": props,
			},
		},
		"required": []string{"NewTitle", "NewDescription"},
	}
}

// SummaryPrompt asks for a description cleaned of unrelated wording.
func SummaryPrompt(description string) string {
	return "Summarize and correct the following text: " + strings.TrimSpace(description) + "\n" +
		"Leave out any wording that is not about the product itself. Answer in the language of the text."
}
