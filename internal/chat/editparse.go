package chat

import (
	"encoding/json"
	"regexp"
	"strings"
)

// EditChange is one canonical field mutation.
type EditChange struct {
	FieldID string `json:"fieldId"`
	Value   string `json:"value"`
}

// EditResponse is a structured edit instruction decoded from the agent's
// final text.
type EditResponse struct {
	Type    string       `json:"type"`
	Message string       `json:"message"`
	Changes []EditChange `json:"changes"`
}

var jsonBlockRe = regexp.MustCompile("```json\\s*([\\s\\S]*?)\\s*```")

// ParseEditResponse extracts an edit instruction from the assistant's text.
// It accepts the canonical {fieldId,value} change shape and the legacy
// {field,before,after} shape (mapped to canonical). A nil return means the
// response is plain chat.
func ParseEditResponse(text string) *EditResponse {
	jsonStr := strings.TrimSpace(text)
	if m := jsonBlockRe.FindStringSubmatch(text); m != nil {
		jsonStr = m[1]
	}

	var parsed struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Changes []struct {
			FieldID *string `json:"fieldId"`
			Value   *string `json:"value"`
			Field   *string `json:"field"`
			After   *string `json:"after"`
		} `json:"changes"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return nil
	}
	if parsed.Type != "edit" {
		return nil
	}

	changes := make([]EditChange, 0, len(parsed.Changes))
	for _, c := range parsed.Changes {
		switch {
		case c.FieldID != nil && c.Value != nil:
			changes = append(changes, EditChange{FieldID: *c.FieldID, Value: *c.Value})
		case c.Field != nil && c.After != nil:
			changes = append(changes, EditChange{FieldID: *c.Field, Value: *c.After})
		}
	}
	return &EditResponse{Type: "edit", Message: parsed.Message, Changes: changes}
}
