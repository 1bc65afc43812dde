// Package chat is the per-request streaming pipeline: history load, context
// assembly, agent selection, SSE relay, edit parsing, persistence, and
// best-effort memory write-back.
package chat

// Frame is one SSE payload, discriminated by its "type" key.
type Frame map[string]any

// Emitter writes a single frame to the client stream. The handler owns the
// response writer; frames within one request are written by one goroutine.
type Emitter func(Frame) error

// ToolInfo is the display metadata attached to tool frames.
type ToolInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Icon        string `json:"icon"`
	Description string `json:"description"`
}

// toolDisplayInfo maps tool ids to human-readable display metadata.
var toolDisplayInfo = map[string]ToolInfo{
	"search_user_document": {
		Name:        "업로드 문서 검색",
		Icon:        "file-search",
		Description: "업로드한 문서에서 관련 내용을 검색했습니다.",
	},
	"search_trade_documents": {
		Name:        "무역 지식 검색",
		Icon:        "document",
		Description: "무역 문서 데이터베이스에서 관련 정보를 검색했습니다.",
	},
	"search_web": {
		Name:        "웹 검색",
		Icon:        "web",
		Description: "최신 정보를 위해 웹 검색을 수행했습니다.",
	},
}

func displayInfo(toolName string) ToolInfo {
	if info, ok := toolDisplayInfo[toolName]; ok {
		info.ID = toolName
		return info
	}
	return ToolInfo{
		ID:          toolName,
		Name:        toolName,
		Icon:        "tool",
		Description: toolName + " 도구를 사용했습니다.",
	}
}

func errorFrame(msg string) Frame { return Frame{"type": "error", "error": msg} }

func textFrame(content string) Frame {
	return Frame{"type": "text", "content": content}
}
func toolFrame(info ToolInfo) Frame { return Frame{"type": "tool", "tool": info} }
func doneFrame(toolsUsed []ToolInfo) Frame {
	if toolsUsed == nil {
		toolsUsed = []ToolInfo{}
	}
	return Frame{"type": "done", "tools_used": toolsUsed}
}
func contextFrame(summary string) Frame { return Frame{"type": "context", "summary": summary} }
