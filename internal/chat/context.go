package chat

import (
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"tradeassist/internal/memory"
	"tradeassist/internal/persistence"
)

const (
	siblingSnapshotLimit = 1800
	editorContentLimit   = 2000
	historyPreviewTurns  = 3
	historyPreviewChars  = 100
)

// docTypeNames maps doc_type codes to display names used in context labels.
var docTypeNames = map[string]string{
	"offer":    "Offer Sheet",
	"pi":       "Proforma Invoice",
	"contract": "Sales Contract",
	"ci":       "Commercial Invoice",
	"pl":       "Packing List",
}

func docTypeName(code string) string {
	if n, ok := docTypeNames[code]; ok {
		return n
	}
	return code
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

// htmlToText flattens a document version's HTML body for prompting.
func htmlToText(html string) string {
	text, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		text = tagRe.ReplaceAllString(html, " ")
	}
	return strings.TrimSpace(wsRe.ReplaceAllString(text, " "))
}

func memoryLines(items []memory.Item) string {
	var b strings.Builder
	for _, it := range items {
		b.WriteString("- ")
		b.WriteString(it.Memory)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// contextSections accumulates the labeled plain-text blocks prepended to the
// raw user message. No I/O happens here; everything is in-memory data.
type contextSections struct {
	blocks []string
}

func (c *contextSections) add(label, body string) {
	body = strings.TrimSpace(body)
	if body == "" {
		return
	}
	c.blocks = append(c.blocks, label+"\n"+body)
}

func (c *contextSections) addMemories(docCtx *memory.Context, chatCtx *memory.GenChatContext) {
	var parts []string
	if docCtx != nil {
		if len(docCtx.Doc) > 0 {
			parts = append(parts, "[문서 작업 이력]\n"+memoryLines(docCtx.Doc))
		}
		if len(docCtx.User) > 0 {
			parts = append(parts, "[사용자 선호]\n"+memoryLines(docCtx.User))
		}
		if len(docCtx.Buyer) > 0 {
			parts = append(parts, "[거래처 메모]\n"+memoryLines(docCtx.Buyer))
		}
	}
	if chatCtx != nil {
		if len(chatCtx.Chat) > 0 {
			parts = append(parts, "[이전 대화 상세]\n"+memoryLines(chatCtx.Chat))
		}
		if len(chatCtx.User) > 0 {
			parts = append(parts, "[사용자 선호]\n"+memoryLines(chatCtx.User))
		}
	}
	if len(parts) > 0 {
		c.blocks = append(c.blocks, "[사용자 이전 기록]\n"+strings.Join(parts, "\n"))
	}
}

// addSiblings renders the other documents of the trade as reference blocks.
func (c *contextSections) addSiblings(siblings []siblingSnapshot) {
	if len(siblings) == 0 {
		return
	}
	var b strings.Builder
	for _, s := range siblings {
		fmt.Fprintf(&b, "--- %s ---\n%s\n", docTypeName(s.DocType), truncateRunes(s.Text, siblingSnapshotLimit))
	}
	c.add("[이전 step 문서 내용 - 참조용]", b.String())
}

func (c *contextSections) addEditorContent(html string) {
	if strings.TrimSpace(html) == "" {
		return
	}
	c.add("[현재 문서 내용]", truncateRunes(htmlToText(html), editorContentLimit))
}

func (c *contextSections) addHistoryPreview(history []persistence.Message) {
	if len(history) == 0 {
		return
	}
	start := len(history) - historyPreviewTurns
	if start < 0 {
		start = 0
	}
	var b strings.Builder
	for _, m := range history[start:] {
		role := "사용자"
		if m.Role == "agent" {
			role = "어시스턴트"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, truncateRunes(m.Content, historyPreviewChars))
	}
	c.add("[최근 대화]", b.String())
}

// compose concatenates the labeled sections before the raw message.
func (c *contextSections) compose(message string) string {
	if len(c.blocks) == 0 {
		return message
	}
	return strings.Join(c.blocks, "\n\n") + "\n\n" + message
}

type siblingSnapshot struct {
	DocType string
	Text    string
}
