package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"tradeassist/internal/memory"
	"tradeassist/internal/persistence"
)

func TestComposeAugmentedMessage(t *testing.T) {
	sections := &contextSections{}
	sections.addMemories(&memory.Context{
		Doc:  []memory.Item{{Memory: "FOB 조건으로 작성 중"}},
		User: []memory.Item{{Memory: "결제는 L/C 선호"}},
	}, nil)
	sections.addSiblings([]siblingSnapshot{{DocType: "offer", Text: "Offer Sheet body"}})
	sections.addHistoryPreview([]persistence.Message{
		{Role: "user", Content: "가격 알려줘"},
		{Role: "agent", Content: "USD 50,000입니다"},
	})

	out := sections.compose("계약서를 작성해줘")

	assert.Contains(t, out, "[사용자 이전 기록]")
	assert.Contains(t, out, "FOB 조건으로 작성 중")
	assert.Contains(t, out, "[이전 step 문서 내용 - 참조용]")
	assert.Contains(t, out, "--- Offer Sheet ---")
	assert.Contains(t, out, "[최근 대화]")
	// The raw message comes last.
	assert.True(t, strings.HasSuffix(out, "계약서를 작성해줘"))

	idx := func(s string) int { return strings.Index(out, s) }
	assert.Less(t, idx("[사용자 이전 기록]"), idx("[이전 step 문서 내용 - 참조용]"))
	assert.Less(t, idx("[이전 step 문서 내용 - 참조용]"), idx("[최근 대화]"))
}

func TestComposeWithoutSectionsIsRawMessage(t *testing.T) {
	sections := &contextSections{}
	assert.Equal(t, "그대로", sections.compose("그대로"))
}

func TestSiblingSnapshotTruncation(t *testing.T) {
	sections := &contextSections{}
	sections.addSiblings([]siblingSnapshot{{DocType: "pi", Text: strings.Repeat("x", 5000)}})
	out := sections.compose("msg")
	assert.Less(t, len(out), 3000)
	assert.Contains(t, out, "Proforma Invoice")
}

func TestHistoryPreviewClipsTurns(t *testing.T) {
	long := strings.Repeat("가", 500)
	msgs := []persistence.Message{
		{Role: "user", Content: "1"},
		{Role: "user", Content: "2"},
		{Role: "user", Content: "3"},
		{Role: "user", Content: long},
	}
	sections := &contextSections{}
	sections.addHistoryPreview(msgs)
	out := sections.compose("m")

	// Only the last three turns appear, each clipped to 100 runes.
	assert.NotContains(t, out, "사용자: 1\n")
	assert.Contains(t, out, "사용자: 2\n")
	assert.NotContains(t, out, long)
	assert.Contains(t, out, string([]rune(long)[:100]))
}

func TestEditorContentSection(t *testing.T) {
	sections := &contextSections{}
	sections.addEditorContent("<p>Price <b>USD 50,000</b></p>")
	out := sections.compose("m")
	assert.Contains(t, out, "[현재 문서 내용]")
	assert.Contains(t, out, "USD 50,000")
	assert.NotContains(t, out, "<b>")
}
