package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEditResponseFencedBlock(t *testing.T) {
	text := "가격을 수정했습니다.\n```json\n{\"type\":\"edit\",\"message\":\"가격 변경\",\"changes\":[{\"fieldId\":\"price\",\"value\":\"USD 50,000\"}]}\n```"
	edit := ParseEditResponse(text)
	require.NotNil(t, edit)
	assert.Equal(t, "edit", edit.Type)
	assert.Equal(t, "가격 변경", edit.Message)
	require.Len(t, edit.Changes, 1)
	assert.Equal(t, EditChange{FieldID: "price", Value: "USD 50,000"}, edit.Changes[0])
}

func TestParseEditResponseBareJSON(t *testing.T) {
	text := `{"type":"edit","message":"m","changes":[{"fieldId":"qty","value":"500"}]}`
	edit := ParseEditResponse(text)
	require.NotNil(t, edit)
	require.Len(t, edit.Changes, 1)
	assert.Equal(t, "qty", edit.Changes[0].FieldID)
}

func TestParseEditResponseLegacyShape(t *testing.T) {
	text := `{"type":"edit","changes":[{"field":"payment","before":"T/T","after":"L/C"}]}`
	edit := ParseEditResponse(text)
	require.NotNil(t, edit)
	require.Len(t, edit.Changes, 1)
	assert.Equal(t, EditChange{FieldID: "payment", Value: "L/C"}, edit.Changes[0])
}

func TestParseEditResponseDropsIncompleteChanges(t *testing.T) {
	text := `{"type":"edit","changes":[{"fieldId":"price"},{"field":"qty"},{"fieldId":"ok","value":"1"}]}`
	edit := ParseEditResponse(text)
	require.NotNil(t, edit)
	require.Len(t, edit.Changes, 1)
	assert.Equal(t, "ok", edit.Changes[0].FieldID)
}

func TestParseEditResponsePlainChat(t *testing.T) {
	assert.Nil(t, ParseEditResponse("FOB는 Free On Board의 약자입니다."))
	assert.Nil(t, ParseEditResponse(`{"type":"chat","message":"hello"}`))
	assert.Nil(t, ParseEditResponse("```json\n{broken\n```"))
}
