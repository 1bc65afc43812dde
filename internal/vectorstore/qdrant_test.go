package vectorstore

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestPointIDDeterministic(t *testing.T) {
	a := PointID("doc_5_chunk_0")
	b := PointID("doc_5_chunk_0")
	c := PointID("doc_5_chunk_1")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}

func TestPointIDPassesThroughUUIDs(t *testing.T) {
	id := uuid.NewString()
	assert.Equal(t, id, PointID(id))
}
