package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractBuyerFromHTML(t *testing.T) {
	html := `<table><tr><td>To:</td><td>Global Trading Company</td></tr><tr><td>Address</td><td>Seoul</td></tr></table>`
	assert.Equal(t, "Global Trading Company", ExtractBuyer(html))
}

func TestExtractBuyerMessrs(t *testing.T) {
	html := `<p>MESSRS. Pacific Imports</p>`
	assert.Equal(t, "Pacific Imports", ExtractBuyer(html))
}

func TestExtractBuyerLabel(t *testing.T) {
	html := `<div>Buyer: Hanwha Global Tel 02-1234</div>`
	assert.Equal(t, "Hanwha Global", ExtractBuyer(html))
}

func TestExtractBuyerRejectsOutOfRange(t *testing.T) {
	assert.Empty(t, ExtractBuyer("<p>To: A</p>"))
	assert.Empty(t, ExtractBuyer(""))
	assert.Empty(t, ExtractBuyer("<p>no counterparty here</p>"))
}
