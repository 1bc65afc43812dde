package ingest

import "strings"

const (
	defaultChunkSize = 1000
	defaultOverlap   = 200
)

// Chunk is one retrievable unit produced from a document.
type Chunk struct {
	Index int
	Text  string
	Page  int
}

// chunkPages applies a rune-aware sliding window (size/overlap in runes)
// across the concatenated page texts, tracking which page each chunk starts
// on. Empty chunks are dropped.
func chunkPages(pages []Page, size, overlap int) []Chunk {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = defaultOverlap
	}

	// Concatenate while recording the starting rune offset of every page.
	var all []rune
	type pageStart struct {
		offset int
		number int
	}
	var starts []pageStart
	for _, p := range pages {
		starts = append(starts, pageStart{offset: len(all), number: p.Number})
		all = append(all, []rune(p.Text)...)
		all = append(all, '\n')
	}

	pageAt := func(offset int) int {
		page := 0
		for _, s := range starts {
			if s.offset > offset {
				break
			}
			page = s.number
		}
		return page
	}

	var chunks []Chunk
	idx := 0
	for start := 0; start < len(all); start += size - overlap {
		end := start + size
		if end > len(all) {
			end = len(all)
		}
		text := strings.TrimSpace(string(all[start:end]))
		if text != "" {
			chunks = append(chunks, Chunk{Index: idx, Text: text, Page: pageAt(start)})
			idx++
		}
		if end == len(all) {
			break
		}
	}
	return chunks
}
