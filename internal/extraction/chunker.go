package extraction

// Chunking defaults. Sized so a chunk plus prompt scaffolding stays well
// inside the flash-tier context window.
const (
	DefaultChunkMaxChars = 16000
	DefaultChunkOverlap  = 800
)

// TextChunk is one contiguous slice of document text handed to the model.
// Offsets are code-point positions into the full document text, so slicing
// the original text by [StartChar:EndChar) in runes reproduces Text.
type TextChunk struct {
	Text        string `json:"text"`
	StartChar   int    `json:"start_char"`
	EndChar     int    `json:"end_char"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
}

// SplitChunks cuts text into overlapping chunks of at most maxChars code
// points. Boundaries snap to a paragraph break when one falls in the last
// fifth of the proposed chunk, so borrower records are less likely to
// straddle a cut. Empty input yields a single empty chunk.
func SplitChunks(text string, maxChars, overlap int) []TextChunk {
	if maxChars <= 0 {
		maxChars = DefaultChunkMaxChars
	}
	if overlap < 0 || overlap >= maxChars {
		overlap = DefaultChunkOverlap
		if overlap >= maxChars {
			overlap = maxChars / 4
		}
	}

	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return []TextChunk{{Text: "", StartChar: 0, EndChar: 0, ChunkIndex: 0, TotalChunks: 1}}
	}

	var chunks []TextChunk
	start := 0
	for start < n {
		end := start + maxChars
		if end > n {
			end = n
		}
		if end < n {
			if brk := paragraphBreak(runes, start, end); brk > start {
				end = brk
			}
		}
		chunks = append(chunks, TextChunk{
			Text:      string(runes[start:end]),
			StartChar: start,
			EndChar:   end,
		})
		if end >= n {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}

	for i := range chunks {
		chunks[i].ChunkIndex = i
		chunks[i].TotalChunks = len(chunks)
	}
	return chunks
}

// paragraphBreak returns the position just after the last double newline in
// the final fifth of [start,end), or start when there is none.
func paragraphBreak(runes []rune, start, end int) int {
	from := end - (end-start)/5
	if from <= start {
		from = start + 1
	}
	for i := end - 2; i >= from; i-- {
		if runes[i] == '\n' && runes[i+1] == '\n' {
			return i + 2
		}
	}
	return start
}
