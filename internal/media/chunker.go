package media

// Split divides data into chunks of at most maxChunkSize bytes, matching
// MAX_CHUNK_SIZE from the wire contract (default 5000). Returns at least one
// chunk (possibly empty) so total_chunks is always well-defined.
func Split(data []byte, maxChunkSize int) [][]byte {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultMaxChunkSize
	}
	if len(data) == 0 {
		return [][]byte{{}}
	}

	total := (len(data) + maxChunkSize - 1) / maxChunkSize
	chunks := make([][]byte, 0, total)
	for off := 0; off < len(data); off += maxChunkSize {
		end := off + maxChunkSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[off:end])
	}
	return chunks
}

// Join reassembles chunks produced by Split, in chunk_id order, into a
// single contiguous byte slice.
func Join(chunks [][]byte) []byte {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

// DefaultMaxChunkSize mirrors config.DefaultMaxChunkSize without importing
// the config package, keeping media codec-agnostic of process wiring.
const DefaultMaxChunkSize = 5000
