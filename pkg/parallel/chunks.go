package parallel

// Chunk is a half-open index range [Start, End) handed to one task.
type Chunk struct {
	Index int
	Start int
	End   int
}

// Len returns the number of items in the chunk.
func (c Chunk) Len() int {
	return c.End - c.Start
}

// Split divides n items into consecutive chunks of at most size items.
func Split(n, size int) []Chunk {
	if n <= 0 {
		return nil
	}
	if size <= 0 {
		size = n
	}

	chunks := make([]Chunk, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Start: start, End: end})
	}
	return chunks
}

// MapChunks runs fn for every chunk on a pool of the given size and returns
// the results indexed by chunk. Reducing the returned slice in order gives the
// same answer regardless of worker count or scheduling.
func MapChunks[T any](workers, n, size int, fn func(Chunk) T) ([]T, error) {
	chunks := Split(n, size)
	results := make([]T, len(chunks))
	if len(chunks) == 0 {
		return results, nil
	}

	if workers > len(chunks) {
		workers = len(chunks)
	}
	pool, err := NewWorkerPool(workers)
	if err != nil {
		return nil, err
	}

	for _, c := range chunks {
		if !pool.Submit(func() { results[c.Index] = fn(c) }) {
			pool.Close()
			return nil, ErrPoolClosed
		}
	}

	if err := pool.Close(); err != nil {
		return nil, err
	}
	return results, nil
}
