package similarity

import "math"

// Vector pairs an embedding with the identity of the row it was computed from.
type Vector struct {
	ID          int64
	ExtractedID int64
	Embedding   []float32
}

// ClusterVectors partitions vectors into clusters of near-duplicate meaning.
//
// For each unvisited vector i in input order, the topK nearest neighbors by
// cosine similarity are queried; every unvisited neighbor j with
// similarity >= simThreshold joins i's cluster and is marked visited. The
// representative i is marked visited before its neighbors are examined.
//
// This is a greedy single-pass partition, not a transitive closure: a point
// claimed by an earlier cluster is never reassigned, even if it is closer to
// a later representative. First representative wins, so the output depends
// on input order — deterministic for a fixed order. Every index 0..n-1
// appears in exactly one cluster; singletons are emitted and must be
// filtered by callers that need cross-document evidence.
func ClusterVectors(vecs []Vector, topK int, simThreshold float64) [][]int {
	n := len(vecs)
	if n == 0 {
		return nil
	}
	if topK <= 0 {
		topK = 1
	}

	// Precompute norms once; cosine similarity then costs one dot product.
	norms := make([]float64, n)
	for i, v := range vecs {
		norms[i] = vectorNorm(v.Embedding)
	}

	visited := make([]bool, n)
	var clusters [][]int

	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}

		cluster := []int{i}
		visited[i] = true

		for _, nb := range nearestNeighbors(vecs, norms, i, topK) {
			if visited[nb.index] {
				continue
			}
			if nb.similarity >= simThreshold {
				cluster = append(cluster, nb.index)
				visited[nb.index] = true
			}
		}

		clusters = append(clusters, cluster)
	}

	return clusters
}

type neighbor struct {
	index      int
	similarity float64
}

// nearestNeighbors returns up to topK neighbors of vecs[query] ordered by
// descending cosine similarity. The query point itself is excluded. The scan
// is exact; corpus sizes here (tens of thousands of short skill embeddings)
// do not justify an approximate index.
func nearestNeighbors(vecs []Vector, norms []float64, query, topK int) []neighbor {
	best := make([]neighbor, 0, topK+1)

	for j := range vecs {
		if j == query {
			continue
		}
		sim := cosine(vecs[query].Embedding, vecs[j].Embedding, norms[query], norms[j])

		// Insertion into a small sorted slice beats a heap at these K values.
		pos := len(best)
		for pos > 0 && best[pos-1].similarity < sim {
			pos--
		}
		if pos >= topK {
			continue
		}
		best = append(best, neighbor{})
		copy(best[pos+1:], best[pos:])
		best[pos] = neighbor{index: j, similarity: sim}
		if len(best) > topK {
			best = best[:topK]
		}
	}

	return best
}

// cosine computes cosine similarity given precomputed norms.
// Zero-norm vectors score 0 against everything.
func cosine(a, b []float32, normA, normB float64) float64 {
	if normA == 0 || normB == 0 || len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (normA * normB)
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
