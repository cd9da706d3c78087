package ltm

import (
	"math"
	"sort"
)

// CandidateTolerance is how far below the threshold a float32 vector index
// must still return candidates. Indexes only preselect; Rank recomputes the
// final scores in float64 so that every backend agrees with the in-memory path.
const CandidateTolerance = 1e-4

// CandidateCutoff is the lowest index score worth rescoring for threshold.
func CandidateCutoff(threshold float64) float64 {
	return threshold - CandidateTolerance
}

// CosineSimilarity returns the normalized dot product of a and b.
// Vectors of different length, empty vectors, zero-magnitude vectors and
// non-finite results all yield 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(sim) || math.IsInf(sim, 0) {
		return 0
	}
	// rounding can push |sim| slightly past 1
	return math.Max(-1, math.Min(1, sim))
}

// Score is the best of the four cross-task similarities between a query and a record.
func Score(queryRetrieval, querySemantic []float64, record MemoryRecord) float64 {
	return max(
		CosineSimilarity(queryRetrieval, record.EmbeddingRetrieval),
		CosineSimilarity(queryRetrieval, record.EmbeddingSemantic),
		CosineSimilarity(querySemantic, record.EmbeddingSemantic),
		CosineSimilarity(querySemantic, record.EmbeddingRetrieval),
	)
}

// Rank applies query to records in memory: filter by sequence, score, drop
// anything under the threshold, keep the best score per text, sort best
// first and truncate to the limit. Backends without native vector search
// and the memory manager share it.
func Rank(records []MemoryRecord, query VectorQuery) []ScoredText {
	filter := Filter{MaxSequenceID: query.MaxSequenceID}
	best := make(map[string]float64)
	for _, record := range records {
		if !filter.Matches(record) {
			continue
		}
		score := Score(query.Retrieval, query.Semantic, record)
		if score < query.Threshold {
			continue
		}
		if prev, ok := best[record.Text]; !ok || score > prev {
			best[record.Text] = score
		}
	}
	return topScores(best, query.Limit)
}

func topScores(best map[string]float64, limit int) []ScoredText {
	results := make([]ScoredText, 0, len(best))
	for text, score := range best {
		results = append(results, ScoredText{Text: text, Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Text < results[j].Text
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
