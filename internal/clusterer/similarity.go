package clusterer

import "math"

// Weights of the combined similarity score.
const (
	titleWeight   = 0.55
	keywordWeight = 0.25
	entityWeight  = 0.20
)

// trigrams returns character trigram counts for a normalized string.
func trigrams(s string) map[string]int {
	runes := []rune(s)
	if len(runes) < 3 {
		return nil
	}
	grams := make(map[string]int, len(runes)-2)
	for i := 0; i+3 <= len(runes); i++ {
		grams[string(runes[i:i+3])]++
	}
	return grams
}

// TrigramCosine computes cosine similarity between the character trigram
// count vectors of two normalized titles. Either side lacking trigrams
// scores zero.
func TrigramCosine(a, b string) float64 {
	ga, gb := trigrams(a), trigrams(b)
	if len(ga) == 0 || len(gb) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for g, ca := range ga {
		normA += float64(ca * ca)
		if cb, ok := gb[g]; ok {
			dot += float64(ca * cb)
		}
	}
	for _, cb := range gb {
		normB += float64(cb * cb)
	}

	if dot == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Jaccard computes set overlap over union for two string sets.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := Intersection(a, b)
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Intersection counts elements present in both sets.
func Intersection(a, b []string) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[s] = true
	}
	n := 0
	for _, s := range b {
		if set[s] {
			n++
			set[s] = false
		}
	}
	return n
}

// Score combines the three signals into the similarity used for matching.
func Score(item Signature, candidateTitle string, candidateKeywords, candidateEntities []string) float64 {
	return titleWeight*TrigramCosine(item.Title, normalize(candidateTitle)) +
		keywordWeight*Jaccard(item.Keywords, candidateKeywords) +
		entityWeight*Jaccard(item.Entities, candidateEntities)
}
