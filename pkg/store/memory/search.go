package memory

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/tracemap/cartograph/pkg/common"
	"github.com/tracemap/cartograph/pkg/store"
)

// trigramThreshold mirrors the default pg_trgm similarity cutoff.
const trigramThreshold = 0.3

const snippetRunes = 240

func (s *Store) TopKByVector(ctx context.Context, queryVector []float32, k int, scope store.Scope) ([]store.SearchHit, error) {
	if k <= 0 {
		return nil, &common.ValidationError{Field: "k", Reason: "must be positive"}
	}
	if len(queryVector) == 0 {
		return nil, &common.ValidationError{Field: "queryVector", Reason: "must not be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkScopeLocked(scope); err != nil {
		return nil, err
	}

	hits := make([]store.SearchHit, 0)
	for docID, rec := range s.documents {
		if !scope.Global() && docID != scope.Document {
			continue
		}
		for _, c := range rec.chunks {
			if len(c.Embedding) == 0 {
				continue
			}
			hits = append(hits, store.SearchHit{
				ID:       c.ID,
				Document: docID,
				Score:    cosineSimilarity(queryVector, c.Embedding),
				Snippet:  snippet(c.Content),
			})
		}
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (s *Store) TopKByText(ctx context.Context, queryText string, k int, scope store.Scope) ([]store.SearchHit, error) {
	if k <= 0 {
		return nil, &common.ValidationError{Field: "k", Reason: "must be positive"}
	}
	terms := strings.Fields(normalizeName(queryText))
	if len(terms) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkScopeLocked(scope); err != nil {
		return nil, err
	}

	hits := make([]store.SearchHit, 0)
	for docID, rec := range s.documents {
		if !scope.Global() && docID != scope.Document {
			continue
		}
		for _, c := range rec.chunks {
			content := normalizeName(c.Content)
			score := 0.0
			matched := true
			for _, term := range terms {
				n := strings.Count(content, term)
				if n == 0 {
					matched = false
					break
				}
				score += float64(n)
			}
			if !matched {
				continue
			}
			hits = append(hits, store.SearchHit{
				ID:       c.ID,
				Document: docID,
				Score:    score,
				Snippet:  snippet(c.Content),
			})
		}
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (s *Store) MatchEntities(ctx context.Context, queryText string, scope store.Scope, limit int) ([]store.EntityMatch, error) {
	if limit <= 0 {
		return nil, &common.ValidationError{Field: "limit", Reason: "must be positive"}
	}
	query := normalizeName(queryText)
	if query == "" {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkScopeLocked(scope); err != nil {
		return nil, err
	}

	queryGrams := trigrams(query)
	matches := make([]store.EntityMatch, 0)
	for _, ent := range s.entities {
		if !scope.Global() && ent.Document != scope.Document {
			continue
		}
		sim := trigramSimilarity(queryGrams, trigrams(normalizeName(ent.Name)))
		if sim < trigramThreshold {
			continue
		}
		matches = append(matches, store.EntityMatch{
			ID:         ent.ID,
			Name:       ent.Name,
			Type:       ent.Type,
			Similarity: sim,
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *Store) checkScopeLocked(scope store.Scope) error {
	if scope.Global() {
		return nil
	}
	if _, ok := s.documents[scope.Document]; !ok {
		return &common.NotFoundError{Kind: "document", ID: scope.Document}
	}
	return nil
}

func sortHits(hits []store.SearchHit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
}

func snippet(content string) string {
	runes := []rune(content)
	if len(runes) <= snippetRunes {
		return content
	}
	return string(runes[:snippetRunes])
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// trigrams returns the padded three-gram set of every word in s, the same
// shape pg_trgm builds for its similarity operator.
func trigrams(s string) map[string]struct{} {
	grams := make(map[string]struct{})
	for _, word := range strings.Fields(s) {
		padded := "  " + word + " "
		for i := 0; i+3 <= len(padded); i++ {
			grams[padded[i:i+3]] = struct{}{}
		}
	}
	return grams
}

func trigramSimilarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for g := range a {
		if _, ok := b[g]; ok {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}
