// Package answer turns retrieved reviews into an answer for the user.
package answer

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"

	"carreviews/internal/domain"
)

// DefaultMaxSentences bounds the length of an extractive answer.
const DefaultMaxSentences = 5

var (
	tokenPattern    = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentencePattern = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

// Extractive answers by ranking the sentences of the retrieved reviews by
// word frequency, weighted towards words that also appear in the question.
// It needs no network access.
type Extractive struct {
	maxSentences int
	stopwords    map[string]struct{}
}

func NewExtractive(maxSentences int) *Extractive {
	if maxSentences <= 0 {
		maxSentences = DefaultMaxSentences
	}
	return &Extractive{maxSentences: maxSentences, stopwords: defaultStopwords()}
}

// Answer returns up to maxSentences sentences drawn from matches, kept in
// retrieval order.
func (s *Extractive) Answer(ctx context.Context, question string, matches []domain.Match) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var sentences []string
	for _, m := range matches {
		found := sentencePattern.FindAllString(m.Text, -1)
		if len(found) == 0 && strings.TrimSpace(m.Text) != "" {
			found = []string{m.Text}
		}
		for _, f := range found {
			if f = strings.TrimSpace(f); f != "" {
				sentences = append(sentences, f)
			}
		}
	}
	if len(sentences) == 0 {
		return "", nil
	}

	freq := map[string]float64{}
	for _, sent := range sentences {
		for _, tok := range s.tokens(sent) {
			if _, ok := s.stopwords[tok]; ok {
				continue
			}
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}
	if maxF > 0 {
		for k, v := range freq {
			freq[k] = v / maxF
		}
	}
	// question words count double
	for _, tok := range s.tokens(question) {
		if v, ok := freq[tok]; ok {
			freq[tok] = v + 1
		}
	}

	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(sentences))
	for i, sent := range sentences {
		toks := s.tokens(sent)
		total := 0.0
		for _, tok := range toks {
			total += freq[tok]
		}
		if len(toks) > 0 {
			total /= math.Sqrt(float64(len(toks)))
		}
		scores[i] = scored{i, total}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	n := min(s.maxSentences, len(scores))
	selected := make([]int, n)
	for i := range selected {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)
	out := make([]string, n)
	for i, idx := range selected {
		out[i] = sentences[idx]
	}
	return strings.Join(out, " "), nil
}

func (s *Extractive) tokens(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"i", "my", "me", "we", "our", "you", "your", "find", "some", "car",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

var _ domain.Synthesizer = (*Extractive)(nil)
