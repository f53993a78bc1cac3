package summarizer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ChristophFri/X-Feed-Reader/internal/domain"
	"github.com/ChristophFri/X-Feed-Reader/internal/ports"
)

const keywordTopN = 8

// KeywordBackend is the terminal fallback: pure local keyword
// extraction, defined to never fail.
type KeywordBackend struct{}

var _ ports.SummaryBackend = (*KeywordBackend)(nil)

// NewKeywordBackend needs no configuration.
func NewKeywordBackend() *KeywordBackend { return &KeywordBackend{} }

// Name identifies the backend in briefings and diagnostics.
func (b *KeywordBackend) Name() string { return "keyword" }

var stopwords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"a", "an", "and", "are", "as", "at", "be", "but", "by", "for",
		"from", "has", "have", "he", "her", "his", "i", "if", "in", "is",
		"it", "its", "just", "me", "my", "no", "not", "of", "on", "or",
		"our", "out", "she", "so", "that", "the", "their", "them", "they",
		"this", "to", "up", "was", "we", "were", "what", "when", "who",
		"will", "with", "you", "your",
	} {
		stopwords[w] = struct{}{}
	}
}

// Summarize builds a markdown digest from word frequencies: the top
// topics across the batch plus a one-line entry per post.
func (b *KeywordBackend) Summarize(_ context.Context, _ domain.Owner, items []domain.FeedItem, window domain.TimeRange) (string, domain.BriefingFormat, error) {
	counts := map[string]int{}
	for _, item := range items {
		for _, word := range tokenize(item.Text) {
			counts[word]++
		}
	}

	type freq struct {
		word string
		n    int
	}
	ranked := make([]freq, 0, len(counts))
	for word, n := range counts {
		ranked = append(ranked, freq{word, n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].n != ranked[j].n {
			return ranked[i].n > ranked[j].n
		}
		return ranked[i].word < ranked[j].word
	})
	if len(ranked) > keywordTopN {
		ranked = ranked[:keywordTopN]
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# Feed digest (%s to %s)\n\n",
		window.From.Format("Jan 2 15:04"), window.To.Format("Jan 2 15:04")))

	if len(ranked) > 0 {
		sb.WriteString("**Topics:** ")
		words := make([]string, len(ranked))
		for i, f := range ranked {
			words[i] = f.word
		}
		sb.WriteString(strings.Join(words, ", "))
		sb.WriteString("\n\n")
	}

	sb.WriteString(fmt.Sprintf("%d new posts:\n\n", len(items)))
	for _, item := range items {
		sb.WriteString(fmt.Sprintf("- @%s: %s\n", item.Author, headline(item.Text)))
	}

	return sb.String(), domain.FormatMarkdown, nil
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '#' || r == '@' || r == '\'')
	})

	words := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if len(f) < 3 {
			continue
		}
		if _, skip := stopwords[f]; skip {
			continue
		}
		words = append(words, f)
	}
	return words
}

func headline(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	const limit = 120
	if len(text) <= limit {
		return text
	}
	cut := strings.LastIndexByte(text[:limit], ' ')
	if cut <= 0 {
		cut = limit
	}
	return text[:cut] + "…"
}
