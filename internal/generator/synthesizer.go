// Package generator turns a ranked paper set into a grounded,
// citation-checked natural language answer.
package generator

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/jmorrow/paperquery/pkg/types"
)

// Answer is a synthesized response with its verified citations.
type Answer struct {
	Text     string
	CitedIDs []string // paper IDs the answer actually cites, bundle order
	Template string
	Model    string
}

// Synthesizer renders the prompt, calls the completion backend, and
// validates citations against the context bundle.
type Synthesizer struct {
	client ChatClient
	log    *zap.Logger
}

// NewSynthesizer creates a Synthesizer.
func NewSynthesizer(client ChatClient, log *zap.Logger) *Synthesizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Synthesizer{client: client, log: log}
}

// Synthesize generates an answer for the query over the bundle.
//
// Citations are extracted from the generated text and checked against
// the bundle: a citation of a paper number outside the bundle is a
// hallucination and gets logged and dropped from the cited set, but the
// answer text itself is returned as generated. Backend failure after
// the retry budget maps to ErrGenerationUnavailable.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, bundle *types.ContextBundle, includeTrends bool) (*Answer, error) {
	template := selectTemplate(query, includeTrends)
	prompt := renderPrompt(template, renderContext(bundle), query)

	text, err := s.client.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("generation: %w", types.ErrTimeout)
		}
		return nil, fmt.Errorf("%w: %v", types.ErrGenerationUnavailable, err)
	}

	cited, invalid := extractCitations(text, bundle)
	if len(invalid) > 0 {
		s.log.Warn("answer cited papers outside the provided context",
			zap.Ints("invalid_indices", invalid),
			zap.Int("context_size", len(bundle.Entries)))
	}

	return &Answer{
		Text:     text,
		CitedIDs: cited,
		Template: template,
		Model:    s.client.Model(),
	}, nil
}

// citationPattern matches "[Paper 3]" and bare "Paper 3" references.
var citationPattern = regexp.MustCompile(`\[?Paper\s+(\d+)\]?`)

// extractCitations returns the paper IDs cited by the text, in bundle
// order, plus any cited indices with no matching bundle entry.
func extractCitations(text string, bundle *types.ContextBundle) (cited []string, invalid []int) {
	byIndex := make(map[int]string, len(bundle.Entries))
	for _, e := range bundle.Entries {
		byIndex[e.Index] = e.Paper.PaperID
	}

	seen := make(map[int]bool)
	var indices []int
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || seen[n] {
			continue
		}
		seen[n] = true
		if _, ok := byIndex[n]; ok {
			indices = append(indices, n)
		} else {
			invalid = append(invalid, n)
		}
	}

	sort.Ints(indices)
	cited = make([]string, 0, len(indices))
	for _, n := range indices {
		cited = append(cited, byIndex[n])
	}
	return cited, invalid
}
