package generator

import (
	"fmt"
	"strings"

	"github.com/jmorrow/paperquery/pkg/types"
)

// bytesPerUnit is the crude text-to-unit estimate used for the context
// budget. One unit approximates one token of English text.
const bytesPerUnit = 4

// ContextBuilder packs ranked papers into a generation context without
// exceeding the unit budget.
type ContextBuilder struct {
	MaxUnits int
}

// NewContextBuilder creates a builder with the given budget.
func NewContextBuilder(maxUnits int) *ContextBuilder {
	return &ContextBuilder{MaxUnits: maxUnits}
}

// Build walks the ranked list in order, adding each paper whole until
// the next would exceed the budget. A paper is never truncated mid-text:
// it is included entirely or not at all, and packing stops at the first
// paper that does not fit so relevance order is preserved exactly.
//
// Returns ErrContextBudgetExceeded when even the single top-ranked paper
// does not fit, which signals a configuration problem rather than a
// runtime condition.
func (b *ContextBuilder) Build(ranked []types.RankedResult) (*types.ContextBundle, error) {
	bundle := &types.ContextBundle{}
	if len(ranked) == 0 {
		return bundle, nil
	}

	for i, rr := range ranked {
		cost := paperUnits(len(bundle.Entries)+1, rr.Paper)
		if bundle.UnitsUsed+cost > b.MaxUnits {
			if i == 0 {
				return nil, fmt.Errorf("%w: top paper %s needs %d units, budget is %d",
					types.ErrContextBudgetExceeded, rr.Paper.PaperID, cost, b.MaxUnits)
			}
			break
		}
		bundle.Entries = append(bundle.Entries, types.ContextEntry{
			Index: len(bundle.Entries) + 1,
			Paper: rr.Paper,
			Score: rr.FusedScore,
		})
		bundle.UnitsUsed += cost
	}

	return bundle, nil
}

// paperUnits estimates the unit cost of one rendered context block at
// the index it will actually occupy, so multi-digit paper numbers are
// budgeted at their real width.
func paperUnits(index int, p *types.Paper) int {
	size := len(renderPaperBlock(index, p))
	return (size + bytesPerUnit - 1) / bytesPerUnit
}

// renderPaperBlock formats one paper as a numbered context block. The
// generation model cites papers by this number.
func renderPaperBlock(index int, p *types.Paper) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Paper %d:\n", index)
	fmt.Fprintf(&sb, "Title: %s\n", p.Title)
	if len(p.Authors) > 0 {
		fmt.Fprintf(&sb, "Authors: %s\n", formatAuthors(p.Authors))
	}
	if !p.PublishedDate.IsZero() {
		fmt.Fprintf(&sb, "Published: %s\n", p.PublishedDate.Format(types.DateLayout))
	}
	if p.Venue != "" {
		fmt.Fprintf(&sb, "Venue: %s\n", p.Venue)
	}
	fmt.Fprintf(&sb, "Citations: %d\n", p.CitationCount)
	fmt.Fprintf(&sb, "Abstract: %s", p.Abstract)
	if p.ArxivURL != "" {
		fmt.Fprintf(&sb, "\nURL: %s", p.ArxivURL)
	}
	return sb.String()
}

func formatAuthors(authors []string) string {
	if len(authors) <= 3 {
		return strings.Join(authors, ", ")
	}
	return fmt.Sprintf("%s et al. (+%d)", strings.Join(authors[:3], ", "), len(authors)-3)
}

// renderContext joins the bundle's blocks in bundle order.
func renderContext(bundle *types.ContextBundle) string {
	if len(bundle.Entries) == 0 {
		return "No relevant papers found."
	}
	blocks := make([]string, len(bundle.Entries))
	for i, e := range bundle.Entries {
		blocks[i] = renderPaperBlock(e.Index, e.Paper)
	}
	return strings.Join(blocks, "\n\n---\n\n")
}
