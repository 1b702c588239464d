package generator

import (
	"fmt"
	"strings"
)

// Prompt template names, reported in response metadata.
const (
	TemplateStandard   = "standard"
	TemplateTrend      = "trend"
	TemplateComparison = "comparison"
)

const systemPrompt = `You are a research assistant answering questions about academic papers.
Ground every claim in the papers provided below. Cite a paper by its bracketed
number, e.g. [Paper 2], immediately after the claim it supports. Do not cite
papers that are not in the provided context, and do not invent facts. If the
papers do not contain enough information to answer, say so explicitly.`

const standardTemplate = `Answer the question using only the papers below.

Papers:
%s

Question: %s

Answer with citations:`

const trendTemplate = `Analyze the research trends visible in the papers below: how has the
area evolved over time, what directions are emerging, and what appears to be
falling out of favor? Pay attention to publication dates and citation counts.

Papers:
%s

Question: %s

Trend analysis with citations:`

const comparisonTemplate = `Compare and contrast the approaches taken by the papers below:
their methods, their trade-offs, and where each one wins. Organize the answer
around the dimensions of comparison, not paper by paper.

Papers:
%s

Question: %s

Comparison with citations:`

var trendKeywords = []string{
	"trend", "trends", "trending", "evolution", "evolved", "over time",
	"recent developments", "emerging", "direction", "trajectory", "history of",
}

var comparisonKeywords = []string{
	"compare", "comparison", "versus", " vs ", " vs.", "difference between",
	"differences between", "contrast", "better than", "pros and cons", "trade-off", "tradeoff",
}

// selectTemplate picks the prompt template for a query. An explicit
// trends request always wins; otherwise the query text is scanned for
// comparison then trend cues, falling back to the standard template.
func selectTemplate(query string, includeTrends bool) string {
	if includeTrends {
		return TemplateTrend
	}
	lower := strings.ToLower(query)
	for _, kw := range comparisonKeywords {
		if strings.Contains(lower, kw) {
			return TemplateComparison
		}
	}
	for _, kw := range trendKeywords {
		if strings.Contains(lower, kw) {
			return TemplateTrend
		}
	}
	return TemplateStandard
}

// renderPrompt fills the named template with the context and question.
func renderPrompt(template, contextText, query string) string {
	switch template {
	case TemplateTrend:
		return fmt.Sprintf(trendTemplate, contextText, query)
	case TemplateComparison:
		return fmt.Sprintf(comparisonTemplate, contextText, query)
	default:
		return fmt.Sprintf(standardTemplate, contextText, query)
	}
}
