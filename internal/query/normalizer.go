// Package query canonicalizes raw query requests into deterministic
// fingerprints used as cache keys.
package query

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmorrow/paperquery/pkg/types"
)

// Sentinel bounds serialized into the fingerprint when a date bound is
// absent, so "no lower bound" and "lower bound X" never collide.
const (
	negInfinity = "-inf"
	posInfinity = "+inf"
)

// Normalized is the canonical form of a query request. Two semantically
// identical requests normalize to equal values and therefore equal
// fingerprints.
type Normalized struct {
	Query         string
	Filters       *types.QueryFilters
	TopK          int
	IncludeTrends bool
	ModelVersion  string
}

// Fingerprint is the cache key: a sha256 digest over the canonical tuple.
// Collisions are treated as correctness bugs, which is why a
// cryptographic hash is used rather than an advisory one.
type Fingerprint [32]byte

// String returns the hex form for logging.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Normalizer validates and canonicalizes requests. MaxTopK bounds the
// context-building cost of a single request.
type Normalizer struct {
	MaxTopK int
}

// New creates a Normalizer with the given top_k ceiling.
func New(maxTopK int) *Normalizer {
	return &Normalizer{MaxTopK: maxTopK}
}

// Normalize canonicalizes the request and computes its fingerprint.
// modelVersion is the embedding model identifier; a model change must
// invalidate every cached answer, so it is part of the digest.
func (n *Normalizer) Normalize(req types.QueryRequest, modelVersion string) (*Normalized, Fingerprint, error) {
	var zero Fingerprint

	text := canonicalText(req.Query)
	if text == "" {
		return nil, zero, fmt.Errorf("%w: query must not be empty", types.ErrInvalidFilter)
	}
	if req.TopK <= 0 {
		return nil, zero, fmt.Errorf("%w: top_k must be > 0, got %d", types.ErrInvalidFilter, req.TopK)
	}
	if req.TopK > n.MaxTopK {
		return nil, zero, fmt.Errorf("%w: top_k %d exceeds maximum %d", types.ErrInvalidFilter, req.TopK, n.MaxTopK)
	}
	if err := req.Filters.Validate(); err != nil {
		return nil, zero, err
	}

	norm := &Normalized{
		Query:         text,
		Filters:       canonicalFilters(req.Filters),
		TopK:          req.TopK,
		IncludeTrends: req.IncludeTrends,
		ModelVersion:  modelVersion,
	}

	return norm, norm.fingerprint(), nil
}

// canonicalText trims, case-folds, and collapses internal whitespace
// while preserving token order. Token order matters downstream through
// the embedding, so only spacing and case are dropped.
func canonicalText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// canonicalFilters lowercases and sorts the set-valued fields so filter
// order never affects the fingerprint, and truncates date bounds to
// calendar days. Retrieval filters on the same truncated bounds the
// fingerprint hashes; requests that share a fingerprint must also share
// a result set.
func canonicalFilters(f *types.QueryFilters) *types.QueryFilters {
	if f == nil {
		return nil
	}
	out := &types.QueryFilters{
		DateFrom:     canonicalDay(f.DateFrom),
		DateTo:       canonicalDay(f.DateTo),
		MinCitations: f.MinCitations,
		Venues:       canonicalSet(f.Venues),
		Categories:   canonicalSet(f.Categories),
	}
	return out
}

// canonicalDay drops the time-of-day and timezone from a date bound.
func canonicalDay(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &day
}

func canonicalSet(vals []string) []string {
	if len(vals) == 0 {
		return nil
	}
	out := make([]string, 0, len(vals))
	seen := make(map[string]bool, len(vals))
	for _, v := range vals {
		c := strings.ToLower(strings.TrimSpace(v))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// fingerprint serializes the canonical tuple with unambiguous field
// separators and hashes it.
func (norm *Normalized) fingerprint() Fingerprint {
	var data strings.Builder
	data.WriteString(norm.Query)
	data.WriteString("|k=")
	fmt.Fprintf(&data, "%d", norm.TopK)
	data.WriteString("|trends=")
	fmt.Fprintf(&data, "%t", norm.IncludeTrends)
	data.WriteString("|model=")
	data.WriteString(norm.ModelVersion)

	data.WriteString("|from=")
	data.WriteString(boundOr(norm.Filters, true))
	data.WriteString("|to=")
	data.WriteString(boundOr(norm.Filters, false))
	data.WriteString("|minc=")
	if norm.Filters != nil {
		fmt.Fprintf(&data, "%d", norm.Filters.MinCitations)
	} else {
		data.WriteString("0")
	}
	data.WriteString("|venues=")
	if norm.Filters != nil {
		data.WriteString(strings.Join(norm.Filters.Venues, ","))
	}
	data.WriteString("|cats=")
	if norm.Filters != nil {
		data.WriteString(strings.Join(norm.Filters.Categories, ","))
	}

	return sha256.Sum256([]byte(data.String()))
}

func boundOr(f *types.QueryFilters, lower bool) string {
	if f == nil {
		if lower {
			return negInfinity
		}
		return posInfinity
	}
	if lower {
		if f.DateFrom == nil {
			return negInfinity
		}
		return f.DateFrom.Format(types.DateLayout)
	}
	if f.DateTo == nil {
		return posInfinity
	}
	return f.DateTo.Format(types.DateLayout)
}
