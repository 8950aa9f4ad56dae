// Package costs tracks per-task LLM spend, broken down by pipeline
// category, for the task report and the archive row.
package costs

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bryanowens-dev/walker/internal/logging"
)

// Categories the pipeline charges against. The ledger accepts any
// string; these are the ones the façade uses.
const (
	CategoryTitle          = "title"
	CategoryPlan           = "plan"
	CategorySearchProbe    = "search_probe"
	CategoryImplementation = "implementation"
	CategoryRepair         = "repair"
	CategorySelfReview     = "self_review"
	CategoryTesting        = "testing"
	CategoryDraftBody      = "draft_body"
	CategoryFinalBody      = "final_body"
	CategoryCriticalReview = "critical_review"
)

// Entry is the accumulated spend for one category.
type Entry struct {
	TokensIn  int
	TokensOut int
	USD       float64
	Calls     int
}

// Ledger accumulates cost over one task. Safe for concurrent use; the
// total always equals the sum of the per-category entries.
type Ledger struct {
	mu           sync.Mutex
	entries      map[string]*Entry
	total        float64
	warned       map[string]bool
	warnAt       float64
	crossed      bool
	defaultModel string
	logger       *logging.Logger
}

// NewLedger creates an empty ledger. warnAt logs one warning when the
// running total first exceeds it; zero disables the warning.
func NewLedger(warnAt float64, logger *logging.Logger) *Ledger {
	return &Ledger{
		entries: make(map[string]*Entry),
		warned:  make(map[string]bool),
		warnAt:  warnAt,
		logger:  logger,
	}
}

// WithDefaultModel sets the model used to price calls whose result did
// not name one.
func (l *Ledger) WithDefaultModel(model string) *Ledger {
	l.defaultModel = model
	return l
}

// Add charges token usage priced by model to a category.
func (l *Ledger) Add(category string, tokensIn, tokensOut int, model string) {
	if model == "" {
		model = l.defaultModel
	}
	price, known := PriceFor(model)

	l.mu.Lock()
	defer l.mu.Unlock()

	if !known && !l.warned[model] {
		l.warned[model] = true
		l.logger.Warn("unknown model, pricing at default rate", "model", model)
	}

	usd := price.Cost(tokensIn, tokensOut)
	e := l.entry(category)
	e.TokensIn += tokensIn
	e.TokensOut += tokensOut
	e.USD += usd
	e.Calls++
	l.total += usd
	l.checkThreshold()
}

// AddUSD charges a pre-priced dollar amount (editing agents report
// their own cost) to a category. Negative amounts are ignored.
func (l *Ledger) AddUSD(category string, usd float64) {
	if usd <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entry(category)
	e.USD += usd
	e.Calls++
	l.total += usd
	l.checkThreshold()
}

// Total returns the running total in USD.
func (l *Ledger) Total() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Breakdown returns per-category USD.
func (l *Ledger) Breakdown() map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]float64, len(l.entries))
	for cat, e := range l.entries {
		out[cat] = e.USD
	}
	return out
}

// Entries returns a copy of the full per-category records.
func (l *Ledger) Entries() map[string]Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]Entry, len(l.entries))
	for cat, e := range l.entries {
		out[cat] = *e
	}
	return out
}

// Report renders the ledger for the task report artifact.
func (l *Ledger) Report() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "**Total cost:** $%.4f\n", l.total)

	cats := make([]string, 0, len(l.entries))
	for cat := range l.entries {
		cats = append(cats, cat)
	}
	sort.Strings(cats)

	for _, cat := range cats {
		e := l.entries[cat]
		if e.TokensIn > 0 || e.TokensOut > 0 {
			fmt.Fprintf(&b, "- %s: $%.4f (%d in / %d out, %d calls)\n",
				cat, e.USD, e.TokensIn, e.TokensOut, e.Calls)
		} else {
			fmt.Fprintf(&b, "- %s: $%.4f (%d calls)\n", cat, e.USD, e.Calls)
		}
	}
	return b.String()
}

// entry returns the category record, creating it. Callers hold the lock.
func (l *Ledger) entry(category string) *Entry {
	e, ok := l.entries[category]
	if !ok {
		e = &Entry{}
		l.entries[category] = e
	}
	return e
}

// checkThreshold warns once when the total crosses warnAt. Callers hold
// the lock.
func (l *Ledger) checkThreshold() {
	if l.warnAt > 0 && !l.crossed && l.total > l.warnAt {
		l.crossed = true
		l.logger.Warn("task cost exceeded threshold",
			"total_usd", l.total, "threshold_usd", l.warnAt)
	}
}
