package prompts

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/Proton-105/reflect-bot/internal/domain"
	"github.com/Proton-105/reflect-bot/pkg/metrics"
)

// Randomizer picks an index in [0, n).
type Randomizer interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// Prompt is a selected prompt text with its category.
type Prompt struct {
	Text     string
	Category domain.Category
}

// Selector issues prompts so that no prompt repeats within a category until the whole
// category has been issued.
type Selector struct {
	mu      sync.Mutex
	catalog *Catalog
	recent  RecentTracker
	rnd     Randomizer
	log     *slog.Logger
}

// NewSelector builds a Selector. A nil tracker keeps history in memory and a nil randomizer
// uses math/rand/v2.
func NewSelector(catalog *Catalog, recent RecentTracker, rnd Randomizer, log *slog.Logger) *Selector {
	if log == nil {
		log = slog.Default()
	}
	if recent == nil {
		recent = NewMemoryTracker()
	}
	if rnd == nil {
		rnd = globalRand{}
	}

	return &Selector{
		catalog: catalog,
		recent:  recent,
		rnd:     rnd,
		log:     log,
	}
}

// Catalog returns the catalog currently in use.
func (s *Selector) Catalog() *Catalog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.catalog
}

// SetCatalog swaps the catalog used for subsequent picks.
func (s *Selector) SetCatalog(c *Catalog) {
	if c == nil {
		return
	}
	s.mu.Lock()
	s.catalog = c
	s.mu.Unlock()
}

// CategoryFor returns the category for the count-th prompt issued to a user.
func (s *Selector) CategoryFor(count int) domain.Category {
	return s.Catalog().CategoryFor(count)
}

// Next picks the prompt for the count-th issuance and records it as issued.
func (s *Selector) Next(ctx context.Context, count int) (Prompt, error) {
	return s.Pick(ctx, s.CategoryFor(count))
}

// Draw picks the prompt for the count-th issuance without recording it. Call MarkIssued once
// the prompt has actually been handed out.
func (s *Selector) Draw(ctx context.Context, count int) (Prompt, error) {
	return s.pick(ctx, s.CategoryFor(count), false)
}

// MarkIssued records p so it is not drawn again until its category resets.
func (s *Selector) MarkIssued(ctx context.Context, p Prompt) {
	if err := s.recent.Mark(ctx, p.Category, p.Text); err != nil {
		s.log.Warn("failed to mark prompt as issued", slog.String("category", string(p.Category)), slog.Any("error", err))
	}
}

// Pick selects a prompt of category that has not been issued since the category's last
// reset and records it. Unknown or empty categories fall back to a random category.
func (s *Selector) Pick(ctx context.Context, category domain.Category) (Prompt, error) {
	return s.pick(ctx, category, true)
}

func (s *Selector) pick(ctx context.Context, category domain.Category, mark bool) (Prompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.catalog.Size() == 0 {
		return Prompt{}, ErrEmptyCatalog
	}

	if !s.catalog.Has(category) {
		candidates := s.catalog.nonEmpty()
		fallback := candidates[s.rnd.IntN(len(candidates))]
		s.log.Warn("unknown prompt category, using random category",
			slog.String("requested", string(category)),
			slog.String("fallback", string(fallback)),
		)
		metrics.RecordDataQualityIssue("unknown_category")
		category = fallback
	}

	prompt := s.pickFrom(ctx, category)
	if mark {
		s.MarkIssued(ctx, prompt)
	}
	return prompt, nil
}

func (s *Selector) pickFrom(ctx context.Context, category domain.Category) Prompt {
	pool := s.catalog.prompts[category]

	issued, err := s.recent.Issued(ctx, category)
	if err != nil {
		s.log.Warn("recent prompt tracker unavailable, picking from full pool",
			slog.String("category", string(category)),
			slog.Any("error", err),
		)
		return Prompt{Text: pool[s.rnd.IntN(len(pool))], Category: category}
	}

	available := make([]string, 0, len(pool))
	for _, text := range pool {
		if _, used := issued[text]; !used {
			available = append(available, text)
		}
	}

	if len(available) == 0 {
		if err := s.recent.Reset(ctx, category); err != nil {
			s.log.Warn("failed to reset recent prompts", slog.String("category", string(category)), slog.Any("error", err))
		}
		available = pool
	}

	return Prompt{Text: available[s.rnd.IntN(len(available))], Category: category}
}
