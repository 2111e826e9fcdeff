package prompts

import (
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/reflect-bot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seeded() Randomizer {
	return rand.New(rand.NewPCG(7, 11))
}

func TestDefaultCatalog(t *testing.T) {
	catalog := DefaultCatalog()

	assert.Equal(t, []domain.Category{domain.CategorySelfAwareness, domain.CategoryConnections}, catalog.Categories())
	assert.Len(t, catalog.Prompts(domain.CategorySelfAwareness), 7)
	assert.Len(t, catalog.Prompts(domain.CategoryConnections), 7)
}

func TestParseCatalog_DataQuality(t *testing.T) {
	data := []byte(`
categories:
  - name: a
    prompts: ["one", "two", "one", "  "]
  - name: ""
    prompts: ["lost"]
  - name: b
    prompts: []
  - name: a
    prompts: ["three"]
`)

	catalog, warnings, err := ParseCatalog(data)
	require.NoError(t, err)

	assert.Equal(t, []string{"one", "two", "three"}, catalog.Prompts("a"))
	assert.Equal(t, []domain.Category{"a", "b"}, catalog.Categories())
	assert.False(t, catalog.Has("b"))
	assert.Len(t, warnings, 5)
}

func TestParseCatalog_Empty(t *testing.T) {
	_, _, err := ParseCatalog([]byte("categories: []"))
	assert.ErrorIs(t, err, ErrEmptyCatalog)
}

func TestCategoryFor_Alternates(t *testing.T) {
	catalog := DefaultCatalog()

	for count := 1; count <= 10; count++ {
		want := domain.CategoryConnections
		if count%2 == 1 {
			want = domain.CategorySelfAwareness
		}
		assert.Equal(t, want, catalog.CategoryFor(count), "count %d", count)
	}
}

func TestCategoryFor_IgnoresFileOrder(t *testing.T) {
	data := []byte(`
categories:
  - name: connections
    prompts: ["c1"]
  - name: gratitude
    prompts: ["g1"]
  - name: self_awareness
    prompts: ["s1"]
`)

	catalog, warnings, err := ParseCatalog(data)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "gratitude")

	for count := 1; count <= 6; count++ {
		want := domain.CategoryConnections
		if count%2 == 1 {
			want = domain.CategorySelfAwareness
		}
		assert.Equal(t, want, catalog.CategoryFor(count), "count %d", count)
	}
}

func TestCategoryFor_CustomCategoriesRotateInOrder(t *testing.T) {
	catalog, warnings, err := ParseCatalog([]byte("categories:\n  - name: a\n    prompts: [\"x\"]\n  - name: b\n    prompts: [\"y\"]\n"))
	require.NoError(t, err)
	assert.Len(t, warnings, 1)

	assert.Equal(t, domain.Category("a"), catalog.CategoryFor(1))
	assert.Equal(t, domain.Category("b"), catalog.CategoryFor(2))
	assert.Equal(t, domain.Category("a"), catalog.CategoryFor(3))
}

func TestSelector_NoRepeatUntilExhausted(t *testing.T) {
	ctx := context.Background()
	catalog := DefaultCatalog()
	selector := NewSelector(catalog, NewMemoryTracker(), seeded(), testLogger())

	pool := catalog.Prompts(domain.CategoryConnections)
	for round := 0; round < 3; round++ {
		seen := make(map[string]bool, len(pool))
		for i := 0; i < len(pool); i++ {
			prompt, err := selector.Pick(ctx, domain.CategoryConnections)
			require.NoError(t, err)
			assert.Equal(t, domain.CategoryConnections, prompt.Category)
			assert.False(t, seen[prompt.Text], "prompt repeated before pool exhausted: %q", prompt.Text)
			seen[prompt.Text] = true
		}
		assert.Len(t, seen, len(pool))
	}
}

func TestSelector_SinglePromptIsLive(t *testing.T) {
	ctx := context.Background()
	catalog := NewCatalog([]domain.Category{"only"}, map[domain.Category][]string{"only": {"P1"}})
	selector := NewSelector(catalog, nil, nil, testLogger())

	for i := 0; i < 5; i++ {
		prompt, err := selector.Pick(ctx, "only")
		require.NoError(t, err)
		assert.Equal(t, "P1", prompt.Text)
	}
}

func TestSelector_UnknownCategoryFallsBack(t *testing.T) {
	ctx := context.Background()
	catalog := DefaultCatalog()
	selector := NewSelector(catalog, nil, seeded(), testLogger())

	prompt, err := selector.Pick(ctx, "gratitude")
	require.NoError(t, err)
	assert.True(t, catalog.Has(prompt.Category))
	assert.Contains(t, catalog.Prompts(prompt.Category), prompt.Text)
}

func TestSelector_EmptyCatalog(t *testing.T) {
	selector := NewSelector(nil, nil, nil, testLogger())

	_, err := selector.Pick(context.Background(), domain.CategorySelfAwareness)
	assert.ErrorIs(t, err, ErrEmptyCatalog)
}

func TestSelector_Next(t *testing.T) {
	ctx := context.Background()
	selector := NewSelector(DefaultCatalog(), nil, seeded(), testLogger())

	first, err := selector.Next(ctx, 1)
	require.NoError(t, err)
	second, err := selector.Next(ctx, 2)
	require.NoError(t, err)

	assert.Equal(t, domain.CategorySelfAwareness, first.Category)
	assert.Equal(t, domain.CategoryConnections, second.Category)
}

func TestSelector_DrawDoesNotRecord(t *testing.T) {
	ctx := context.Background()
	tracker := NewMemoryTracker()
	selector := NewSelector(DefaultCatalog(), tracker, seeded(), testLogger())

	prompt, err := selector.Draw(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.CategorySelfAwareness, prompt.Category)

	issued, err := tracker.Issued(ctx, domain.CategorySelfAwareness)
	require.NoError(t, err)
	assert.Empty(t, issued)

	selector.MarkIssued(ctx, prompt)
	issued, err = tracker.Issued(ctx, domain.CategorySelfAwareness)
	require.NoError(t, err)
	assert.Contains(t, issued, prompt.Text)
}

func TestRedisTracker_SharedHistory(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	catalog := NewCatalog([]domain.Category{"a"}, map[domain.Category][]string{"a": {"x", "y"}})

	first := NewSelector(catalog, NewRedisTracker(client), seeded(), testLogger())
	second := NewSelector(catalog, NewRedisTracker(client), seeded(), testLogger())

	p1, err := first.Pick(ctx, "a")
	require.NoError(t, err)
	p2, err := second.Pick(ctx, "a")
	require.NoError(t, err)

	assert.NotEqual(t, p1.Text, p2.Text)

	members, err := client.SMembers(ctx, "prompts:recent:a").Result()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"x", "y"}, members)

	_, err = first.Pick(ctx, "a")
	require.NoError(t, err)
	count, err := client.SCard(ctx, "prompts:recent:a").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRedisTracker_UnavailableDegrades(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	selector := NewSelector(DefaultCatalog(), NewRedisTracker(client), seeded(), testLogger())

	prompt, err := selector.Pick(context.Background(), domain.CategorySelfAwareness)
	require.NoError(t, err)
	assert.NotEmpty(t, prompt.Text)
}

func TestWatcher_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	selector := NewSelector(DefaultCatalog(), nil, nil, testLogger())
	watcher := NewWatcher(path, selector, testLogger())

	require.NoError(t, os.WriteFile(path, []byte("categories:\n  - name: solo\n    prompts: [\"hi\"]\n"), 0o600))
	assert.True(t, watcher.Reload())
	assert.Equal(t, []domain.Category{"solo"}, selector.Catalog().Categories())

	require.NoError(t, os.WriteFile(path, []byte("categories: []\n"), 0o600))
	assert.False(t, watcher.Reload())
	assert.Equal(t, []domain.Category{"solo"}, selector.Catalog().Categories())
}

func TestLoad(t *testing.T) {
	catalog, err := Load("", testLogger())
	require.NoError(t, err)
	assert.Equal(t, DefaultCatalog().Size(), catalog.Size())

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("categories:\n  - name: solo\n    prompts: [\"hi\", \"hi\"]\n"), 0o600))
	catalog, err = Load(path, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, catalog.Size())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"), testLogger())
	assert.Error(t, err)
}
