package faq

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const faqYAML = `faqs:
  - id: track-order
    question: How can I track my order?
    answer: Open Your Orders and choose Track Package.
    category: orders
    keywords: [track, order]
  - id: reset-password
    question: How do I reset my password?
    answer: Use the Forgot Password link on the sign-in page.
    category: account
    keywords: [password, reset]
    priority: 3
`

func writeFAQFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "faqs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestFileSource(t *testing.T) {
	path := writeFAQFile(t, faqYAML)

	entries, err := FileSource{Path: path}.Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "track-order", entries[0].ID)
	assert.Equal(t, []string{"track", "order"}, entries[0].Keywords)
	assert.Equal(t, 3, entries[1].Priority)
}

func TestFileSource_InvalidBatch(t *testing.T) {
	path := writeFAQFile(t, "faqs:\n  - id: x\n    question: ''\n    answer: a\n")

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestReloadFromSource(t *testing.T) {
	idx := NewIndex()
	require.NoError(t, idx.Reload(context.Background(), FileSource{Path: writeFAQFile(t, faqYAML)}))
	assert.Equal(t, 2, idx.Len())

	require.NoError(t, idx.Reload(context.Background(), StaticSource{{ID: "only", Question: "q", Answer: "a"}}))
	assert.Equal(t, 1, idx.Len())
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	entries, err := LoadFile(writeFAQFile(t, faqYAML))
	require.NoError(t, err)
	require.NoError(t, store.Import(ctx, entries))

	t.Run("Should return active entries by priority", func(t *testing.T) {
		got, err := store.Entries(ctx)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "reset-password", got[0].ID)
		assert.Equal(t, []string{"password", "reset"}, got[0].Keywords)
		assert.Equal(t, "track-order", got[1].ID)
	})

	t.Run("Should upsert on reimport", func(t *testing.T) {
		updated := entries[0]
		updated.Answer = "Track it from the order details page."
		require.NoError(t, store.Import(ctx, []Entry{updated}))

		got, err := store.Entries(ctx)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "Track it from the order details page.", got[1].Answer)
	})

	t.Run("Should hide deactivated entries", func(t *testing.T) {
		require.NoError(t, store.Deactivate(ctx, "reset-password"))

		idx := NewIndex()
		require.NoError(t, idx.Reload(ctx, store))
		assert.Equal(t, 1, idx.Len())
	})

	t.Run("Should fail to deactivate unknown entries", func(t *testing.T) {
		assert.Error(t, store.Deactivate(ctx, "missing"))
	})
}
