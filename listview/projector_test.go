package listview

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type document struct {
	ID    string
	Title string
}

func docID(d document) string { return d.ID }

func letters(ids ...string) []document {
	out := make([]document, 0, len(ids))
	for _, id := range ids {
		out = append(out, document{ID: id, Title: "doc " + id})
	}
	return out
}

func newDocs(ids ...string) *Projector[document] {
	return New("documents", docID, letters(ids...)...)
}

func TestProjector_RemoveRecordsPreRemovalIndex(t *testing.T) {
	p := newDocs("A", "B", "C")

	snap := p.Remove([]string{"B"})

	assert.Equal(t, []string{"A", "C"}, p.IDs())
	require.Equal(t, 1, snap.Len())
	assert.Equal(t, "documents", snap.Collection)
	assert.Equal(t, Entry{ID: "B", Index: 1, Item: document{ID: "B", Title: "doc B"}}, snap.Entries[0])
	assert.Equal(t, 1, p.Pending())
}

func TestProjector_RemoveRestoreRoundTrip(t *testing.T) {
	ids := []string{"A", "B", "C", "D", "E"}
	for i, id := range ids {
		t.Run(fmt.Sprintf("index_%d", i), func(t *testing.T) {
			p := newDocs(ids...)
			snap := p.Remove([]string{id})
			assert.False(t, p.Contains(id))

			p.Restore(snap)
			assert.Equal(t, ids, p.IDs())
			assert.Zero(t, p.Pending())
		})
	}
}

func TestProjector_BulkRoundTrip(t *testing.T) {
	p := newDocs("A", "B", "C", "D", "E", "F")

	snap := p.Remove([]string{"F", "B", "D", "A"})
	assert.Equal(t, []string{"C", "E"}, p.IDs())
	assert.Equal(t, []string{"A", "B", "D", "F"}, snap.IDs(), "entries ascend by index")

	p.Restore(snap)
	assert.Equal(t, []string{"A", "B", "C", "D", "E", "F"}, p.IDs())
}

func TestProjector_PartialRestoreKeepsOrder(t *testing.T) {
	p := newDocs("A", "B", "C", "D")

	snap := p.Remove([]string{"B", "C"})
	p.CommitRemoval([]string{"B"})
	p.Restore(snap.Subset([]string{"C"}))

	assert.Equal(t, []string{"A", "C", "D"}, p.IDs())
	assert.Zero(t, p.Pending())
}

func TestSnapshot_SubsetRebasesIndices(t *testing.T) {
	snap := Snapshot{Entries: []Entry{
		{ID: "B", Index: 1},
		{ID: "D", Index: 3},
		{ID: "E", Index: 4},
	}}

	sub := snap.Subset([]string{"E", "B"})
	require.Len(t, sub.Entries, 2)
	assert.Equal(t, 1, sub.Entries[0].Index)
	assert.Equal(t, 3, sub.Entries[1].Index, "D dropped before E")
}

func TestProjector_RestoreClampsAfterShrink(t *testing.T) {
	p := newDocs("A", "B", "C", "D")
	snap := p.Remove([]string{"D"})

	p.Replace(letters("A")...)
	p.Restore(snap)

	assert.Equal(t, []string{"A", "D"}, p.IDs())
}

func TestProjector_RestoreSkipsDuplicates(t *testing.T) {
	p := newDocs("A", "B")
	snap := p.Remove([]string{"B"})

	p.CommitRemoval([]string{"B"})
	p.Replace(letters("A", "B")...)
	p.Restore(snap)

	assert.Equal(t, []string{"A", "B"}, p.IDs())
}

func TestProjector_ReplaceFiltersOptimisticRemovals(t *testing.T) {
	p := newDocs("A", "B", "C")
	p.Remove([]string{"B"})

	p.Replace(letters("A", "B", "C", "D")...)
	assert.Equal(t, []string{"A", "C", "D"}, p.IDs())
}

func TestProjector_RemoveIgnoresUnknownIDs(t *testing.T) {
	p := newDocs("A", "B")

	snap := p.Remove([]string{"Z"})
	assert.Zero(t, snap.Len())
	assert.Equal(t, []string{"A", "B"}, p.IDs())
}

func TestProjector_Subscribe(t *testing.T) {
	p := newDocs("A", "B")

	var seen [][]string
	unsubscribe := p.Subscribe(func(items []document) {
		ids := make([]string, 0, len(items))
		for _, d := range items {
			ids = append(ids, d.ID)
		}
		seen = append(seen, ids)
		// 监听器可以回调视图
		_ = p.Len()
	})

	snap := p.Remove([]string{"A"})
	p.Restore(snap)
	unsubscribe()
	p.Remove([]string{"B"})

	assert.Equal(t, [][]string{{"B"}, {"A", "B"}}, seen)
}
