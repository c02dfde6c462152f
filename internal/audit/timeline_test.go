package audit

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeTimeline(t *testing.T) {
	base := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	entries := []TimelineEntry{
		{Entry: Entry{ID: 3, Created: base.Add(3 * time.Hour)}},
		{Entry: Entry{ID: 2, Created: base.Add(time.Hour)}},
		{Entry: Entry{ID: 1, Created: base}},
	}
	notes := []Note{
		{ID: 20, Created: base.Add(2 * time.Hour)},
		{ID: 10, Created: base.Add(4 * time.Hour)},
	}

	items := MergeTimeline(entries, notes)
	require.Len(t, items, 5)

	var got []string
	for _, it := range items {
		switch it.Kind {
		case TimelineAudit:
			got = append(got, "a"+strconv.FormatInt(it.Audit.ID, 10))
		case TimelineNote:
			got = append(got, "n"+strconv.FormatInt(it.Note.ID, 10))
		}
	}
	assert.Equal(t, []string{"n10", "a3", "n20", "a2", "a1"}, got)

	for i := 1; i < len(items); i++ {
		assert.False(t, items[i].Created.After(items[i-1].Created))
	}
}

func TestMergeTimeline_TiesKeepAuditFirstAndInputOrder(t *testing.T) {
	at := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	entries := []TimelineEntry{
		{Entry: Entry{ID: 5, Created: at}},
		{Entry: Entry{ID: 4, Created: at}},
	}
	notes := []Note{{ID: 1, Created: at}, {ID: 2, Created: at}}

	items := MergeTimeline(entries, notes)
	require.Len(t, items, 4)
	assert.Equal(t, int64(5), items[0].Audit.ID)
	assert.Equal(t, int64(4), items[1].Audit.ID)
	assert.Equal(t, int64(1), items[2].Note.ID)
	assert.Equal(t, int64(2), items[3].Note.ID)
}

func TestMergeTimeline_Empty(t *testing.T) {
	assert.Empty(t, MergeTimeline(nil, nil))
}
