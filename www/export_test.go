package www

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"floorcore/store"
)

func TestEventsWorkbook(t *testing.T) {
	f, err := eventsWorkbook([]*store.EventRecord{
		{ID: 2, OccurredAt: "2026-03-01T08:01:00Z", SourceID: "w1", Kind: "material_received", Detail: "steel +600 (total 600)"},
		{ID: 1, OccurredAt: "2026-03-01T08:00:00Z", SourceID: "w1", Kind: "unit_assigned", Detail: "warehouse idle->running"},
	})
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	f.Close()

	back, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer back.Close()
	rows, err := back.GetRows(eventsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"ID", "Timestamp", "Source", "Kind", "Detail"}, rows[0])
	assert.Equal(t, "material_received", rows[1][3])
	assert.Equal(t, "1", rows[2][0])
}
