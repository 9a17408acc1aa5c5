package www

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"floorcore/store"
)

const eventsSheet = "Events"

// eventsWorkbook lays out journaled events one per row, newest first.
func eventsWorkbook(events []*store.EventRecord) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", eventsSheet); err != nil {
		f.Close()
		return nil, err
	}
	header := []any{"ID", "Timestamp", "Source", "Kind", "Detail"}
	if err := f.SetSheetRow(eventsSheet, "A1", &header); err != nil {
		f.Close()
		return nil, err
	}
	for i, e := range events {
		row := []any{e.ID, e.OccurredAt, e.SourceID, e.Kind, e.Detail}
		if err := f.SetSheetRow(eventsSheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}
