// Package layout builds the Sheets batch-update requests that give a
// timesheet tab its shape: title row, headers, duration column and the
// protected range that keeps volunteers from editing their own hours.
package layout

import (
	"fmt"

	"google.golang.org/api/sheets/v4"
)

const (
	// ProtectedDescription labels the protected hours range.
	ProtectedDescription = "On-Duty Hours"
	// DurationPattern renders the Hours column as an elapsed duration.
	DurationPattern = "[h]:mm:ss"

	// TitleFormat is the row 1 heading of a master log tab.
	TitleFormat = "On-Duty Volunteer Timesheet - %s"

	titleRowPixels   = 48
	spacerColPixels  = 15
	frozenRows       = 2
	firstDataRow     = 2 // zero-based index of row 3
	hoursColumn      = 3 // zero-based index of column D
	lastLedgerColumn = 4 // exclusive end of A:D
)

// Headers are the row 2 column titles.
var Headers = []string{"Date", "Time In", "Time Out", "Hours"}

// Editors lists the principals allowed to edit the protected range.
type Editors struct {
	Users  []string
	Groups []string
}

func (e Editors) api() *sheets.Editors {
	return &sheets.Editors{Users: e.Users, Groups: e.Groups}
}

func headerColor() *sheets.Color {
	return &sheets.Color{Red: 0.635, Green: 0.768, Blue: 0.788}
}

// gridRange always sends sheetId and the start indexes, since a zero
// sheet id (the first tab) would otherwise be dropped as a default.
func gridRange(sheetID, startRow, endRow, startCol, endCol int64) *sheets.GridRange {
	r := &sheets.GridRange{
		SheetId:          sheetID,
		StartRowIndex:    startRow,
		EndRowIndex:      endRow,
		StartColumnIndex: startCol,
		EndColumnIndex:   endCol,
		ForceSendFields:  []string{"SheetId", "StartColumnIndex"},
	}
	if startRow == 0 && endRow > 0 {
		r.ForceSendFields = append(r.ForceSendFields, "StartRowIndex")
	}
	return r
}

// DurationColumn formats every cell of D3:D as a duration.
func DurationColumn(sheetID int64) *sheets.Request {
	return &sheets.Request{
		RepeatCell: &sheets.RepeatCellRequest{
			Cell: &sheets.CellData{
				UserEnteredFormat: &sheets.CellFormat{
					NumberFormat: &sheets.NumberFormat{Type: "DATE_TIME", Pattern: DurationPattern},
				},
			},
			Fields: "userEnteredFormat.numberFormat",
			Range:  gridRange(sheetID, firstDataRow, 0, hoursColumn, hoursColumn+1),
		},
	}
}

func protectedRange(sheetID int64, editors Editors) *sheets.ProtectedRange {
	return &sheets.ProtectedRange{
		Range:           gridRange(sheetID, 0, 0, 0, lastLedgerColumn),
		Description:     ProtectedDescription,
		WarningOnly:     false,
		Editors:         editors.api(),
		ForceSendFields: []string{"WarningOnly"},
	}
}

// UpdateProtection rewrites an existing protected range (one carried over
// from the template) to cover A:D with the given editors.
func UpdateProtection(sheetID, rangeID int64, editors Editors) *sheets.Request {
	pr := protectedRange(sheetID, editors)
	pr.ProtectedRangeId = rangeID
	return &sheets.Request{
		UpdateProtectedRange: &sheets.UpdateProtectedRangeRequest{
			ProtectedRange: pr,
			Fields:         "*",
		},
	}
}

// AddProtection protects A:D of a fresh tab.
func AddProtection(sheetID int64, editors Editors) *sheets.Request {
	return &sheets.Request{
		AddProtectedRange: &sheets.AddProtectedRangeRequest{
			ProtectedRange: protectedRange(sheetID, editors),
		},
	}
}

// CopiedTimesheet returns the requests that finish a timesheet copied from
// the template. protectedRangeID is zero when the template carried no
// protection, in which case only the duration format is applied.
func CopiedTimesheet(sheetID, protectedRangeID int64, editors Editors) []*sheets.Request {
	reqs := []*sheets.Request{DurationColumn(sheetID)}
	if protectedRangeID != 0 {
		reqs = append(reqs, UpdateProtection(sheetID, protectedRangeID, editors))
	}
	return reqs
}

func stringCell(s string, format *sheets.CellFormat) *sheets.CellData {
	v := s
	return &sheets.CellData{
		UserEnteredValue:  &sheets.ExtendedValue{StringValue: &v},
		UserEnteredFormat: format,
	}
}

func dimension(sheetID int64, dim string, start, end, pixels int64) *sheets.Request {
	return &sheets.Request{
		UpdateDimensionProperties: &sheets.UpdateDimensionPropertiesRequest{
			Range: &sheets.DimensionRange{
				SheetId:         sheetID,
				Dimension:       dim,
				StartIndex:      start,
				EndIndex:        end,
				ForceSendFields: []string{"SheetId", "StartIndex"},
			},
			Properties: &sheets.DimensionProperties{PixelSize: pixels},
			Fields:     "pixelSize",
		},
	}
}

// NewTab returns the requests that lay out a freshly added master log tab
// for the volunteer named title.
func NewTab(sheetID int64, title string, editors Editors) []*sheets.Request {
	heading := stringCell(fmt.Sprintf(TitleFormat, title), &sheets.CellFormat{
		TextFormat:          &sheets.TextFormat{Bold: true},
		HorizontalAlignment: "CENTER",
		VerticalAlignment:   "MIDDLE",
		BackgroundColor:     headerColor(),
	})

	headerRow := make([]*sheets.CellData, 0, len(Headers))
	for _, h := range Headers {
		headerRow = append(headerRow, stringCell(h, &sheets.CellFormat{BackgroundColor: headerColor()}))
	}

	return []*sheets.Request{
		{
			MergeCells: &sheets.MergeCellsRequest{
				Range:     gridRange(sheetID, 0, 1, 0, lastLedgerColumn),
				MergeType: "MERGE_ALL",
			},
		},
		{
			UpdateCells: &sheets.UpdateCellsRequest{
				Rows: []*sheets.RowData{
					{Values: []*sheets.CellData{heading}},
					{Values: headerRow},
				},
				Fields: "*",
				Start: &sheets.GridCoordinate{
					SheetId:         sheetID,
					ForceSendFields: []string{"SheetId", "RowIndex", "ColumnIndex"},
				},
			},
		},
		dimension(sheetID, "ROWS", 0, 1, titleRowPixels),
		dimension(sheetID, "COLUMNS", 4, 5, spacerColPixels),
		AddProtection(sheetID, editors),
		{
			UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
				Properties: &sheets.SheetProperties{
					SheetId:         sheetID,
					GridProperties:  &sheets.GridProperties{FrozenRowCount: frozenRows},
					ForceSendFields: []string{"SheetId"},
				},
				Fields: "gridProperties.frozenRowCount",
			},
		},
		DurationColumn(sheetID),
	}
}
