package workspace

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	SpreadsheetMimeType = "application/vnd.google-apps.spreadsheet"
	FolderMimeType      = "application/vnd.google-apps.folder"
)

// A1 builds an A1-notation range on the named tab, quoting the tab title.
func A1(tab, cells string) string {
	return "'" + strings.ReplaceAll(tab, "'", "''") + "'!" + cells
}

// RowOf returns the first row number of an A1 range such as
// "'Joe Shmoe'!A7:B7", as reported in append responses.
func RowOf(rng string) (int, error) {
	cells := rng
	if i := strings.LastIndex(rng, "!"); i >= 0 {
		cells = rng[i+1:]
	}
	if i := strings.Index(cells, ":"); i >= 0 {
		cells = cells[:i]
	}
	digits := strings.TrimLeftFunc(cells, func(r rune) bool {
		return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || r == '$'
	})
	row, err := strconv.Atoi(digits)
	if err != nil || row <= 0 {
		return 0, fmt.Errorf("no row number in range %q", rng)
	}
	return row, nil
}

// EscapeQuery escapes a value for use inside a single-quoted Drive query
// string.
func EscapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
