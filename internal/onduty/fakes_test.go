package onduty

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/api/sheets/v4"

	"github.com/asmbly/odvclock/internal/workspace"
)

// fakeWorkspace stands in for Drive and Sheets. It tracks row counts per
// tab rather than cell contents.
type fakeWorkspace struct {
	mu        sync.Mutex
	calls     []string
	folders   map[string]workspace.File
	timesheet []workspace.File
	slides    map[string][]workspace.File // folder id -> files
	tabs      map[string][]string         // spreadsheet -> tab titles
	rowCount  map[string]int              // spreadsheet|tab -> rows
	appended  map[string][][]any          // spreadsheet|range -> rows
}

func newFakeWorkspace() *fakeWorkspace {
	return &fakeWorkspace{
		folders: map[string]workspace.File{
			"Volunteer Slides": {ID: "slides"},
			"____LobbyTV":      {ID: "lobby"},
		},
		slides:   map[string][]workspace.File{},
		tabs:     map[string][]string{},
		rowCount: map[string]int{},
		appended: map[string][][]any{},
	}
}

func (w *fakeWorkspace) log(format string, args ...any) {
	w.calls = append(w.calls, fmt.Sprintf(format, args...))
}

func (w *fakeWorkspace) callCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.calls)
}

func (w *fakeWorkspace) called(prefix string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, c := range w.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (w *fakeWorkspace) SearchFiles(_ context.Context, driveID, query string) ([]workspace.File, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.log("search %s", driveID)
	if strings.Contains(query, workspace.SpreadsheetMimeType) {
		return w.timesheet, nil
	}
	for folder, files := range w.slides {
		if strings.Contains(query, "'"+folder+"' in parents") {
			return files, nil
		}
	}
	return nil, nil
}

func (w *fakeWorkspace) FindFolder(_ context.Context, _ string, name string) (workspace.File, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.log("folder %s", name)
	f, ok := w.folders[name]
	return f, ok, nil
}

func (w *fakeWorkspace) CopyFile(_ context.Context, fileID, name, parentID string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.log("copy %s %s %s", fileID, parentID, name)
	if fileID == "template" {
		w.tabs["ts-new"] = []string{"Sheet1"}
		w.timesheet = []workspace.File{{ID: "ts-new", Name: name}}
		return "ts-new", nil
	}
	return "copy-" + fileID, nil
}

func (w *fakeWorkspace) TrashFile(_ context.Context, fileID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.log("trash %s", fileID)
	return nil
}

func tabOf(rng string) string {
	i := strings.LastIndex(rng, "!")
	if i < 0 {
		return rng
	}
	return strings.Trim(rng[:i], "'")
}

func (w *fakeWorkspace) rows(id, tab string) int {
	n, ok := w.rowCount[id+"|"+tab]
	if !ok {
		return 2
	}
	return n
}

func (w *fakeWorkspace) AppendRows(_ context.Context, id, rng string, rows [][]any) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.log("append %s %s", id, rng)
	w.appended[id+"|"+rng] = append(w.appended[id+"|"+rng], rows...)
	tab := tabOf(rng)
	if strings.HasSuffix(rng, "F1:F2") {
		return rng, nil
	}
	first := w.rows(id, tab) + 1
	w.rowCount[id+"|"+tab] = first + len(rows) - 1
	return fmt.Sprintf("'%s'!A%d:B%d", tab, first, first), nil
}

func (w *fakeWorkspace) GetRows(_ context.Context, id, rng string) ([][]any, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.log("get %s %s", id, rng)
	return make([][]any, w.rows(id, tabOf(rng))), nil
}

func (w *fakeWorkspace) UpdateRows(_ context.Context, id, rng string, rows [][]any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.log("update %s %s", id, rng)
	return nil
}

func (w *fakeWorkspace) ListSheets(_ context.Context, id string) ([]workspace.Sheet, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.log("list %s", id)
	var out []workspace.Sheet
	for i, title := range w.tabs[id] {
		out = append(out, workspace.Sheet{ID: int64(i), Title: title})
	}
	return out, nil
}

func (w *fakeWorkspace) AddSheet(_ context.Context, id, title string) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.log("addSheet %s %s", id, title)
	w.tabs[id] = append(w.tabs[id], title)
	return int64(len(w.tabs[id])), nil
}

func (w *fakeWorkspace) BatchUpdate(_ context.Context, id string, reqs []*sheets.Request) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.log("batch %s %d", id, len(reqs))
	return nil
}
