package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"google.golang.org/api/sheets/v4"

	"github.com/asmbly/odvclock/internal/workspace"
)

// fakeSheets keeps each tab as a grid of rows, enough to model appends,
// reads and cell updates the way the Sheets API applies them.
type fakeSheets struct {
	mu      sync.Mutex
	docs    map[string]map[string][][]any // spreadsheet -> tab -> rows
	nextID  int64
	calls   []string
	failOn  map[string]error // "method spreadsheetID" -> error
	batches int
}

func newFakeSheets() *fakeSheets {
	return &fakeSheets{docs: map[string]map[string][][]any{}, nextID: 100}
}

// addDoc registers a spreadsheet with tabs pre-filled with title and header rows.
func (f *fakeSheets) addDoc(id string, tabs ...string) {
	f.docs[id] = map[string][][]any{}
	for _, tab := range tabs {
		f.docs[id][tab] = [][]any{{"title"}, {"Date", "Time In", "Time Out", "Hours"}}
	}
}

func (f *fakeSheets) fail(method, id string, err error) {
	if f.failOn == nil {
		f.failOn = map[string]error{}
	}
	f.failOn[method+" "+id] = err
}

func (f *fakeSheets) record(method, id, rng string) error {
	f.calls = append(f.calls, method+" "+id+" "+rng)
	if err, ok := f.failOn[method+" "+id]; ok {
		return err
	}
	return nil
}

func (f *fakeSheets) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeSheets) rows(id, tab string) [][]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[id][tab]
}

func parseRange(rng string) (tab string, col int, row int) {
	i := strings.LastIndex(rng, "!")
	tab = strings.ReplaceAll(strings.Trim(rng[:i], "'"), "''", "'")
	cells := rng[i+1:]
	if j := strings.Index(cells, ":"); j >= 0 {
		cells = cells[:j]
	}
	col = int(cells[0] - 'A')
	row, _ = strconv.Atoi(cells[1:])
	return tab, col, row
}

func (f *fakeSheets) tab(id, tab string) ([][]any, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, errors.New("spreadsheet not found: " + id)
	}
	rows, ok := doc[tab]
	if !ok {
		return nil, errors.New("Unable to parse range: " + tab)
	}
	return rows, nil
}

func (f *fakeSheets) AppendRows(_ context.Context, id, rng string, values [][]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("append", id, rng); err != nil {
		return "", err
	}
	tabName, _, start := parseRange(rng)
	rows, err := f.tab(id, tabName)
	if err != nil {
		return "", err
	}
	for len(rows) < start-1 {
		rows = append(rows, []any{})
	}
	first := len(rows) + 1
	rows = append(rows, values...)
	f.docs[id][tabName] = rows
	return fmt.Sprintf("'%s'!A%d:C%d", tabName, first, first+len(values)-1), nil
}

func (f *fakeSheets) GetRows(_ context.Context, id, rng string) ([][]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("get", id, rng); err != nil {
		return nil, err
	}
	tabName, _, _ := parseRange(rng)
	rows, err := f.tab(id, tabName)
	if err != nil {
		return nil, err
	}
	out := make([][]any, len(rows))
	copy(out, rows)
	return out, nil
}

func (f *fakeSheets) UpdateRows(_ context.Context, id, rng string, values [][]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("update", id, rng); err != nil {
		return err
	}
	tabName, col, row := parseRange(rng)
	rows, err := f.tab(id, tabName)
	if err != nil {
		return err
	}
	for len(rows) < row {
		rows = append(rows, []any{})
	}
	target := rows[row-1]
	for len(target) < col+len(values[0]) {
		target = append(target, "")
	}
	copy(target[col:], values[0])
	rows[row-1] = target
	f.docs[id][tabName] = rows
	return nil
}

func (f *fakeSheets) ListSheets(_ context.Context, id string) ([]workspace.Sheet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("list", id, ""); err != nil {
		return nil, err
	}
	var out []workspace.Sheet
	for title := range f.docs[id] {
		out = append(out, workspace.Sheet{Title: title})
	}
	return out, nil
}

func (f *fakeSheets) AddSheet(_ context.Context, id, title string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("addSheet", id, title); err != nil {
		return 0, err
	}
	f.docs[id][title] = [][]any{{"title"}, {"Date", "Time In", "Time Out", "Hours"}}
	f.nextID++
	return f.nextID, nil
}

func (f *fakeSheets) BatchUpdate(_ context.Context, id string, _ []*sheets.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++
	return f.record("batch", id, "")
}

type memStore struct {
	mu      sync.Mutex
	shifts  map[int][]Shift
	applied map[string]bool
}

func newMemStore() *memStore {
	return &memStore{shifts: map[int][]Shift{}, applied: map[string]bool{}}
}

func cloneShift(s *Shift) Shift {
	c := *s
	c.Rows = make(map[Replica]int, len(s.Rows))
	for k, v := range s.Rows {
		c.Rows[k] = v
	}
	return c
}

func (m *memStore) LastShift(_ context.Context, volunteerID int) (*Shift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.shifts[volunteerID]
	if len(list) == 0 {
		return nil, nil
	}
	c := cloneShift(&list[len(list)-1])
	return &c, nil
}

func (m *memStore) SaveShift(_ context.Context, s *Shift) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.shifts[s.VolunteerID]
	for i := range list {
		if list[i].ID == s.ID {
			list[i] = cloneShift(s)
			return nil
		}
	}
	m.shifts[s.VolunteerID] = append(list, cloneShift(s))
	return nil
}

func (m *memStore) Applied(_ context.Context, key string, r Replica) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applied[key+"|"+string(r)], nil
}

func (m *memStore) MarkApplied(_ context.Context, key string, r Replica) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied[key+"|"+string(r)] = true
	return nil
}
