// Package memory is an in-process ledger backend. It keeps a cell grid per
// ledger, reproduces the append table detection of Google Sheets and
// evaluates SUM formulas, so ledger behaviour can be checked without Google.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"pettycash/internal/ledger"
)

var _ ledger.Backend = (*Store)(nil)

type (
	cell struct {
		row, col int
	}

	formula string

	grid map[cell]any

	book struct {
		title  string
		sheets map[string]grid
	}
)

// Store holds every ledger in memory.
type Store struct {
	mu      sync.Mutex
	books   map[ledger.ID]*book
	titles  map[string][]ledger.ID
	failing map[string]error
	calls   map[string]int
}

func New() *Store {
	return &Store{
		books:   map[ledger.ID]*book{},
		titles:  map[string][]ledger.ID{},
		failing: map[string]error{},
		calls:   map[string]int{},
	}
}

// Operation names accepted by Fail and Calls.
const (
	OpResolve = "resolve"
	OpCreate  = "create"
	OpWrite   = "write"
	OpAppend  = "append"
)

// Fail makes every later call to op return err. A nil err clears it.
func (s *Store) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failing, op)
		return
	}
	s.failing[op] = err
}

// Calls reports how many times op was invoked.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Store) enter(op string) error {
	s.calls[op]++
	return s.failing[op]
}

// Resolve returns the oldest ledger titled title.
func (s *Store) Resolve(_ context.Context, title string) (ledger.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpResolve); err != nil {
		return "", err
	}
	ids := s.titles[title]
	if len(ids) == 0 {
		return "", fmt.Errorf("%w: %q", ledger.ErrLedgerNotFound, title)
	}
	return ids[0], nil
}

// Create always makes a new ledger, even when the title is taken. The seed
// rows are in place before the ledger becomes resolvable.
func (s *Store) Create(_ context.Context, title string, seed ledger.Sheet) (ledger.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCreate); err != nil {
		return "", err
	}
	name := seed.Name
	if name == "" {
		name = "Sheet1"
	}
	g := grid{}
	g.write(cell{row: 1, col: 1}, seed.Rows, ledger.Raw)
	id := ledger.ID(uuid.NewString())
	s.books[id] = &book{title: title, sheets: map[string]grid{name: g}}
	s.titles[title] = append(s.titles[title], id)
	return id, nil
}

func (s *Store) WriteValues(_ context.Context, id ledger.ID, rng string, values [][]any, mode ledger.ValueMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpWrite); err != nil {
		return err
	}
	g, origin, err := s.locate(id, rng)
	if err != nil {
		return err
	}
	g.write(origin, values, mode)
	return nil
}

// AppendValues writes values below the contiguous block of non-empty rows
// that starts at the anchor row, the way the Sheets append call does.
func (s *Store) AppendValues(_ context.Context, id ledger.ID, rng string, values [][]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpAppend); err != nil {
		return "", err
	}
	if len(values) == 0 {
		return "", errors.New("no values to append")
	}
	g, origin, err := s.locate(id, rng)
	if err != nil {
		return "", err
	}
	row := origin.row
	for !g.rowEmpty(row) {
		row++
	}
	start := cell{row: row, col: origin.col}
	g.write(start, values, ledger.Raw)

	width := 0
	for _, v := range values {
		width = max(width, len(v))
	}
	sheet, _ := ledger.SplitA1(rng)
	end := cell{row: row + len(values) - 1, col: origin.col + max(width, 1) - 1}
	return ledger.A1(sheet, start.String()+":"+end.String()), nil
}

// Titles returns how many ledgers carry title.
func (s *Store) Titles(title string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.titles[title])
}

// Value returns the displayed value of a single cell. Numbers are returned as
// decimals, formulas are evaluated and empty cells are nil.
func (s *Store) Value(id ledger.ID, ref string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, c, err := s.locate(id, ref)
	if err != nil {
		return nil, err
	}
	v, ok := g[c]
	if !ok {
		return nil, nil
	}
	if f, ok := v.(formula); ok {
		return g.eval(f)
	}
	if d, ok := number(v); ok {
		return d, nil
	}
	return v, nil
}

// Formula returns the formula stored at ref, or "" when the cell holds a value.
func (s *Store) Formula(id ledger.ID, ref string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, c, err := s.locate(id, ref)
	if err != nil {
		return "", err
	}
	f, _ := g[c].(formula)
	return string(f), nil
}

// Row returns the raw values of one sheet row, columns A through E.
func (s *Store) Row(id ledger.ID, sheet string, row int) ([]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[id]
	if !ok {
		return nil, fmt.Errorf("unknown ledger %s", id)
	}
	g := b.sheets[sheet]
	out := make([]any, 5)
	for col := 1; col <= 5; col++ {
		out[col-1] = g[cell{row: row, col: col}]
	}
	return out, nil
}

func (s *Store) locate(id ledger.ID, ref string) (grid, cell, error) {
	b, ok := s.books[id]
	if !ok {
		return nil, cell{}, fmt.Errorf("unknown ledger %s", id)
	}
	sheet, cells := ledger.SplitA1(ref)
	if sheet == "" {
		sheet = "Sheet1"
	}
	first, _, _ := strings.Cut(cells, ":")
	c, err := parseCell(first)
	if err != nil {
		return nil, cell{}, err
	}
	g, ok := b.sheets[sheet]
	if !ok {
		g = grid{}
		b.sheets[sheet] = g
	}
	return g, c, nil
}

func (g grid) write(origin cell, values [][]any, mode ledger.ValueMode) {
	for i, row := range values {
		for j, v := range row {
			c := cell{row: origin.row + i, col: origin.col + j}
			if f, ok := v.(ledger.Formula); ok {
				g[c] = formula(f)
				continue
			}
			if sv, ok := v.(string); ok {
				if sv == "" {
					delete(g, c)
					continue
				}
				if mode == ledger.UserEntered {
					if strings.HasPrefix(sv, "=") {
						g[c] = formula(sv)
						continue
					}
					if d, err := decimal.NewFromString(strings.TrimSpace(sv)); err == nil {
						g[c] = d
						continue
					}
				}
			}
			g[c] = v
		}
	}
}

func (g grid) rowEmpty(row int) bool {
	for c := range g {
		if c.row == row {
			return false
		}
	}
	return true
}

var sumPattern = regexp.MustCompile(`^=SUM\(([A-Z]+)(\d+):([A-Z]+)(\d*)\)$`)

// eval supports single-column SUM ranges, open-ended or bounded. Text cells
// are ignored like in Sheets.
func (g grid) eval(f formula) (decimal.Decimal, error) {
	m := sumPattern.FindStringSubmatch(strings.ToUpper(strings.ReplaceAll(string(f), " ", "")))
	if m == nil || m[1] != m[3] {
		return decimal.Zero, fmt.Errorf("unsupported formula %q", f)
	}
	col := columnIndex(m[1])
	from, _ := strconv.Atoi(m[2])
	to := -1
	if m[4] != "" {
		to, _ = strconv.Atoi(m[4])
	}
	total := decimal.Zero
	for c, v := range g {
		if c.col != col || c.row < from || (to >= 0 && c.row > to) {
			continue
		}
		if d, ok := number(v); ok {
			total = total.Add(d)
		}
	}
	return total, nil
}

func number(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	default:
		return decimal.Zero, false
	}
}

var cellPattern = regexp.MustCompile(`^([A-Za-z]+)(\d+)$`)

func parseCell(ref string) (cell, error) {
	m := cellPattern.FindStringSubmatch(strings.TrimSpace(ref))
	if m == nil {
		return cell{}, fmt.Errorf("unsupported cell reference %q", ref)
	}
	row, _ := strconv.Atoi(m[2])
	if row < 1 {
		return cell{}, fmt.Errorf("invalid row in %q", ref)
	}
	return cell{row: row, col: columnIndex(strings.ToUpper(m[1]))}, nil
}

func columnIndex(letters string) int {
	n := 0
	for _, r := range letters {
		n = n*26 + int(r-'A'+1)
	}
	return n
}

func columnName(n int) string {
	var b []byte
	for n > 0 {
		n--
		b = append([]byte{byte('A' + n%26)}, b...)
		n /= 26
	}
	return string(b)
}

func (c cell) String() string {
	return columnName(c.col) + strconv.Itoa(c.row)
}
