package ledger

import (
	"fmt"
	"strings"

	"pettycash/internal/core"
)

// Template layout. Rows are 1-based as in A1 notation.
const (
	// HeaderRow holds the data column captions and anchors every append.
	HeaderRow = 8
	// TotalRow holds the aggregate formula in the amount column.
	TotalRow = 9
	// FirstDataRow is the first row an append can land on.
	FirstDataRow = 10
	// AmountColumn is the column summed by the total formula.
	AmountColumn = "E"
)

// TotalFormula sums the amount column from the first data row to the end.
var TotalFormula = fmt.Sprintf("=SUM(%s%d:%s)", AmountColumn, FirstDataRow, AmountColumn)

var (
	submitterHeader = []any{"Name", "ID Number", "Position", "Division", "Team Head"}
	dataHeader      = []any{"PID", "OR Number", "Date", "Time", "Amount Paid"}
)

// Title returns the ledger title for a period label.
func Title(prefix, period string) string {
	return prefix + strings.TrimSpace(period)
}

// Template returns rows 1 through TotalRow of a fresh ledger, the total
// formula included.
func Template(s core.Submitter) [][]any {
	rows := make([][]any, 0, TotalRow)
	rows = append(rows, submitterHeader, s.Values())
	for len(rows) < HeaderRow-1 {
		rows = append(rows, []any{"", "", "", "", ""})
	}
	rows = append(rows, dataHeader, []any{"TOTAL", "", "", "", Formula(TotalFormula)})
	return rows
}

// A1 qualifies cell with the sheet name, quoting names that need it.
func A1(sheet, cell string) string {
	if sheet == "" {
		return cell
	}
	if needsQuoting(sheet) {
		sheet = "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
	}
	return sheet + "!" + cell
}

func needsQuoting(sheet string) bool {
	for _, r := range sheet {
		if !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return true
		}
	}
	return false
}

// SplitA1 separates an A1 reference into sheet name and cell part.
func SplitA1(ref string) (sheet, cells string) {
	i := strings.LastIndex(ref, "!")
	if i < 0 {
		return "", ref
	}
	sheet = ref[:i]
	if len(sheet) >= 2 && sheet[0] == '\'' && sheet[len(sheet)-1] == '\'' {
		sheet = strings.ReplaceAll(sheet[1:len(sheet)-1], "''", "'")
	}
	return sheet, ref[i+1:]
}
