// Package google stores ledgers as Google Sheets spreadsheets. Spreadsheets
// are created and written through the Sheets API and found by title through
// the Drive API.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"pettycash/internal/gcp"
	"pettycash/internal/ledger"
)

const spreadsheetMimeType = "application/vnd.google-apps.spreadsheet"

// Ensure interface conformance
var _ ledger.Backend = (*Client)(nil)

// Config selects the tab name, the optional Drive folder and credentials.
type Config struct {
	SheetName   string
	FolderID    string
	Credentials gcp.Credentials
}

type Client struct {
	sheets    *gsheet.Service
	drive     *gdrive.Service
	sheetName string
	folderID  string
}

// New creates a client authenticated with cfg.Credentials.
func New(ctx context.Context, cfg Config) (*Client, error) {
	opts, err := cfg.Credentials.ClientOptions(ctx, gsheet.SpreadsheetsScope, gdrive.DriveScope)
	if err != nil {
		return nil, fmt.Errorf("google credentials: %w", err)
	}
	return NewWithOptions(ctx, cfg, opts...)
}

// NewWithOptions creates a client with explicit client options for both APIs.
func NewWithOptions(ctx context.Context, cfg Config, opts ...goption.ClientOption) (*Client, error) {
	sheetsSvc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	driveSvc, err := gdrive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	sheetName := strings.TrimSpace(cfg.SheetName)
	if sheetName == "" {
		sheetName = "Sheet1"
	}
	slog.InfoContext(ctx, "Google ledger backend ready",
		"sheet", sheetName,
		"folder_id", cfg.FolderID,
		"credentials", cfg.Credentials.Source())
	return &Client{
		sheets:    sheetsSvc,
		drive:     driveSvc,
		sheetName: sheetName,
		folderID:  strings.TrimSpace(cfg.FolderID),
	}, nil
}

// Resolve lists non-trashed spreadsheets with the exact title, oldest first.
func (c *Client) Resolve(ctx context.Context, title string) (ledger.ID, error) {
	q := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false", escapeQuery(title), spreadsheetMimeType)
	if c.folderID != "" {
		q += fmt.Sprintf(" and '%s' in parents", escapeQuery(c.folderID))
	}
	resp, err := c.drive.Files.List().
		Q(q).
		OrderBy("createdTime").
		PageSize(1).
		Fields("files(id,name,createdTime)").
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("list spreadsheets titled %q: %w", title, err)
	}
	if len(resp.Files) == 0 {
		return "", fmt.Errorf("%w: %q", ledger.ErrLedgerNotFound, title)
	}
	return ledger.ID(resp.Files[0].Id), nil
}

// Create makes a spreadsheet whose single tab carries the seed rows in the
// same request, then moves it into the configured folder.
func (c *Client) Create(ctx context.Context, title string, seed ledger.Sheet) (ledger.ID, error) {
	tab := strings.TrimSpace(seed.Name)
	if tab == "" {
		tab = c.sheetName
	}
	ss := &gsheet.Spreadsheet{
		Properties: &gsheet.SpreadsheetProperties{Title: title},
		Sheets: []*gsheet.Sheet{{
			Properties: &gsheet.SheetProperties{Title: tab},
			Data:       []*gsheet.GridData{gridData(seed.Rows)},
		}},
	}
	created, err := c.sheets.Spreadsheets.Create(ss).Fields("spreadsheetId").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create spreadsheet %q: %w", title, err)
	}
	id := ledger.ID(created.SpreadsheetId)
	if c.folderID != "" {
		if err := c.moveToFolder(ctx, created.SpreadsheetId); err != nil {
			return id, err
		}
	}
	return id, nil
}

// gridData lays rows out from A1. Empty strings stay blank cells.
func gridData(rows [][]any) *gsheet.GridData {
	gd := &gsheet.GridData{RowData: make([]*gsheet.RowData, 0, len(rows))}
	for _, row := range rows {
		rd := &gsheet.RowData{Values: make([]*gsheet.CellData, 0, len(row))}
		for _, v := range row {
			rd.Values = append(rd.Values, &gsheet.CellData{UserEnteredValue: extendedValue(v)})
		}
		gd.RowData = append(gd.RowData, rd)
	}
	return gd
}

func extendedValue(v any) *gsheet.ExtendedValue {
	switch x := v.(type) {
	case nil:
		return nil
	case ledger.Formula:
		f := string(x)
		return &gsheet.ExtendedValue{FormulaValue: &f}
	case string:
		if x == "" {
			return nil
		}
		return &gsheet.ExtendedValue{StringValue: &x}
	case json.Number:
		if n, err := x.Float64(); err == nil {
			return &gsheet.ExtendedValue{NumberValue: &n}
		}
		s := x.String()
		return &gsheet.ExtendedValue{StringValue: &s}
	case float64:
		return &gsheet.ExtendedValue{NumberValue: &x}
	case int:
		n := float64(x)
		return &gsheet.ExtendedValue{NumberValue: &n}
	case bool:
		return &gsheet.ExtendedValue{BoolValue: &x}
	default:
		s := fmt.Sprint(x)
		return &gsheet.ExtendedValue{StringValue: &s}
	}
}

func (c *Client) moveToFolder(ctx context.Context, fileID string) error {
	f, err := c.drive.Files.Get(fileID).Fields("parents").SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read parents of %s: %w", fileID, err)
	}
	_, err = c.drive.Files.Update(fileID, &gdrive.File{}).
		AddParents(c.folderID).
		RemoveParents(strings.Join(f.Parents, ",")).
		SupportsAllDrives(true).
		Fields("id").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("move %s to folder %s: %w", fileID, c.folderID, err)
	}
	return nil
}

func (c *Client) WriteValues(ctx context.Context, id ledger.ID, rng string, values [][]any, mode ledger.ValueMode) error {
	vr := &gsheet.ValueRange{Values: values}
	_, err := c.sheets.Spreadsheets.Values.Update(string(id), rng, vr).
		ValueInputOption(string(mode)).
		Context(ctx).Do()
	if err != nil {
		return classify(fmt.Errorf("update %s in %s: %w", rng, id, err))
	}
	return nil
}

// AppendValues relies on the Sheets table detection at rng to pick the next
// free row, so concurrent writers never overwrite each other.
func (c *Client) AppendValues(ctx context.Context, id ledger.ID, rng string, values [][]any) (string, error) {
	vr := &gsheet.ValueRange{Values: values}
	resp, err := c.sheets.Spreadsheets.Values.Append(string(id), rng, vr).
		ValueInputOption(string(ledger.Raw)).
		InsertDataOption("OVERWRITE").
		Context(ctx).Do()
	if err != nil {
		return "", classify(fmt.Errorf("append to %s in %s: %w", rng, id, err))
	}
	if resp.Updates == nil {
		return "", fmt.Errorf("append to %s in %s: response without updates", rng, id)
	}
	return resp.Updates.UpdatedRange, nil
}

// classify marks 404 responses as a missing ledger.
func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %w", ledger.ErrLedgerNotFound, err)
	}
	return err
}

func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
