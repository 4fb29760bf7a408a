// Package sheets provides the tabular record source backed by Google
// Sheets.
//
// Jobs and handlers address sheets by fixed index (0 = warranty,
// 1 = publicity, 2 = survey, 4 = reminders). Rows are positional: the
// effective status of a warranty record is the last non-empty trailing
// field, modelling a spreadsheet whose status history is appended
// column-wise over time.
package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Fixed sheet indices within the spreadsheet.
const (
	SheetWarranty  = 0
	SheetPublicity = 1
	SheetSurvey    = 2
	SheetReminders = 4
)

// Warranty sheet column positions.
const (
	ColDate   = 0
	ColPhone  = 1
	ColClient = 2
	ColIMEI   = 3
	ColModel  = 4
)

// Row is one data row of a sheet. Number is the spreadsheet row number
// (data rows start at 2; row 1 is the header).
type Row struct {
	Number int
	Fields []string
}

// Field returns the field at position i, or "" when the row is shorter.
func (r Row) Field(i int) string {
	if i < 0 || i >= len(r.Fields) {
		return ""
	}
	return strings.TrimSpace(r.Fields[i])
}

// EffectiveStatus returns the last non-empty field of the row.
func (r Row) EffectiveStatus() string {
	for i := len(r.Fields) - 1; i >= 0; i-- {
		if v := strings.TrimSpace(r.Fields[i]); v != "" {
			return v
		}
	}
	return ""
}

// Source is the tabular record source contract consumed by the flow
// handlers and the scheduled jobs.
type Source interface {
	// LoadSheet returns all data rows of the sheet at the given index,
	// excluding the header row.
	LoadSheet(ctx context.Context, index int) ([]Row, error)

	// UpdateRow overwrites a row's fields starting at column A.
	UpdateRow(ctx context.Context, sheetIndex, rowNumber int, fields []string) error
}

// GoogleSource implements Source against the Sheets API using a
// service account credential.
type GoogleSource struct {
	svc           *sheets.Service
	spreadsheetID string

	mu     sync.Mutex
	titles map[int]string
}

// NewGoogleSource creates a Source for the given spreadsheet,
// authenticating with the service-account JSON key at credentialsFile.
func NewGoogleSource(ctx context.Context, spreadsheetID, credentialsFile string) (*GoogleSource, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("sheets: spreadsheet id is required")
	}
	svc, err := sheets.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(sheets.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("sheets: create service: %w", err)
	}
	return &GoogleSource{svc: svc, spreadsheetID: spreadsheetID}, nil
}

// sheetTitle resolves a sheet index to its title, caching the mapping
// after the first metadata fetch.
func (g *GoogleSource) sheetTitle(ctx context.Context, index int) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.titles == nil {
		doc, err := g.svc.Spreadsheets.Get(g.spreadsheetID).Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("sheets: load spreadsheet metadata: %w", err)
		}
		g.titles = make(map[int]string, len(doc.Sheets))
		for _, s := range doc.Sheets {
			if s.Properties != nil {
				g.titles[int(s.Properties.Index)] = s.Properties.Title
			}
		}
		slog.Debug("Sheets metadata loaded", "sheets", len(g.titles))
	}
	title, ok := g.titles[index]
	if !ok {
		return "", fmt.Errorf("sheets: no sheet at index %d", index)
	}
	return title, nil
}

// LoadSheet returns all data rows of the sheet at the given index.
func (g *GoogleSource) LoadSheet(ctx context.Context, index int) ([]Row, error) {
	title, err := g.sheetTitle(ctx, index)
	if err != nil {
		return nil, err
	}
	resp, err := g.svc.Spreadsheets.Values.Get(g.spreadsheetID, title).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sheets: read %q: %w", title, err)
	}
	rows := make([]Row, 0, len(resp.Values))
	for i, raw := range resp.Values {
		if i == 0 {
			continue // header
		}
		fields := make([]string, len(raw))
		for j, v := range raw {
			fields[j] = fmt.Sprint(v)
		}
		rows = append(rows, Row{Number: i + 1, Fields: fields})
	}
	slog.Debug("Sheets rows loaded", "sheet", title, "rows", len(rows))
	return rows, nil
}

// UpdateRow overwrites a row's fields starting at column A.
func (g *GoogleSource) UpdateRow(ctx context.Context, sheetIndex, rowNumber int, fields []string) error {
	title, err := g.sheetTitle(ctx, sheetIndex)
	if err != nil {
		return err
	}
	values := make([]any, len(fields))
	for i, f := range fields {
		values[i] = f
	}
	rng := fmt.Sprintf("%s!A%d", title, rowNumber)
	_, err = g.svc.Spreadsheets.Values.Update(g.spreadsheetID, rng, &sheets.ValueRange{
		Values: [][]any{values},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sheets: update %s: %w", rng, err)
	}
	return nil
}

// LastMatch returns the last row whose column col, stripped to digits,
// equals the digit string wanted. The source is append-only, so the
// last matching row is the most recent record.
func LastMatch(rows []Row, col int, wanted string) (Row, bool) {
	var match Row
	found := false
	for _, r := range rows {
		if digitsOf(r.Field(col)) == wanted {
			match = r
			found = true
		}
	}
	return match, found
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
