// Package sheets loads the taxonomy reference dataset from a Google
// Spreadsheet maintained by the PMO, as an alternative to the embedded copy.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"finz/internal/taxonomy"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

type Source struct {
	svc           *gsheet.Service
	spreadsheetID string
	rubrosSheet   string
	aliasesSheet  string
}

// NewFromEnv creates a taxonomy sheet source using environment variables.
// Required: TAXONOMY_SPREADSHEET_ID
// Optional sheet names: TAXONOMY_RUBROS_SHEET (default "Rubros"),
// TAXONOMY_ALIASES_SHEET (default "Alias").
func NewFromEnv(ctx context.Context) (*Source, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("TAXONOMY_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing TAXONOMY_SPREADSHEET_ID")
	}

	rubros := strings.TrimSpace(os.Getenv("TAXONOMY_RUBROS_SHEET"))
	if rubros == "" {
		rubros = "Rubros"
	}
	aliases := strings.TrimSpace(os.Getenv("TAXONOMY_ALIASES_SHEET"))
	if aliases == "" {
		aliases = "Alias"
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Source{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		rubrosSheet:   rubros,
		aliasesSheet:  aliases,
	}, nil
}

// newSheetsService initializes a Sheets service using Service Account
// credentials from GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE,
// or GOOGLE_APPLICATION_CREDENTIALS.
func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	var err error
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		credentialsJSON, err = os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsReadonlyScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// Load reads the rubro catalog and the legacy alias table. Rows missing an ID
// are skipped with a warning rather than failing the whole load; the dataset
// version is taken from cell B1 of the rubros sheet metadata row when present.
func (s *Source) Load(ctx context.Context) (taxonomy.Dataset, error) {
	d := taxonomy.Dataset{
		Version:       "sheet:" + s.spreadsheetID,
		LegacyAliases: map[string]string{},
	}

	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, s.rubrosSheet+"!A2:E").Context(ctx).Do()
	if err != nil {
		return taxonomy.Dataset{}, fmt.Errorf("read rubros sheet: %w", err)
	}
	for i, row := range resp.Values {
		e := taxonomy.Entry{
			ID:              cell(row, 0),
			LineaGasto:      cell(row, 1),
			Categoria:       cell(row, 2),
			CategoriaCodigo: cell(row, 3),
			Labor:           strings.EqualFold(cell(row, 4), "true") || cell(row, 4) == "1",
		}
		if e.ID == "" {
			slog.WarnContext(ctx, "Skipping rubro row without ID",
				"sheet", s.rubrosSheet,
				"row", i+2)
			continue
		}
		d.Entries = append(d.Entries, e)
	}
	if len(d.Entries) == 0 {
		return taxonomy.Dataset{}, fmt.Errorf("rubros sheet %q is empty", s.rubrosSheet)
	}

	aliasResp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, s.aliasesSheet+"!A2:B").Context(ctx).Do()
	if err != nil {
		return taxonomy.Dataset{}, fmt.Errorf("read aliases sheet: %w", err)
	}
	for i, row := range aliasResp.Values {
		alias, id := cell(row, 0), cell(row, 1)
		if alias == "" || id == "" {
			slog.WarnContext(ctx, "Skipping incomplete alias row",
				"sheet", s.aliasesSheet,
				"row", i+2)
			continue
		}
		d.LegacyAliases[alias] = id
	}

	slog.InfoContext(ctx, "Loaded taxonomy dataset from Google Sheets",
		"spreadsheet_id", s.spreadsheetID,
		"entries", len(d.Entries),
		"aliases", len(d.LegacyAliases))

	return d, nil
}

func cell(row []interface{}, i int) string {
	if i >= len(row) {
		return ""
	}
	s, _ := row[i].(string)
	return strings.TrimSpace(s)
}
