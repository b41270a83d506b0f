package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"fabricsync/internal"
	"fabricsync/internal/config"
	"fabricsync/internal/util"
)

var reSpreadsheetID = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9_-]+)`)

// SheetsAdapter reads Google Sheets through the Sheets API when credentials are
// configured, and through the public xlsx export otherwise.
type SheetsAdapter struct {
	cfg     config.Config
	fetcher *Fetcher
}

func NewSheetsAdapter(cfg config.Config, fetcher *Fetcher) *SheetsAdapter {
	return &SheetsAdapter{cfg: cfg, fetcher: fetcher}
}

func (a *SheetsAdapter) Grid(ctx context.Context, spec internal.SourceSpec) (internal.Grid, internal.Document, error) {
	id := SpreadsheetID(spec)
	if id == "" {
		return nil, internal.Document{}, &internal.SourceFormatError{Source: "gsheet", Reason: "no spreadsheet id or url configured"}
	}

	opts := a.clientOptions(ctx)
	if len(opts) == 0 {
		return a.viaExport(ctx, id, spec)
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.FetchTimeout())
	defer cancel()

	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, internal.Document{}, &internal.SourceUnavailableError{Source: "gsheet " + id, Err: err}
	}

	meta, err := svc.Spreadsheets.Get(id).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return nil, internal.Document{}, classifySheetsError(id, err, nil)
	}
	titles := make([]string, 0, len(meta.Sheets))
	for _, s := range meta.Sheets {
		if s.Properties != nil {
			titles = append(titles, s.Properties.Title)
		}
	}

	readRange := spec.Range
	if readRange == "" {
		title, ok := pickSheet(titles, spec.Sheet)
		if !ok {
			return nil, internal.Document{}, &internal.SourceFormatError{
				Source: "gsheet " + id,
				Reason: fmt.Sprintf("worksheet %q not found", spec.Sheet),
				Found:  titles,
			}
		}
		readRange = "'" + strings.ReplaceAll(title, "'", "''") + "'"
	}

	if err := a.fetcher.limiter.WaitTurn(ctx); err != nil {
		return nil, internal.Document{}, &internal.SourceUnavailableError{Source: "gsheet " + id, Err: err}
	}
	resp, err := svc.Spreadsheets.Values.Get(id, readRange).Context(ctx).Do()
	if err != nil {
		return nil, internal.Document{}, classifySheetsError(id, err, titles)
	}

	grid := make(internal.Grid, 0, len(resp.Values))
	for _, row := range resp.Values {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = util.NormalizeSpaces(util.CleanSpaces(fmt.Sprint(v)))
		}
		grid = append(grid, cells)
	}

	raw, _ := json.Marshal(resp.Values)
	doc := internal.Document{Name: id + ".json", ContentType: "application/json", Body: raw}
	return grid, doc, nil
}

func (a *SheetsAdapter) clientOptions(ctx context.Context) []option.ClientOption {
	if a.cfg.HasGoogleOAuth() {
		oauthCfg := &oauth2.Config{
			ClientID:     a.cfg.GoogleClientID,
			ClientSecret: a.cfg.GoogleClientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  a.cfg.GoogleRedirectURI,
			Scopes:       []string{sheets.SpreadsheetsReadonlyScope},
		}
		ts := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: a.cfg.GoogleRefreshToken})
		return []option.ClientOption{option.WithTokenSource(ts)}
	}
	if a.cfg.GoogleAPIKey != "" {
		return []option.ClientOption{option.WithAPIKey(a.cfg.GoogleAPIKey)}
	}
	return nil
}

func (a *SheetsAdapter) viaExport(ctx context.Context, id string, spec internal.SourceSpec) (internal.Grid, internal.Document, error) {
	doc, err := a.fetcher.Fetch(ctx, ExportURL(id, spec.GID))
	if err != nil {
		return nil, internal.Document{}, err
	}
	if doc.Name == "" || doc.Name == "export" {
		doc.Name = id + ".xlsx"
	}
	grid, err := WorkbookGrid(doc.Body, spec.Sheet)
	return grid, doc, err
}

// SpreadsheetID takes the explicit id or extracts it from a sheet URL.
func SpreadsheetID(spec internal.SourceSpec) string {
	if spec.SpreadsheetID != "" {
		return spec.SpreadsheetID
	}
	if m := reSpreadsheetID.FindStringSubmatch(spec.URL); len(m) == 2 {
		return m[1]
	}
	return ""
}

func ExportURL(id, gid string) string {
	u := "https://docs.google.com/spreadsheets/d/" + url.PathEscape(id) + "/export?format=xlsx"
	if gid != "" {
		u += "&gid=" + url.QueryEscape(gid)
	}
	return u
}

func pickSheet(titles []string, want string) (string, bool) {
	if len(titles) == 0 {
		return "", false
	}
	if want == "" {
		return titles[0], true
	}
	for _, t := range titles {
		if strings.EqualFold(strings.TrimSpace(t), strings.TrimSpace(want)) {
			return t, true
		}
	}
	return "", false
}

func classifySheetsError(id string, err error, titles []string) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusBadRequest {
		return &internal.SourceFormatError{Source: "gsheet " + id, Reason: gerr.Message, Found: titles}
	}
	return &internal.SourceUnavailableError{Source: "gsheet " + id, Err: err}
}
