package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/asmbly/odvclock/internal/upstream"
)

const valueInputOption = "USER_ENTERED"

// File is a Drive search hit.
type File struct {
	ID       string
	Name     string
	MimeType string
}

// Sheet describes one tab of a spreadsheet.
type Sheet struct {
	ID                int64
	Title             string
	ProtectedRangeIDs []int64
}

// Service wraps the Drive and Sheets APIs with the handful of calls the
// pipeline makes. All calls go through the supplied HTTP client, which owns
// authentication and the request timeout.
type Service struct {
	drive  *drive.Service
	sheets *sheets.Service
	logger *slog.Logger
}

// New builds a Service on top of an authenticated HTTP client. Extra options
// (for example option.WithEndpoint in tests) are passed to both APIs.
func New(ctx context.Context, httpClient *http.Client, logger *slog.Logger, opts ...option.ClientOption) (*Service, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)

	driveService, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating drive service: %w", err)
	}
	sheetsService, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}

	return &Service{drive: driveService, sheets: sheetsService, logger: logger}, nil
}

// SearchFiles runs a Drive query inside one shared drive.
func (s *Service) SearchFiles(ctx context.Context, driveID, query string) ([]File, error) {
	s.logger.Debug("drive search", "drive_id", driveID, "query", query)

	call := s.drive.Files.List().
		Q(query).
		Fields("files(id, name, mimeType)").
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true)
	if driveID != "" {
		call = call.Corpora("drive").DriveId(driveID)
	}

	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, wrapErr(http.MethodGet, "drive/v3/files", err)
	}

	files := make([]File, 0, len(resp.Files))
	for _, f := range resp.Files {
		files = append(files, File{ID: f.Id, Name: f.Name, MimeType: f.MimeType})
	}
	return files, nil
}

// FindFolder looks a folder up by exact name. The first match wins; more
// than one match is logged.
func (s *Service) FindFolder(ctx context.Context, driveID, name string) (File, bool, error) {
	query := fmt.Sprintf("mimeType = '%s' and name = '%s' and trashed = false", FolderMimeType, EscapeQuery(name))
	files, err := s.SearchFiles(ctx, driveID, query)
	if err != nil {
		return File{}, false, fmt.Errorf("finding folder %q: %w", name, err)
	}
	if len(files) == 0 {
		return File{}, false, nil
	}
	if len(files) > 1 {
		s.logger.Error("More than one folder found with name", "name", name, "count", len(files))
	}
	return files[0], true, nil
}

// CopyFile copies fileID into parentID under name and returns the new id.
func (s *Service) CopyFile(ctx context.Context, fileID, name, parentID string) (string, error) {
	copied, err := s.drive.Files.Copy(fileID, &drive.File{
		Name:    name,
		Parents: []string{parentID},
	}).SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return "", wrapErr(http.MethodPost, "drive/v3/files/"+fileID+"/copy", err)
	}
	return copied.Id, nil
}

// TrashFile moves a file to the trash.
func (s *Service) TrashFile(ctx context.Context, fileID string) error {
	_, err := s.drive.Files.Update(fileID, &drive.File{Trashed: true}).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return wrapErr(http.MethodPatch, "drive/v3/files/"+fileID, err)
	}
	return nil
}

// AppendRows appends rows after the last non-empty row of rng and returns
// the range that was written.
func (s *Service) AppendRows(ctx context.Context, spreadsheetID, rng string, rows [][]any) (string, error) {
	resp, err := s.sheets.Spreadsheets.Values.Append(spreadsheetID, rng, &sheets.ValueRange{
		Values: rows,
	}).ValueInputOption(valueInputOption).Context(ctx).Do()
	if err != nil {
		return "", wrapErr(http.MethodPost, "sheets/v4/spreadsheets/"+spreadsheetID+"/values/"+rng+":append", err)
	}
	if resp.Updates == nil {
		return "", nil
	}
	return resp.Updates.UpdatedRange, nil
}

// GetRows reads rng row by row. Trailing empty rows are not returned.
func (s *Service) GetRows(ctx context.Context, spreadsheetID, rng string) ([][]any, error) {
	resp, err := s.sheets.Spreadsheets.Values.Get(spreadsheetID, rng).
		MajorDimension("ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return nil, wrapErr(http.MethodGet, "sheets/v4/spreadsheets/"+spreadsheetID+"/values/"+rng, err)
	}
	return resp.Values, nil
}

// UpdateRows overwrites rng with rows.
func (s *Service) UpdateRows(ctx context.Context, spreadsheetID, rng string, rows [][]any) error {
	_, err := s.sheets.Spreadsheets.Values.Update(spreadsheetID, rng, &sheets.ValueRange{
		Values: rows,
	}).ValueInputOption(valueInputOption).Context(ctx).Do()
	if err != nil {
		return wrapErr(http.MethodPut, "sheets/v4/spreadsheets/"+spreadsheetID+"/values/"+rng, err)
	}
	return nil
}

// ListSheets returns the tabs of a spreadsheet.
func (s *Service) ListSheets(ctx context.Context, spreadsheetID string) ([]Sheet, error) {
	resp, err := s.sheets.Spreadsheets.Get(spreadsheetID).Context(ctx).Do()
	if err != nil {
		return nil, wrapErr(http.MethodGet, "sheets/v4/spreadsheets/"+spreadsheetID, err)
	}

	out := make([]Sheet, 0, len(resp.Sheets))
	for _, sh := range resp.Sheets {
		if sh.Properties == nil {
			continue
		}
		tab := Sheet{ID: sh.Properties.SheetId, Title: sh.Properties.Title}
		for _, pr := range sh.ProtectedRanges {
			tab.ProtectedRangeIDs = append(tab.ProtectedRangeIDs, pr.ProtectedRangeId)
		}
		out = append(out, tab)
	}
	return out, nil
}

// AddSheet creates a tab and returns its sheet id.
func (s *Service) AddSheet(ctx context.Context, spreadsheetID, title string) (int64, error) {
	resp, err := s.batchUpdate(ctx, spreadsheetID, []*sheets.Request{{
		AddSheet: &sheets.AddSheetRequest{
			Properties: &sheets.SheetProperties{Title: title},
		},
	}})
	if err != nil {
		return 0, err
	}
	if len(resp.Replies) == 0 || resp.Replies[0].AddSheet == nil || resp.Replies[0].AddSheet.Properties == nil {
		return 0, fmt.Errorf("adding sheet %q: empty reply", title)
	}
	return resp.Replies[0].AddSheet.Properties.SheetId, nil
}

// BatchUpdate applies formatting and structural requests.
func (s *Service) BatchUpdate(ctx context.Context, spreadsheetID string, requests []*sheets.Request) error {
	_, err := s.batchUpdate(ctx, spreadsheetID, requests)
	return err
}

func (s *Service) batchUpdate(ctx context.Context, spreadsheetID string, requests []*sheets.Request) (*sheets.BatchUpdateSpreadsheetResponse, error) {
	resp, err := s.sheets.Spreadsheets.BatchUpdate(spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: requests,
	}).Context(ctx).Do()
	if err != nil {
		return nil, wrapErr(http.MethodPost, "sheets/v4/spreadsheets/"+spreadsheetID+":batchUpdate", err)
	}
	return resp, nil
}

func wrapErr(method, path string, err error) error {
	upErr := &upstream.Error{Service: "google", Method: method, URL: path, Err: err}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		upErr.StatusCode = gerr.Code
		upErr.Body = upstream.Truncate(gerr.Message, 200)
	}
	return upErr
}
