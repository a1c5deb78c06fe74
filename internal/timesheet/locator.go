// Package timesheet finds each volunteer's personal timesheet in the shared
// drive, creating it from the template on first use.
package timesheet

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"google.golang.org/api/sheets/v4"

	"github.com/asmbly/odvclock/internal/layout"
	"github.com/asmbly/odvclock/internal/volunteer"
	"github.com/asmbly/odvclock/internal/workspace"
)

const (
	// Tab is the worksheet the shifts are written to.
	Tab = "Sheet1"

	DefaultNamePrefix = "ODV Timesheet"
	notesHeading      = "Notes/Comments"
)

// Drive is the subset of the Drive API the locator needs.
type Drive interface {
	SearchFiles(ctx context.Context, driveID, query string) ([]workspace.File, error)
	CopyFile(ctx context.Context, fileID, name, parentID string) (string, error)
}

// Sheets is the subset of the Sheets API used to initialize a new copy.
type Sheets interface {
	ListSheets(ctx context.Context, spreadsheetID string) ([]workspace.Sheet, error)
	AppendRows(ctx context.Context, spreadsheetID, rng string, rows [][]any) (string, error)
	BatchUpdate(ctx context.Context, spreadsheetID string, requests []*sheets.Request) error
}

type Options struct {
	// DriveID is the shared drive holding the timesheets.
	DriveID        string
	ParentFolderID string
	TemplateID     string
	NamePrefix     string
	Editors        layout.Editors
}

type Locator struct {
	drive  Drive
	sheets Sheets
	opts   Options
	logger *slog.Logger
}

func NewLocator(drive Drive, sheets Sheets, opts Options, logger *slog.Logger) *Locator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.NamePrefix == "" {
		opts.NamePrefix = DefaultNamePrefix
	}
	return &Locator{drive: drive, sheets: sheets, opts: opts, logger: logger}
}

// Name is the spreadsheet title for v.
func (l *Locator) Name(v volunteer.Volunteer) string {
	return l.opts.NamePrefix + " - " + v.FullName
}

// FindOrCreate returns the id of v's timesheet. created reports whether the
// sheet was copied from the template during this call.
func (l *Locator) FindOrCreate(ctx context.Context, v volunteer.Volunteer) (id string, created bool, err error) {
	name := l.Name(v)
	query := fmt.Sprintf("mimeType = '%s' and '%s' in parents and name = '%s' and trashed = false",
		workspace.SpreadsheetMimeType, workspace.EscapeQuery(l.opts.ParentFolderID), workspace.EscapeQuery(name))

	files, err := l.drive.SearchFiles(ctx, l.opts.DriveID, query)
	if err != nil {
		return "", false, fmt.Errorf("searching for timesheet %q: %w", name, err)
	}
	if len(files) > 0 {
		if len(files) > 1 {
			l.logger.Warn("More than one timesheet found, using the first", "name", name, "count", len(files))
		}
		return files[0].ID, false, nil
	}

	id, err = l.create(ctx, v, name)
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (l *Locator) create(ctx context.Context, v volunteer.Volunteer, name string) (string, error) {
	id, err := l.drive.CopyFile(ctx, l.opts.TemplateID, name, l.opts.ParentFolderID)
	if err != nil {
		return "", fmt.Errorf("copying timesheet template: %w", err)
	}
	l.logger.Info("Created timesheet", "name", name, "spreadsheet_id", id)

	if err := l.initialize(ctx, id, v); err != nil {
		return "", fmt.Errorf("initializing timesheet %s: %w", id, err)
	}
	return id, nil
}

// initialize fills in the name cell and fixes formatting and protection on
// a freshly copied template.
func (l *Locator) initialize(ctx context.Context, id string, v volunteer.Volunteer) error {
	tabs, err := l.sheets.ListSheets(ctx, id)
	if err != nil {
		return err
	}
	if len(tabs) == 0 {
		return fmt.Errorf("copied timesheet has no tabs")
	}
	first := tabs[0]
	var protectedID int64
	if len(first.ProtectedRangeIDs) > 0 {
		protectedID = first.ProtectedRangeIDs[0]
	}

	rows := [][]any{{"Name: " + v.FullName}, {notesHeading}}
	if _, err := l.sheets.AppendRows(ctx, id, Tab+"!F1:F2", rows); err != nil {
		return err
	}

	return l.sheets.BatchUpdate(ctx, id, layout.CopiedTimesheet(first.ID, protectedID, l.opts.Editors))
}
