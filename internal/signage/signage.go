// Package signage keeps the lobby TV slideshow in step with who is on duty
// by copying a volunteer's slide into the live folder on clock-in and
// trashing it on clock-out.
package signage

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/asmbly/odvclock/internal/volunteer"
	"github.com/asmbly/odvclock/internal/workspace"
)

const (
	DefaultSourceFolder = "Volunteer Slides"
	DefaultLiveFolder   = "____LobbyTV"
	DefaultSlidePrefix  = "ODV"
)

// Drive is the subset of the Drive API the updater needs.
type Drive interface {
	FindFolder(ctx context.Context, driveID, name string) (workspace.File, bool, error)
	SearchFiles(ctx context.Context, driveID, query string) ([]workspace.File, error)
	CopyFile(ctx context.Context, fileID, name, parentID string) (string, error)
	TrashFile(ctx context.Context, fileID string) error
}

type Options struct {
	SourceDriveID string
	SourceFolder  string
	LiveDriveID   string
	LiveFolder    string
	SlidePrefix   string
}

type Updater struct {
	drive  Drive
	opts   Options
	logger *slog.Logger
}

func NewUpdater(drive Drive, opts Options, logger *slog.Logger) *Updater {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.SourceFolder == "" {
		opts.SourceFolder = DefaultSourceFolder
	}
	if opts.LiveFolder == "" {
		opts.LiveFolder = DefaultLiveFolder
	}
	if opts.SlidePrefix == "" {
		opts.SlidePrefix = DefaultSlidePrefix
	}
	return &Updater{drive: drive, opts: opts, logger: logger}
}

// SlideName is the file name of v's slide in both folders.
func (u *Updater) SlideName(v volunteer.Volunteer) string {
	return u.opts.SlidePrefix + " - " + v.FullName + ".png"
}

// Add puts v's slide into the live slideshow. A missing folder or slide is
// logged and skipped.
func (u *Updater) Add(ctx context.Context, v volunteer.Volunteer) error {
	source, ok, err := u.folder(ctx, u.opts.SourceDriveID, u.opts.SourceFolder)
	if err != nil || !ok {
		return err
	}
	live, ok, err := u.folder(ctx, u.opts.LiveDriveID, u.opts.LiveFolder)
	if err != nil || !ok {
		return err
	}

	name := u.SlideName(v)
	slide, ok, err := u.find(ctx, u.opts.SourceDriveID, source.ID, name)
	if err != nil {
		return err
	}
	if !ok {
		u.logger.Info("No slide for volunteer, consider adding one", "volunteer", v.FullName, "slide", name)
		return nil
	}

	if _, shown, err := u.find(ctx, u.opts.LiveDriveID, live.ID, name); err != nil {
		return err
	} else if shown {
		u.logger.Info("Slide already in slideshow", "slide", name)
		return nil
	}

	id, err := u.drive.CopyFile(ctx, slide.ID, name, live.ID)
	if err != nil {
		return fmt.Errorf("copying slide %q: %w", name, err)
	}
	u.logger.Info("Added slide to slideshow", "slide", name, "file_id", id)
	return nil
}

// Remove trashes v's slide from the live slideshow if it is there.
func (u *Updater) Remove(ctx context.Context, v volunteer.Volunteer) error {
	live, ok, err := u.folder(ctx, u.opts.LiveDriveID, u.opts.LiveFolder)
	if err != nil || !ok {
		return err
	}

	name := u.SlideName(v)
	slide, ok, err := u.find(ctx, u.opts.LiveDriveID, live.ID, name)
	if err != nil || !ok {
		return err
	}

	if err := u.drive.TrashFile(ctx, slide.ID); err != nil {
		return fmt.Errorf("trashing slide %q: %w", name, err)
	}
	u.logger.Info("Removed slide from slideshow", "slide", name)
	return nil
}

func (u *Updater) folder(ctx context.Context, driveID, name string) (workspace.File, bool, error) {
	f, ok, err := u.drive.FindFolder(ctx, driveID, name)
	if err != nil {
		return workspace.File{}, false, err
	}
	if !ok {
		u.logger.Error(fmt.Sprintf("Folder '%s' not found", name), "drive_id", driveID)
	}
	return f, ok, nil
}

func (u *Updater) find(ctx context.Context, driveID, folderID, name string) (workspace.File, bool, error) {
	query := fmt.Sprintf("trashed = false and name = '%s' and '%s' in parents",
		workspace.EscapeQuery(name), workspace.EscapeQuery(folderID))
	files, err := u.drive.SearchFiles(ctx, driveID, query)
	if err != nil {
		return workspace.File{}, false, fmt.Errorf("searching for slide %q: %w", name, err)
	}
	if len(files) == 0 {
		return workspace.File{}, false, nil
	}
	return files[0], true, nil
}
