package driveops

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// FolderHandle identifies a created remote folder. Name is the name the
// server actually used, which differs from the requested one after a
// conflict rename.
type FolderHandle struct {
	RemoteID   string
	Name       string
	ParentPath string
}

// FolderManager creates the remote folder for each upload unit.
type FolderManager struct {
	api    FolderCreator
	logger *slog.Logger
}

// NewFolderManager creates a FolderManager.
func NewFolderManager(api FolderCreator, logger *slog.Logger) *FolderManager {
	if logger == nil {
		logger = slog.Default()
	}

	return &FolderManager{api: api, logger: logger}
}

// EnsureFolder creates a folder called name under parentPath (relative to
// the drive root). On a name collision the server renames the new folder;
// the returned handle carries the final name. Errors wrap
// ErrFolderCreateFailure, and also the underlying cause.
func (m *FolderManager) EnsureFolder(ctx context.Context, name, parentPath string) (FolderHandle, error) {
	name = normalizeName(name)
	parentPath = CleanRemotePath(parentPath)

	if name == "" {
		return FolderHandle{}, fmt.Errorf("%w: empty folder name", ErrFolderCreateFailure)
	}

	item, err := m.api.CreateFolderByPath(ctx, parentPath, name)
	if err != nil {
		return FolderHandle{}, fmt.Errorf("%w: %q under %q: %w", ErrFolderCreateFailure, name, parentPath, err)
	}

	if item.ID == "" {
		return FolderHandle{}, fmt.Errorf("%w: %q: response has no id", ErrFolderCreateFailure, name)
	}

	// Graph only reports createdBy on a materialized item.
	if !item.HasCreator {
		return FolderHandle{}, fmt.Errorf("%w: %q: response has no createdBy", ErrFolderCreateFailure, name)
	}

	final := item.Name
	if final == "" {
		final = name
	}

	if final != name {
		m.logger.Info("remote folder renamed on conflict",
			slog.String("requested", name),
			slog.String("created", final),
			slog.String("parent_path", parentPath),
		)
	}

	m.logger.Info("remote folder ready",
		slog.String("name", final),
		slog.String("parent_path", parentPath),
	)

	return FolderHandle{RemoteID: item.ID, Name: final, ParentPath: parentPath}, nil
}

// CleanRemotePath strips leading/trailing slashes and surrounding space;
// returns "" for the drive root.
func CleanRemotePath(path string) string {
	return strings.Trim(strings.TrimSpace(path), "/")
}

// normalizeName trims a remote item name and converts it to NFC, the form
// OneDrive stores. macOS produces NFD names for accented characters.
func normalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}
