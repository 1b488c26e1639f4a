package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Timestamp validation bounds. Timestamps outside this range are treated
// as absent.
const (
	minValidYear = 1970
	maxValidYear = 2100
)

// encodePathSegments URL-encodes each segment of a slash-separated path.
// Characters like #, ?, %, and spaces are encoded per-segment so the
// resulting path is safe for interpolation into Graph API URLs.
func encodePathSegments(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}

	return strings.Join(segments, "/")
}

// driveItemResponse mirrors the subset of the driveItem JSON this client
// consumes. Unexported: callers use Item via toItem().
type driveItemResponse struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Size            int64        `json:"size"`
	CreatedDateTime string       `json:"createdDateTime"`
	ParentReference *parentRef   `json:"parentReference"`
	Folder          *folderFacet `json:"folder"`
	CreatedBy       *identitySet `json:"createdBy"`
}

type parentRef struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

type folderFacet struct {
	ChildCount int `json:"childCount,omitempty"`
}

type identitySet struct {
	User        *identity `json:"user"`
	Application *identity `json:"application"`
}

type identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type createFolderRequest struct {
	Name             string      `json:"name"`
	Folder           folderFacet `json:"folder"`
	ConflictBehavior string      `json:"@microsoft.graph.conflictBehavior"` //nolint:tagliatelle // Graph API annotation key
}

// toItem normalizes a driveItem response into an Item.
func (d *driveItemResponse) toItem(logger *slog.Logger) Item {
	item := Item{
		ID:       d.ID,
		Name:     d.Name,
		Size:     d.Size,
		IsFolder: d.Folder != nil,
	}

	if d.ParentReference != nil {
		item.ParentID = d.ParentReference.ID
	}

	if d.CreatedBy != nil {
		item.HasCreator = true

		switch {
		case d.CreatedBy.User != nil:
			item.CreatedBy = d.CreatedBy.User.DisplayName
		case d.CreatedBy.Application != nil:
			item.CreatedBy = d.CreatedBy.Application.DisplayName
		}
	}

	item.CreatedAt = parseTimestamp(d.CreatedDateTime, d.ID, logger)

	return item
}

// parseTimestamp parses an RFC3339 timestamp and validates the year range.
// Invalid or out-of-range values yield the zero time.
func parseTimestamp(raw, itemID string, logger *slog.Logger) time.Time {
	if raw == "" {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		logger.Warn("invalid timestamp in item response",
			slog.String("item_id", itemID),
			slog.String("raw", raw),
			slog.String("error", err.Error()),
		)

		return time.Time{}
	}

	if t.Year() < minValidYear || t.Year() > maxValidYear {
		logger.Warn("timestamp out of valid range",
			slog.String("item_id", itemID),
			slog.String("raw", raw),
		)

		return time.Time{}
	}

	return t
}

// childrenPath returns the children collection path of a folder addressed
// by its path relative to the drive root. An empty parent means the root.
func childrenPath(parentPath string) string {
	parentPath = strings.Trim(parentPath, "/")
	if parentPath == "" {
		return "/me/drive/root/children"
	}

	return fmt.Sprintf("/me/drive/root:/%s:/children", encodePathSegments(parentPath))
}

// CreateFolderByPath creates a folder named name under the folder at
// parentPath (relative to the drive root, no leading slash required).
// Uses conflictBehavior "rename": when the name is taken the server picks a
// fresh one, so the returned Item's Name may differ from name.
func (c *Client) CreateFolderByPath(ctx context.Context, parentPath, name string) (*Item, error) {
	c.logger.Info("creating folder",
		slog.String("parent_path", parentPath),
		slog.String("name", name),
	)

	reqBody := createFolderRequest{
		Name:             name,
		Folder:           folderFacet{},
		ConflictBehavior: "rename",
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("graph: marshaling create folder request: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPost, childrenPath(parentPath), bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var dir driveItemResponse
	if err := json.NewDecoder(resp.Body).Decode(&dir); err != nil {
		return nil, fmt.Errorf("graph: decoding create folder response: %w", err)
	}

	item := dir.toItem(c.logger)

	return &item, nil
}
