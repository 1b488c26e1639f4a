package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// ChunkAlignment is the required alignment for upload chunk sizes (320 KiB).
// All chunks except the final one must be a multiple of this value.
const ChunkAlignment = 320 * 1024

// maxErrorBody caps how much of a failed chunk response is kept.
const maxErrorBody = 64 * 1024

type createUploadSessionRequest struct {
	Item uploadSessionItem `json:"item"`
}

type uploadSessionItem struct {
	ConflictBehavior string `json:"@microsoft.graph.conflictBehavior"` //nolint:tagliatelle // Graph API annotation key
	Name             string `json:"name,omitempty"`
}

type uploadSessionResponse struct {
	UploadURL          string   `json:"uploadUrl"`
	ExpirationDateTime string   `json:"expirationDateTime"`
	NextExpectedRanges []string `json:"nextExpectedRanges"`
}

// CreateUploadSession creates a resumable upload session for a file named
// name inside the folder with ID folderID. The returned UploadSession
// contains a pre-authenticated upload URL. Returns ErrNoUploadURL when the
// server answers 2xx without one.
func (c *Client) CreateUploadSession(ctx context.Context, folderID, name string) (*UploadSession, error) {
	c.logger.Info("creating upload session",
		slog.String("folder_id", folderID),
		slog.String("name", name),
	)

	path := fmt.Sprintf("/me/drive/items/%s:/%s:/createUploadSession", url.PathEscape(folderID), url.PathEscape(name))

	reqBody := createUploadSessionRequest{
		Item: uploadSessionItem{ConflictBehavior: "rename", Name: name},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("graph: marshaling upload session request: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPost, path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var usr uploadSessionResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&usr); decErr != nil {
		return nil, fmt.Errorf("graph: decoding upload session response: %w", decErr)
	}

	if usr.UploadURL == "" {
		return nil, ErrNoUploadURL
	}

	session := &UploadSession{
		UploadURL:      usr.UploadURL,
		ExpirationTime: c.parseExpiration(usr.ExpirationDateTime),
	}

	c.logger.Debug("upload session created",
		slog.Time("expires", session.ExpirationTime),
	)

	return session, nil
}

// UploadChunk PUTs length bytes read from chunk to uploadURL as the byte
// range [offset, offset+length) of a total-byte file. The session URL is
// pre-authenticated, so no Authorization header is sent and no retry is
// attempted. A non-nil error means the request never produced a response;
// any HTTP status is returned in the ChunkResponse for the caller to judge.
func (c *Client) UploadChunk(
	ctx context.Context, uploadURL string, chunk io.Reader, offset, length, total int64,
) (*ChunkResponse, error) {
	c.logger.Debug("uploading chunk",
		slog.Int64("offset", offset),
		slog.Int64("length", length),
		slog.Int64("total", total),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, chunk)
	if err != nil {
		return nil, fmt.Errorf("graph: creating chunk upload request: %w", err)
	}

	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, total))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("User-Agent", c.userAgent)
	req.ContentLength = length

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph: chunk upload request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return nil, fmt.Errorf("graph: reading chunk response body: %w", err)
	}

	c.logger.Debug("chunk response",
		slog.Int("status", resp.StatusCode),
		slog.Int64("offset", offset),
	)

	return &ChunkResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// QueryUploadSession queries an upload session's status to determine which
// byte ranges the server still expects. Used to resume after interruption.
func (c *Client) QueryUploadSession(ctx context.Context, uploadURL string) (*UploadSessionStatus, error) {
	c.logger.Info("querying upload session status")

	resp, err := c.doPreauthenticated(ctx, http.MethodGet, uploadURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readGraphError(resp)
	}

	var ssr uploadSessionResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&ssr); decErr != nil {
		return nil, fmt.Errorf("graph: decoding session status response: %w", decErr)
	}

	status := &UploadSessionStatus{
		UploadURL:          uploadURL,
		ExpirationTime:     c.parseExpiration(ssr.ExpirationDateTime),
		NextExpectedRanges: ssr.NextExpectedRanges,
	}

	c.logger.Debug("upload session status",
		slog.Int("pending_ranges", len(status.NextExpectedRanges)),
	)

	return status, nil
}

// CancelUploadSession deletes an upload session server-side. Graph answers
// 204 No Content on success; any other status is an error.
func (c *Client) CancelUploadSession(ctx context.Context, uploadURL string) error {
	c.logger.Info("canceling upload session")

	resp, err := c.doPreauthenticated(ctx, http.MethodDelete, uploadURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return readGraphError(resp)
	}

	c.logger.Debug("upload session canceled")

	return nil
}

// SimpleUpload uploads small content in a single authenticated PUT to
// {folderID}:/{name}:/content. Used for zero-byte files, which cannot be
// expressed as a Content-Range. Not retried: the reader may be consumed.
func (c *Client) SimpleUpload(
	ctx context.Context, folderID, name string, r io.Reader, size int64,
) (*Item, error) {
	c.logger.Info("simple upload",
		slog.String("folder_id", folderID),
		slog.String("name", name),
		slog.Int64("size", size),
	)

	path := fmt.Sprintf("/me/drive/items/%s:/%s:/content?@microsoft.graph.conflictBehavior=rename",
		url.PathEscape(folderID), url.PathEscape(name))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("graph: creating simple upload request: %w", err)
	}

	tok, err := c.token.Token(ctx)
	if err != nil {
		return nil, &tokenError{err: err}
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("User-Agent", c.userAgent)
	req.ContentLength = size

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph: simple upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, readGraphError(resp)
	}

	var dir driveItemResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&dir); decErr != nil {
		return nil, fmt.Errorf("graph: decoding simple upload response: %w", decErr)
	}

	item := dir.toItem(c.logger)

	return &item, nil
}

// doPreauthenticated sends a bodyless request to a pre-authenticated
// session URL without an Authorization header.
func (c *Client) doPreauthenticated(ctx context.Context, method, uploadURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, uploadURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("graph: creating %s session request: %w", method, err)
	}

	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph: %s session request failed: %w", method, err)
	}

	return resp, nil
}

// parseExpiration parses a session expirationDateTime; an invalid value
// yields the zero time.
func (c *Client) parseExpiration(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		c.logger.Warn("invalid upload session expiration, using zero time",
			slog.String("raw", raw),
			slog.String("error", err.Error()),
		)

		return time.Time{}
	}

	return t
}
