package client

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
)

// contentTypeFor maps a video file extension to the MIME type the
// backend accepts. Anything unknown is sent as MP4, which is what the
// exporter produces.
func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mov":
		return "video/quicktime"
	default:
		return "video/mp4"
	}
}

// UploadSigned stages the video through the signed single-slot grant
// issued at session creation.
func (c *Client) UploadSigned(ctx context.Context, grant *InitSessionResult, video []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, grant.UploadURL, bytes.NewReader(video))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentTypeFor(grant.UploadPath))
	req.Header.Set("X-Upload-Token", grant.UploadToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: resp.Status}
	}
	return nil
}

// UploadDirect stages the video through the authenticated fallback
// route, bypassing the signed grant.
func (c *Client) UploadDirect(ctx context.Context, grant *InitSessionResult, video []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/v1/uploads/"+grant.UploadPath+"/direct", bytes.NewReader(video))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentTypeFor(grant.UploadPath))
	if c.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AuthToken)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: resp.Status}
	}
	return nil
}

// Upload stages the video, preferring the signed route and falling back
// to the direct route only for authenticated clients whose signed
// upload failed hard. Context cancellation is never retried: the caller
// gave up, so a fallback would just upload into the void.
func (c *Client) Upload(ctx context.Context, grant *InitSessionResult, video []byte) error {
	err := c.UploadSigned(ctx, grant, video)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return err
	}
	if c.AuthToken == "" {
		return err
	}

	slog.Warn("Signed upload failed, retrying via direct route", "error", err, "session_id", grant.SessionID)
	if fallbackErr := c.UploadDirect(ctx, grant, video); fallbackErr != nil {
		return errors.Join(err, fallbackErr)
	}
	return nil
}
