package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aeolun/hsschat/pkg/protocol"
	"github.com/rs/zerolog"
)

// UserIDHeader carries the uploader's session id on avatar requests.
const UserIDHeader = protocol.UserIDHeader

// HTTPError is a non-2xx avatar endpoint response.
type HTTPError struct {
	Status int
	Detail string
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("avatar request failed (HTTP %d): %s", e.Status, e.Detail)
	}
	if e.Body != "" {
		return fmt.Sprintf("avatar request failed (HTTP %d): %s", e.Status, e.Body)
	}
	return fmt.Sprintf("avatar request failed (HTTP %d)", e.Status)
}

// AvatarClient talks to the server's avatar endpoints.
type AvatarClient struct {
	base   string
	http   *http.Client
	logger zerolog.Logger
}

// NewAvatarClient creates a client for the http(s) origin base.
func NewAvatarClient(base string, logger zerolog.Logger) *AvatarClient {
	return &AvatarClient{
		base:   strings.TrimRight(base, "/"),
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger.With().Str("component", "avatar").Logger(),
	}
}

// UploadAvatar posts the file at path as multipart field "file" and returns the
// URL the server stored it under.
func (a *AvatarClient) UploadAvatar(ctx context.Context, ownID, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open avatar: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+"/upload-avatar", pr)
	if err != nil {
		pr.Close()
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(UserIDHeader, ownID)

	var out struct {
		URL string `json:"url"`
	}
	if err := a.do(req, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", errors.New("avatar upload response has no url")
	}
	a.logger.Info().Str("url", out.URL).Msg("Avatar uploaded")
	return out.URL, nil
}

// RemoveAvatar clears the own avatar on the server.
func (a *AvatarClient) RemoveAvatar(ctx context.Context, ownID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+"/remove-avatar", nil)
	if err != nil {
		return err
	}
	req.Header.Set(UserIDHeader, ownID)
	if err := a.do(req, nil); err != nil {
		return err
	}
	a.logger.Info().Msg("Avatar removed")
	return nil
}

func (a *AvatarClient) do(req *http.Request, out any) error {
	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("avatar request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read avatar response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		herr := &HTTPError{Status: resp.StatusCode}
		var detail struct {
			Detail  string `json:"detail"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &detail) == nil && (detail.Detail != "" || detail.Message != "") {
			herr.Detail = detail.Detail
			if herr.Detail == "" {
				herr.Detail = detail.Message
			}
		} else {
			herr.Body = strings.TrimSpace(string(body))
		}
		return herr
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode avatar response: %w", err)
	}
	return nil
}
