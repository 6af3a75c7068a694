// Package rest implements the client side of the message API: history
// fetch and multipart send.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"parley/internal/attach"
	"parley/internal/auth"
	"parley/internal/mediaurl"
	"parley/internal/models"
)

var (
	ErrNoCredential = errors.New("no credential available")
	ErrUnauthorized = errors.New("request not authorized")
)

// APIError is a non-2xx response decoded from the server's error
// envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Is lets callers match 401 responses with errors.Is(err, ErrUnauthorized).
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client talks to the REST message API with the current bearer
// credential.
type Client struct {
	baseURL string
	http    *http.Client
	creds   *auth.Store
}

func NewClient(baseURL string, creds *auth.Store) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		creds:   creds,
	}
}

// FetchHistory returns the room's full ordered message sequence,
// creation-time ascending as served.
func (c *Client) FetchHistory(ctx context.Context, roomID string) ([]models.Message, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/message/"+roomID, nil)
	if err != nil {
		return nil, fmt.Errorf("building history request: %w", err)
	}
	if err := c.authorize(req); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}

	var messages []models.Message
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return nil, fmt.Errorf("decoding history: %w", err)
	}
	for i := range messages {
		c.resolveAttachmentURLs(&messages[i])
	}
	return messages, nil
}

// SendMessage persists a new message with its staged files and returns
// the created message carrying resolved attachment references.
func (c *Client) SendMessage(ctx context.Context, roomID, text, replyTo string, files []attach.StagedFile) (*models.Message, error) {
	body := bytes.NewBuffer(nil)
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("chatRoomId", roomID); err != nil {
		return nil, fmt.Errorf("writing form field: %w", err)
	}
	if err := writer.WriteField("text", text); err != nil {
		return nil, fmt.Errorf("writing form field: %w", err)
	}
	if replyTo != "" {
		if err := writer.WriteField("replyTo", replyTo); err != nil {
			return nil, fmt.Errorf("writing form field: %w", err)
		}
	}
	for _, f := range files {
		part, err := writer.CreateFormFile("attachments", f.Name)
		if err != nil {
			return nil, fmt.Errorf("creating attachment part: %w", err)
		}
		if _, err := io.Copy(part, bytes.NewReader(f.Data)); err != nil {
			return nil, fmt.Errorf("writing attachment %q: %w", f.Name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/message/send", body)
	if err != nil {
		return nil, fmt.Errorf("building send request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if err := c.authorize(req); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, decodeAPIError(resp)
	}

	var msg models.Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return nil, fmt.Errorf("decoding sent message: %w", err)
	}
	c.resolveAttachmentURLs(&msg)
	return &msg, nil
}

// resolveAttachmentURLs rewrites server-relative attachment references
// into absolute URLs ready for display.
func (c *Client) resolveAttachmentURLs(msg *models.Message) {
	for i := range msg.Attachments {
		msg.Attachments[i].FileURL = mediaurl.Resolve(c.baseURL, msg.Attachments[i].FileURL)
	}
}

func (c *Client) authorize(req *http.Request) error {
	token, ok := c.creds.Token()
	if !ok {
		return ErrNoCredential
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}

	var envelope errorEnvelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&envelope); err == nil {
		if envelope.Error.Code != "" {
			apiErr.Code = envelope.Error.Code
		}
		if envelope.Error.Message != "" {
			apiErr.Message = envelope.Error.Message
		}
	}
	return apiErr
}
