// Package backend is a thin client for the monitoring backend's REST API:
// session artifacts and per-device stream credentials.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/user/ambuwatch/internal/types"
)

const maxErrorBody = 4096

// Config holds the backend connection settings.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client implements types.Backend and types.CredentialSource.
type Client struct {
	config     Config
	httpClient *http.Client
}

// New creates a backend client with the given configuration.
func New(config Config) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// envelope is the backend's standard response wrapper.
type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// APIError is returned when the backend answers with a non-2xx status or
// with success set to false.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("backend error (status %d): %s", e.StatusCode, e.Message)
}

// DeviceCredentials fetches the vendor credentials stored for a device.
func (c *Client) DeviceCredentials(ctx context.Context, id types.DeviceID) (*types.StreamCredential, error) {
	body, err := c.do(ctx, http.MethodGet, "/ambulances/devices/"+url.PathEscape(string(id))+"/stream", "", nil)
	if err != nil {
		return nil, err
	}
	env, ok := parseEnvelope(body)
	if !ok || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, fmt.Errorf("stream credentials for device %s: response has no data", id)
	}
	var cred types.StreamCredential
	if err := json.Unmarshal(env.Data, &cred); err != nil {
		return nil, fmt.Errorf("parsing stream credentials: %w", err)
	}
	return &cred, nil
}

// FetchArtifacts lists every artifact currently attached to a session.
func (c *Client) FetchArtifacts(ctx context.Context, sessionID types.SessionID) ([]*types.Artifact, error) {
	body, err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "data"), "", nil)
	if err != nil {
		return nil, err
	}
	list, err := NormalizeArtifacts(body)
	if err != nil {
		return nil, fmt.Errorf("parsing artifacts: %w", err)
	}
	return list, nil
}

// AddNote creates a note.
func (c *Client) AddNote(ctx context.Context, sessionID types.SessionID, content types.Content) (*types.Artifact, error) {
	return c.create(ctx, sessionID, types.KindNote, "notes", map[string]string{
		"content": content.Text,
	}, content)
}

// AddMedication records an administered medication.
func (c *Client) AddMedication(ctx context.Context, sessionID types.SessionID, content types.Content) (*types.Artifact, error) {
	return c.create(ctx, sessionID, types.KindMedication, "medications", map[string]string{
		"name":   content.Name,
		"dosage": content.Dosage,
		"route":  content.Route,
	}, content)
}

// UploadFile uploads body as a multipart file attachment.
func (c *Client) UploadFile(ctx context.Context, sessionID types.SessionID, content types.Content, body io.Reader) (*types.Artifact, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	name := content.FileName
	if name == "" {
		name = "upload"
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	n, err := io.Copy(part, body)
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}
	if content.FileSize == 0 {
		content.FileSize = n
	}

	resp, err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "files"), mw.FormDataContentType(), &buf)
	if err != nil {
		return nil, err
	}
	return created(types.KindFile, resp, content)
}

// DeleteArtifact removes an artifact by its server id.
func (c *Client) DeleteArtifact(ctx context.Context, sessionID types.SessionID, id types.ArtifactID) error {
	_, err := c.do(ctx, http.MethodDelete, sessionPath(sessionID, "data", string(id)), "", nil)
	return err
}

// DownloadFile streams a file attachment. The caller closes the reader.
func (c *Client) DownloadFile(ctx context.Context, sessionID types.SessionID, id types.ArtifactID) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodGet, sessionPath(sessionID, "files", string(id), "download"), "", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, apiError(resp.StatusCode, body)
	}
	return resp.Body, nil
}

func (c *Client) create(ctx context.Context, sessionID types.SessionID, kind types.Kind, segment string, payload any, content types.Content) (*types.Artifact, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, sessionPath(sessionID, segment), "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	return created(kind, resp, content)
}

// created normalizes a create response. Fields the server did not echo back
// are taken from what was sent.
func created(kind types.Kind, body []byte, sent types.Content) (*types.Artifact, error) {
	v, err := decodeJSON(body)
	if err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	a, ok := NormalizeArtifact(kind, v)
	if !ok {
		return nil, fmt.Errorf("create %s: response carried no artifact id", kind)
	}
	fillContent(&a.Content, sent)
	return a, nil
}

func fillContent(dst *types.Content, src types.Content) {
	if dst.Text == "" {
		dst.Text = src.Text
	}
	if dst.Name == "" {
		dst.Name = src.Name
	}
	if dst.Dosage == "" {
		dst.Dosage = src.Dosage
	}
	if dst.Route == "" {
		dst.Route = src.Route
	}
	if dst.FileName == "" {
		dst.FileName = src.FileName
	}
	if dst.FileSize == 0 {
		dst.FileSize = src.FileSize
	}
	if dst.FileRef == "" {
		dst.FileRef = src.FileRef
	}
}

func (c *Client) newRequest(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}
	return req, nil
}

// do performs a request and returns the raw response body after checking
// the status code and the success flag.
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := c.newRequest(ctx, method, path, contentType, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(respBody) > maxErrorBody {
			respBody = respBody[:maxErrorBody]
		}
		return nil, apiError(resp.StatusCode, respBody)
	}

	if env, ok := parseEnvelope(respBody); ok && env.Success != nil && !*env.Success {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: env.Message}
	}
	return respBody, nil
}

func apiError(status int, body []byte) *APIError {
	if env, ok := parseEnvelope(body); ok && env.Message != "" {
		return &APIError{StatusCode: status, Message: env.Message}
	}
	return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
}

func parseEnvelope(body []byte) (*envelope, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, false
	}
	return &env, true
}

func sessionPath(id types.SessionID, segments ...string) string {
	var b strings.Builder
	b.WriteString("/sessions/")
	b.WriteString(url.PathEscape(string(id)))
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

var (
	_ types.Backend          = (*Client)(nil)
	_ types.CredentialSource = (*Client)(nil)
)
