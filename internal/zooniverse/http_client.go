package zooniverse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"golang.org/x/time/rate"
)

const (
	acceptHeader    = "application/vnd.api+json; version=1"
	maxErrorBody    = 4096
	maxResponseBody = 1 << 20
	cleanupTimeout  = 15 * time.Second
)

// UploadError represents a non-2xx answer from Panoptes or the media store.
// SubjectID is set when the subject was registered before the failure.
type UploadError struct {
	Op         string
	StatusCode int
	Body       string
	SubjectID  string
}

func (e *UploadError) Error() string {
	if e.SubjectID != "" {
		return fmt.Sprintf("zooniverse %s failed for subject %s: HTTP %d: %s", e.Op, e.SubjectID, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("zooniverse %s failed: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx).
// Client errors (4xx) are considered permanent.
func (e *UploadError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// HTTPClient is the Panoptes client used for real uploads.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewHTTPClient builds a client that issues at most ratePerSecond API calls
// per second. A non-positive rate disables limiting.
func NewHTTPClient(baseURL, token string, ratePerSecond int, logger *slog.Logger) *HTTPClient {
	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

type subjectSetEnvelope struct {
	SubjectSets []SubjectSet `json:"subject_sets"`
}

func (c *HTTPClient) CreateSubjectSet(ctx context.Context, projectID, name string) (*SubjectSet, error) {
	body := map[string]any{
		"subject_sets": map[string]any{
			"display_name": name,
			"links":        map[string]string{"project": projectID},
		},
	}

	var out subjectSetEnvelope
	if err := c.do(ctx, "create subject set", http.MethodPost, "/subject_sets", body, &out); err != nil {
		return nil, err
	}
	if len(out.SubjectSets) == 0 {
		return nil, fmt.Errorf("create subject set: empty response")
	}

	set := out.SubjectSets[0]
	c.logger.Info("subject set created", "set_id", set.ID, "name", name)
	return &set, nil
}

type subjectResponse struct {
	ID        string              `json:"id"`
	Metadata  Metadata            `json:"metadata"`
	Locations []map[string]string `json:"locations"`
}

type subjectEnvelope struct {
	Subjects []subjectResponse `json:"subjects"`
}

// CreateSubject registers the subject, then uploads the media file to the
// signed location Panoptes hands back.
func (c *HTTPClient) CreateSubject(ctx context.Context, projectID, mediaPath string, metadata Metadata) (*Subject, error) {
	contentType, err := ContentType(mediaPath)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"subjects": map[string]any{
			"locations": []string{contentType},
			"metadata":  metadata,
			"links":     map[string]string{"project": projectID},
		},
	}

	var out subjectEnvelope
	if err := c.do(ctx, "create subject", http.MethodPost, "/subjects", body, &out); err != nil {
		return nil, err
	}
	if len(out.Subjects) == 0 {
		return nil, fmt.Errorf("create subject: empty response")
	}
	created := out.Subjects[0]

	var signedURL string
	for _, loc := range created.Locations {
		if u, ok := loc[contentType]; ok {
			signedURL = u
			break
		}
	}
	if signedURL == "" {
		return nil, fmt.Errorf("create subject %s: no upload location for %s", created.ID, contentType)
	}

	if err := c.putMedia(ctx, signedURL, mediaPath, contentType); err != nil {
		c.discardSubject(ctx, created.ID)
		var upErr *UploadError
		if errors.As(err, &upErr) {
			upErr.SubjectID = created.ID
			return nil, upErr
		}
		return nil, fmt.Errorf("subject %s: %w", created.ID, err)
	}

	c.logger.Info("subject uploaded", "subject_id", created.ID, "media", filepath.Base(mediaPath))
	return &Subject{ID: created.ID, Metadata: metadata}, nil
}

func (c *HTTPClient) AddSubjects(ctx context.Context, setID string, subjectIDs []string) error {
	if len(subjectIDs) == 0 {
		return nil
	}
	body := map[string]any{"subjects": subjectIDs}
	path := fmt.Sprintf("/subject_sets/%s/links/subjects", setID)
	if err := c.do(ctx, "link subjects", http.MethodPost, path, body, nil); err != nil {
		return err
	}
	c.logger.Info("subjects linked", "set_id", setID, "count", len(subjectIDs))
	return nil
}

// discardSubject deletes a subject whose media never arrived. A subject
// that cannot be deleted is logged so it can be removed by hand.
func (c *HTTPClient) discardSubject(ctx context.Context, subjectID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := c.do(ctx, "delete subject", http.MethodDelete, "/subjects/"+subjectID, nil, nil); err != nil {
		c.logger.Warn("subject without media left on the platform", "subject_id", subjectID, "error", err)
		return
	}
	c.logger.Info("subject without media deleted", "subject_id", subjectID)
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", acceptHeader)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &UploadError{Op: op, StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if out == nil {
		return nil
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("read %s response: %w", op, err)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal %s response: %w", op, err)
	}
	return nil
}

func (c *HTTPClient) putMedia(ctx context.Context, url, mediaPath, contentType string) error {
	f, err := os.Open(mediaPath)
	if err != nil {
		return fmt.Errorf("open media: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat media: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, f)
	if err != nil {
		return fmt.Errorf("create media request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("media upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &UploadError{Op: "media upload", StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}

// videoTypes covers containers missing from the platform mime table.
var videoTypes = map[string]string{
	".mp4": "video/mp4",
	".m4v": "video/mp4",
	".mov": "video/quicktime",
	".avi": "video/x-msvideo",
	".mpg": "video/mpeg",
	".mkv": "video/x-matroska",
}

// ContentType sniffs the media file, falling back to its extension.
func ContentType(path string) (string, error) {
	kind, err := filetype.MatchFile(path)
	if err != nil {
		return "", fmt.Errorf("inspect media %s: %w", filepath.Base(path), err)
	}
	if kind != filetype.Unknown {
		return kind.MIME.Value, nil
	}
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := videoTypes[ext]; ok {
		return t, nil
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if i := strings.IndexByte(t, ';'); i >= 0 {
			t = t[:i]
		}
		return t, nil
	}
	return "application/octet-stream", nil
}
