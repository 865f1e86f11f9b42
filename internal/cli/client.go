package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JonMunkholm/catalog-import/internal/progress"
)

// Client calls the catalog-import HTTP API.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for the server at base.
func NewClient(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Minute},
	}
}

// APIError is an error response from the server.
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s (%s, HTTP %d)", e.Message, e.Code, e.Status)
	if e.Action != "" {
		msg += ": " + e.Action
	}
	return msg
}

// UploadOptions are the optional form fields of an upload.
type UploadOptions struct {
	Strategy  string
	Delimiter string
	Encoding  string
}

// Accepted is the server's answer to an upload.
type Accepted struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Upload streams the file at path to the server.
func (c *Client) Upload(ctx context.Context, path string, opts UploadOptions) (Accepted, error) {
	f, err := os.Open(path)
	if err != nil {
		return Accepted{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUpload(mw, f, filepath.Base(path), opts))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/upload", pr)
	if err != nil {
		pr.Close()
		return Accepted{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out Accepted
	err = c.do(req, http.StatusAccepted, &out)
	pr.Close()
	return out, err
}

func writeUpload(mw *multipart.Writer, r io.Reader, name string, opts UploadOptions) error {
	for field, value := range map[string]string{
		"strategy":  opts.Strategy,
		"delimiter": opts.Delimiter,
		"encoding":  opts.Encoding,
	} {
		if value == "" {
			continue
		}
		if err := mw.WriteField(field, value); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return err
	}
	return mw.Close()
}

// Progress returns the job record of a task.
func (c *Client) Progress(ctx context.Context, id string) (progress.Job, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/tasks/"+url.PathEscape(id)+"/progress", nil)
	if err != nil {
		return progress.Job{}, err
	}
	var job progress.Job
	return job, c.do(req, http.StatusOK, &job)
}

// Cancel cancels a task and returns its record.
func (c *Client) Cancel(ctx context.Context, id string) (progress.Job, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/tasks/"+url.PathEscape(id)+"/cancel", nil)
	if err != nil {
		return progress.Job{}, err
	}
	var job progress.Job
	return job, c.do(req, http.StatusOK, &job)
}

// Wait polls a task every interval until it is terminal. onUpdate, when
// set, sees every record fetched.
func (c *Client) Wait(ctx context.Context, id string, interval time.Duration, onUpdate func(progress.Job)) (progress.Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.Progress(ctx, id)
		if err != nil {
			return job, err
		}
		if onUpdate != nil {
			onUpdate(job)
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(req *http.Request, want int, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
