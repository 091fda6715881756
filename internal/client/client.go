// Package client is the HTTP client for a running cv-screener server, used
// by the interactive submit command.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/hireloop/cv-screener/internal/evaluation"
	"github.com/hireloop/cv-screener/internal/utils"
)

const defaultPollInterval = 2 * time.Second

// wait is swapped out in tests.
var wait = utils.WaitFor

// Client talks to the cv-screener HTTP API.
type Client struct {
	HTTPClient *http.Client
	UserAgent  string

	ctx     context.Context
	baseURL string
	logger  *zap.Logger
}

func New(ctx context.Context, baseURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		UserAgent:  "cv-screener-client",
		ctx:        ctx,
		baseURL:    baseURL,
		logger:     logger,
	}
}

// UploadResponse carries the document ids assigned by the server.
type UploadResponse struct {
	CVID     int64 `json:"cv_id"`
	ReportID int64 `json:"report_id"`
}

// EvaluateResponse is the server's answer to an evaluation submission.
type EvaluateResponse struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

// ResultResponse is one poll of a job's state.
type ResultResponse struct {
	ID     int64              `json:"id"`
	Status evaluation.Status  `json:"status"`
	Result *evaluation.Result `json:"result"`
	Error  string             `json:"error"`
}

// Upload sends the CV and project report files to the server.
func (c *Client) Upload(cvPath, reportPath string) (*UploadResponse, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	for field, path := range map[string]string{
		"cv_file":     cvPath,
		"report_file": reportPath,
	} {
		if err := addFilePart(w, field, path); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(c.ctx, http.MethodPost, c.baseURL+"/upload", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var uploaded UploadResponse
	if err := c.do(req, http.StatusCreated, &uploaded); err != nil {
		return nil, fmt.Errorf("upload documents: %w", err)
	}

	c.logger.Debug("documents uploaded",
		zap.Int64("cv_id", uploaded.CVID),
		zap.Int64("report_id", uploaded.ReportID),
	)
	return &uploaded, nil
}

// Evaluate submits an evaluation job for the uploaded documents.
func (c *Client) Evaluate(jobTitle string, cvID, reportID int64) (*EvaluateResponse, error) {
	payload, err := json.Marshal(map[string]any{
		"job_title": jobTitle,
		"cv_id":     cvID,
		"report_id": reportID,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(c.ctx, http.MethodPost, c.baseURL+"/evaluate", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var submitted EvaluateResponse
	if err := c.do(req, http.StatusOK, &submitted); err != nil {
		return nil, fmt.Errorf("submit evaluation: %w", err)
	}

	return &submitted, nil
}

// Result fetches the current state of one job.
func (c *Client) Result(jobID int64) (*ResultResponse, error) {
	req, err := http.NewRequestWithContext(c.ctx, http.MethodGet, fmt.Sprintf("%s/result/%d", c.baseURL, jobID), nil)
	if err != nil {
		return nil, err
	}

	var result ResultResponse
	if err := c.do(req, http.StatusOK, &result); err != nil {
		return nil, fmt.Errorf("fetch result for job %d: %w", jobID, err)
	}

	return &result, nil
}

// PollResult polls until the job reaches a terminal state or the client's
// context ends.
func (c *Client) PollResult(jobID int64, interval time.Duration) (*ResultResponse, error) {
	if interval <= 0 {
		interval = defaultPollInterval
	}

	for {
		result, err := c.Result(jobID)
		if err != nil {
			return nil, err
		}
		if result.Status.Terminal() {
			return result, nil
		}

		c.logger.Debug("job still in flight",
			zap.Int64("job_id", jobID),
			zap.String("status", string(result.Status)),
		)

		if err := wait(c.ctx, interval); err != nil {
			return nil, fmt.Errorf("waiting for job %d: %w", jobID, err)
		}
	}
}

func (c *Client) do(req *http.Request, wantStatus int, target any) error {
	req.Header.Set("User-Agent", c.UserAgent)

	c.logger.Debug("make request", zap.String("url", req.URL.String()))
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != wantStatus {
		return fmt.Errorf("bad status: %s: %s", resp.Status, bytes.TrimSpace(data))
	}

	if target == nil {
		return nil
	}
	return json.Unmarshal(data, target)
}

func addFilePart(w *multipart.Writer, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", field, err)
	}
	defer f.Close()

	part, err := w.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}

	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("copy %s: %w", field, err)
	}
	return nil
}
