package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"tasksync/internal/config"
	"tasksync/internal/domain"
	"tasksync/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const maxErrorBody = 64 << 10

// Client is the HTTP/JSON adapter to the central task server.
type Client struct {
	baseURL    string
	apiKey     string
	apiExtra   string
	healthPath string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zerolog.Logger
}

// BatchRequest is the body of a batch sync call.
type BatchRequest struct {
	Checksum string             `json:"checksum"`
	Items    []domain.BatchItem `json:"items"`
}

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func NewClient(cfg config.RemoteConfig, logger *zerolog.Logger) *Client {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = models.DefaultRemoteTimeout
	}
	healthPath := cfg.HealthPath
	if healthPath == "" {
		healthPath = "/health"
	}

	c := &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		apiExtra:   cfg.APIExtra,
		healthPath: healthPath,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
	if cfg.RateLimitRPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}
	return c
}

// SendBatch posts a batch with its integrity checksum. Item outcomes are in the result;
// the returned error covers only the call as a whole.
func (c *Client) SendBatch(ctx context.Context, items []domain.BatchItem, checksum string) (*domain.BatchResult, error) {
	endpoint := c.baseURL + "/api/v1/sync/batch"
	body := BatchRequest{Checksum: checksum, Items: items}

	var resp domain.BatchResult
	if err := c.doJSON(ctx, http.MethodPost, endpoint, body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) != len(items) {
		c.logger.Warn().
			Int("items", len(items)).
			Int("results", len(resp.Results)).
			Msg("batch response result count does not match request")
	}
	return &resp, nil
}

// CreateTask is the legacy single-item create.
func (c *Client) CreateTask(ctx context.Context, task *models.Task) (*models.Task, error) {
	var out models.Task
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/api/v1/tasks", task, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateTask is the legacy single-item update, addressed by server id when known.
func (c *Client) UpdateTask(ctx context.Context, task *models.Task) (*models.Task, error) {
	var out models.Task
	if err := c.doJSON(ctx, http.MethodPut, c.taskURL(task), task, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteTask is the legacy single-item delete. A task the server no longer has counts as deleted.
func (c *Client) DeleteTask(ctx context.Context, task *models.Task) error {
	err := c.doJSON(ctx, http.MethodDelete, c.taskURL(task), nil, nil)
	var re *RemoteError
	if errors.As(err, &re) && re.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

// CheckHealth reports whether the health endpoint answers 2xx. It never fails.
func (c *Client) CheckHealth(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.healthPath, nil)
	if err != nil {
		return false
	}
	c.addHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Msg("health check failed")
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (c *Client) taskURL(task *models.Task) string {
	id := task.ID
	if sid := task.ServerIDOrEmpty(); sid != "" {
		id = sid
	}
	return fmt.Sprintf("%s/api/v1/tasks/%s", c.baseURL, url.PathEscape(id))
}

// doJSON performs one bounded call. A cancelled or expired caller context is returned as-is;
// every other failure is a *RemoteError.
func (c *Client) doJSON(ctx context.Context, method, endpoint string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return transient(fmt.Errorf("rate limiter: %w", err))
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &RemoteError{Kind: KindValidation, Message: "encode request", Err: err}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(callCtx, method, endpoint, reader)
	if err != nil {
		return &RemoteError{Kind: KindValidation, Message: "build request", Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.addHeaders(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return transient(err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", method).
		Str("url", endpoint).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("remote call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return transient(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func statusError(resp *http.Response) *RemoteError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var eb errorBody
	_ = json.Unmarshal(raw, &eb)

	msg := eb.Error
	if msg == "" {
		msg = eb.Message
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	kind := ClassifyStatus(resp.StatusCode)
	if eb.Code == CodeChecksumMismatch {
		kind = KindChecksumMismatch
	}
	return &RemoteError{
		Kind:       kind,
		StatusCode: resp.StatusCode,
		Code:       eb.Code,
		Message:    msg,
	}
}

func (c *Client) addHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	if c.apiExtra != "" {
		req.Header.Set("x-api-extra", c.apiExtra)
	}
}
