package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"autotrac/sync-client/internal/models"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// APIClient handles communication with the AutoTrac backend API
type APIClient struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

// NewAPIClient creates a new API client. A non-empty apiKey is sent as a
// bearer token on every request.
func NewAPIClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *APIClient {
	httpClient := &http.Client{Timeout: timeout}
	if apiKey != "" {
		httpClient = oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: apiKey,
			TokenType:   "Bearer",
		}))
		httpClient.Timeout = timeout
	}

	return &APIClient{
		baseURL:    trimSlash(baseURL),
		timeout:    timeout,
		httpClient: httpClient,
		logger:     logger,
	}
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

// wire shapes of the backend resources
type timeEntryDTO struct {
	ID        int64             `json:"id"`
	ProjectID int64             `json:"project_id"`
	StartTime models.Timestamp  `json:"start_time"`
	EndTime   *models.Timestamp `json:"end_time"`
	Note      *string           `json:"note"`
}

func (d timeEntryDTO) toModel() models.TimeEntry {
	e := models.TimeEntry{
		ID:        models.RemoteID(d.ID),
		ProjectID: d.ProjectID,
		StartTime: d.StartTime.Time,
		Note:      d.Note,
	}
	if d.EndTime != nil && !d.EndTime.IsZero() {
		end := d.EndTime.Time
		e.EndTime = &end
	}
	return e
}

type incomeDTO struct {
	ID        int64            `json:"id"`
	ProjectID int64            `json:"project_id"`
	Date      models.Timestamp `json:"date"`
	Amount    float64          `json:"amount"`
	Currency  *string          `json:"currency"`
	Source    *string          `json:"source"`
	Note      *string          `json:"note"`
}

func (d incomeDTO) toModel() models.Income {
	return models.Income{
		ID:        models.RemoteID(d.ID),
		ProjectID: d.ProjectID,
		Date:      d.Date.Time,
		Amount:    d.Amount,
		Currency:  d.Currency,
		Source:    d.Source,
		Note:      d.Note,
	}
}

// ListProjects returns all projects
func (c *APIClient) ListProjects(ctx context.Context) ([]models.Project, error) {
	var projects []models.Project
	if err := c.do(ctx, http.MethodGet, "/projects/", nil, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// CreateProject creates a project. The backend returns the existing project
// when the name is already taken.
func (c *APIClient) CreateProject(ctx context.Context, req models.CreateProjectRequest) (*models.Project, error) {
	var project models.Project
	if err := c.do(ctx, http.MethodPost, "/projects/", req, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

func (c *APIClient) DeleteProject(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/projects/%d/", id), nil, nil)
}

// ListTimeEntries lists time entries, optionally filtered by project (0 = all)
func (c *APIClient) ListTimeEntries(ctx context.Context, projectID int64) ([]models.TimeEntry, error) {
	var dtos []timeEntryDTO
	if err := c.do(ctx, http.MethodGet, withProject("/time-entries/", projectID), nil, &dtos); err != nil {
		return nil, err
	}
	entries := make([]models.TimeEntry, 0, len(dtos))
	for _, d := range dtos {
		entries = append(entries, d.toModel())
	}
	return entries, nil
}

// CreateTimeEntry starts a timer (or records a closed interval when EndTime is set)
func (c *APIClient) CreateTimeEntry(ctx context.Context, payload models.StartTimerPayload) (*models.TimeEntry, error) {
	var dto timeEntryDTO
	if err := c.do(ctx, http.MethodPost, "/time-entries/", payload, &dto); err != nil {
		return nil, err
	}
	entry := dto.toModel()
	return &entry, nil
}

// StopTimeEntry sets end_time on an open entry. Stopping an already stopped
// entry is a no-op on the server.
func (c *APIClient) StopTimeEntry(ctx context.Context, id int64) (*models.TimeEntry, error) {
	var dto timeEntryDTO
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/time-entries/%d/stop", id), nil, &dto); err != nil {
		return nil, err
	}
	entry := dto.toModel()
	return &entry, nil
}

func (c *APIClient) DeleteTimeEntry(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/time-entries/%d/", id), nil, nil)
}

// ListIncomes lists incomes, optionally filtered by project (0 = all)
func (c *APIClient) ListIncomes(ctx context.Context, projectID int64) ([]models.Income, error) {
	var dtos []incomeDTO
	if err := c.do(ctx, http.MethodGet, withProject("/incomes/", projectID), nil, &dtos); err != nil {
		return nil, err
	}
	incomes := make([]models.Income, 0, len(dtos))
	for _, d := range dtos {
		incomes = append(incomes, d.toModel())
	}
	return incomes, nil
}

func (c *APIClient) CreateIncome(ctx context.Context, payload models.CreateIncomePayload) (*models.Income, error) {
	var dto incomeDTO
	if err := c.do(ctx, http.MethodPost, "/incomes/", payload, &dto); err != nil {
		return nil, err
	}
	income := dto.toModel()
	return &income, nil
}

func (c *APIClient) DeleteIncome(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/incomes/%d/", id), nil, nil)
}

// ExportIncomesCSV downloads the project's incomes as CSV
func (c *APIClient) ExportIncomesCSV(ctx context.Context, projectID int64) ([]byte, error) {
	return c.send(ctx, http.MethodGet, fmt.Sprintf("/projects/%d/incomes/export", projectID), nil)
}

// HealthCheck checks if the backend is reachable
func (c *APIClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: "health check", Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// ApplyResult reports the server record a replayed mutation created or changed
type ApplyResult struct {
	ServerID int64
}

// ErrLocalReference is returned by Apply when a stop_timer still points at
// an optimistic record that has no server id yet
var ErrLocalReference = errors.New("mutation references a record that only exists locally")

// Apply issues the remote call for a pending mutation
func (c *APIClient) Apply(ctx context.Context, m models.PendingMutation) (ApplyResult, error) {
	switch m.Kind {
	case models.KindStartTimer:
		var p models.StartTimerPayload
		if err := m.DecodePayload(&p); err != nil {
			return ApplyResult{}, err
		}
		entry, err := c.CreateTimeEntry(ctx, p)
		if err != nil {
			return ApplyResult{}, err
		}
		id, _ := entry.ID.Remote()
		return ApplyResult{ServerID: id}, nil

	case models.KindStopTimer:
		var p models.StopTimerPayload
		if err := m.DecodePayload(&p); err != nil {
			return ApplyResult{}, err
		}
		id, ok := p.EntryID.Remote()
		if !ok {
			return ApplyResult{}, ErrLocalReference
		}
		if _, err := c.StopTimeEntry(ctx, id); err != nil {
			return ApplyResult{}, err
		}
		return ApplyResult{ServerID: id}, nil

	case models.KindCreateIncome:
		var p models.CreateIncomePayload
		if err := m.DecodePayload(&p); err != nil {
			return ApplyResult{}, err
		}
		income, err := c.CreateIncome(ctx, p)
		if err != nil {
			return ApplyResult{}, err
		}
		id, _ := income.ID.Remote()
		return ApplyResult{ServerID: id}, nil

	default:
		return ApplyResult{}, fmt.Errorf("unsupported mutation kind %q", m.Kind)
	}
}

func withProject(path string, projectID int64) string {
	if projectID <= 0 {
		return path
	}
	return path + "?" + url.Values{"project_id": {strconv.FormatInt(projectID, 10)}}.Encode()
}

// do sends body as JSON and decodes the response into out (when non-nil)
func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	raw, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse response of %s %s: %w", method, path, err)
	}
	return nil
}

func (c *APIClient) send(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(startTime)

	if err != nil {
		c.logger.Warn("Request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, &NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: method + " " + path, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.logger.Debug("Request succeeded",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status_code", resp.StatusCode),
			zap.Duration("duration", duration),
		)
		return respBody, nil
	}

	errMsg := fmt.Sprintf("%s %s: backend returned status %d: %s", method, path, resp.StatusCode, string(respBody))

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		c.logger.Error("Authentication failed",
			zap.Int("status_code", resp.StatusCode),
			zap.String("response", string(respBody)),
		)
		return nil, &AuthError{Message: errMsg, StatusCode: resp.StatusCode}
	case http.StatusTooManyRequests:
		c.logger.Warn("Rate limited",
			zap.Int("status_code", resp.StatusCode),
		)
		return nil, &RateLimitError{Message: errMsg, StatusCode: resp.StatusCode}
	case http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity:
		c.logger.Warn("Request rejected",
			zap.String("path", path),
			zap.Int("status_code", resp.StatusCode),
			zap.String("response", string(respBody)),
		)
		return nil, &BadRequestError{Message: errMsg, StatusCode: resp.StatusCode}
	default:
		c.logger.Error("Backend error",
			zap.String("path", path),
			zap.Int("status_code", resp.StatusCode),
			zap.String("response", string(respBody)),
		)
		return nil, &BackendError{Message: errMsg, StatusCode: resp.StatusCode}
	}
}
