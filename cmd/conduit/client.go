package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"conduit/internal/config"
)

// apiClient talks to the conduitd HTTP API.
type apiClient struct {
	base   string
	token  string
	client *http.Client
}

func newAPIClient(cfg *config.Config) (*apiClient, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, fmt.Errorf("api_bind is not configured; the daemon API is disabled")
	}
	return &apiClient{
		base:   "http://" + bind,
		token:  strings.TrimSpace(cfg.Paths.APIToken),
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type daemonStatus struct {
	Running      bool   `json:"running"`
	PID          int    `json:"pid"`
	DBPath       string `json:"db_path"`
	LockFilePath string `json:"lock_file_path"`
	Total        int    `json:"total"`
	Uploading    int    `json:"uploading"`
	Transcoding  int    `json:"transcoding"`
	Distributing int    `json:"distributing"`
	Completed    int    `json:"completed"`
	Failed       int    `json:"failed"`
	StaleUploads int    `json:"stale_uploads"`
}

type pipelineSummary struct {
	ID           string `json:"id"`
	CreatorID    string `json:"creator_id"`
	CreatorTier  string `json:"creator_tier"`
	Stage        string `json:"stage"`
	AssetID      string `json:"asset_id"`
	ErrorMessage string `json:"error_message"`
	CreatedAt    string `json:"created_at"`
}

type uploadDetail struct {
	Status         string  `json:"status"`
	ReceivedChunks int     `json:"received_chunks"`
	TotalChunks    int     `json:"total_chunks"`
	ReceivedBytes  int64   `json:"received_bytes"`
	TotalBytes     int64   `json:"total_bytes"`
	Percent        float64 `json:"percent"`
}

type jobDetail struct {
	Preset   string  `json:"preset"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
}

type transcodeDetail struct {
	OverallProgress float64     `json:"overall_progress"`
	Jobs            []jobDetail `json:"jobs"`
}

type targetDetail struct {
	Platform     string `json:"platform"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

type pipelineDetail struct {
	ID            string           `json:"id"`
	Stage         string           `json:"stage"`
	CreatorID     string           `json:"creator_id"`
	CreatorTier   string           `json:"creator_tier"`
	AutoTranscode bool             `json:"auto_transcode"`
	ErrorMessage  string           `json:"error_message"`
	Upload        *uploadDetail    `json:"upload"`
	Transcode     *transcodeDetail `json:"transcode"`
	Targets       []targetDetail   `json:"targets"`
}

func (c *apiClient) status() (*daemonStatus, error) {
	var status daemonStatus
	if err := c.get("/api/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *apiClient) listPipelines(stage string) ([]pipelineSummary, error) {
	query := url.Values{}
	if stage != "" {
		query.Set("stage", stage)
	}
	var resp struct {
		Pipelines []pipelineSummary `json:"pipelines"`
	}
	if err := c.get("/api/pipelines", query, &resp); err != nil {
		return nil, err
	}
	return resp.Pipelines, nil
}

func (c *apiClient) showPipeline(id string) (*pipelineDetail, error) {
	var detail pipelineDetail
	if err := c.get("/api/pipelines/"+url.PathEscape(id), nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

func (c *apiClient) pipelineAction(id, action string) error {
	return c.do(http.MethodPost, "/api/pipelines/"+url.PathEscape(id)+"/"+action, nil)
}

func (c *apiClient) get(path string, query url.Values, out any) error {
	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	return c.send(req, out)
}

func (c *apiClient) do(method, path string, out any) error {
	req, err := http.NewRequest(method, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.send(req, out)
}

func (c *apiClient) send(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("is conduitd running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiError struct {
			Error string `json:"error"`
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if json.Unmarshal(body, &apiError) == nil && apiError.Error != "" {
			return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, apiError.Error)
		}
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
