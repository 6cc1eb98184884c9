package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ModelClient communicates with the Python audio classification service.
type ModelClient struct {
	serviceURL string
	client     *http.Client
}

// Category is one class score reported by the model.
type Category struct {
	Name  string  `json:"class"`
	Score float64 `json:"score"`
}

// classifyResponse accepts both {"categories": [...]} and {"results": [...]}.
type classifyResponse struct {
	Categories []Category `json:"categories"`
	Results    []Category `json:"results"`
}

// NewModelClient creates a new model service client.
func NewModelClient(serviceURL string, timeout time.Duration) *ModelClient {
	if serviceURL == "" {
		serviceURL = "http://localhost:5002"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &ModelClient{
		serviceURL: strings.TrimRight(serviceURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// URL is the base address of the service.
func (mc *ModelClient) URL() string {
	return mc.serviceURL
}

// HealthCheck verifies the model service is running
func (mc *ModelClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mc.serviceURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := mc.client.Do(req)
	if err != nil {
		return fmt.Errorf("model service not reachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model service unhealthy: status %d", resp.StatusCode)
	}

	return nil
}

// ClassifyFile uploads an audio file and returns the model's categories, best first.
func (mc *ModelClient) ClassifyFile(ctx context.Context, audioPath string) ([]Category, error) {
	data, err := os.ReadFile(filepath.Clean(audioPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	return mc.ClassifyBytes(ctx, data, filepath.Base(audioPath))
}

// ClassifyBytes uploads in-memory WAV data under filename.
func (mc *ModelClient) ClassifyBytes(ctx context.Context, audioData []byte, filename string) ([]Category, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("audio", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(audioData); err != nil {
		return nil, fmt.Errorf("failed to write file data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, mc.serviceURL+"/classify", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := mc.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classification request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("model service returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	categories, err := parseCategories(raw)
	if err != nil {
		return nil, err
	}
	if len(categories) == 0 {
		return nil, errors.New("received no categories")
	}
	return categories, nil
}

// parseCategories handles a bare array as well as the wrapped forms.
func parseCategories(raw []byte) ([]Category, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []Category
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return sortCategories(list), nil
	}

	var wrapped classifyResponse
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(wrapped.Categories) > 0 {
		return sortCategories(wrapped.Categories), nil
	}
	return sortCategories(wrapped.Results), nil
}

func sortCategories(list []Category) []Category {
	out := make([]Category, 0, len(list))
	for _, c := range list {
		if strings.TrimSpace(c.Name) != "" {
			out = append(out, c)
		}
	}
	// stable so equal scores keep the service's order
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
