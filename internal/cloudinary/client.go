// Package cloudinary uploads student photos to Cloudinary's REST API.
package cloudinary

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"verifyme/internal/sentinel"
)

const defaultBaseURL = "https://api.cloudinary.com/v1_1"

// Client uploads images. Uploads are signed when APIKey and APISecret are
// set and otherwise use the unsigned UploadPreset.
type Client struct {
	BaseURL      string
	CloudName    string
	APIKey       string
	APISecret    string
	UploadPreset string
	Folder       string
	HTTP         *http.Client
	now          func() time.Time
}

// New creates a Cloudinary client.
func New(cloudName, apiKey, apiSecret, uploadPreset, folder string) *Client {
	return &Client{
		BaseURL:      defaultBaseURL,
		CloudName:    cloudName,
		APIKey:       apiKey,
		APISecret:    apiSecret,
		UploadPreset: uploadPreset,
		Folder:       folder,
		HTTP:         &http.Client{Timeout: 30 * time.Second},
		now:          time.Now,
	}
}

// UploadResult holds the response from Cloudinary after a successful upload.
type UploadResult struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	URL       string `json:"url"`
	Format    string `json:"format"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Bytes     int    `json:"bytes"`
}

// Upload sends image bytes and returns the hosted URL. Transport failures
// and 5xx responses wrap sentinel.ErrUnavailable.
func (c *Client) Upload(ctx context.Context, data []byte, filename string) (UploadResult, error) {
	if len(data) == 0 {
		return UploadResult{}, fmt.Errorf("cloudinary: %w: empty file", sentinel.ErrInvalidInput)
	}
	params := c.params()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_ = w.WriteField(k, params[k])
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return UploadResult{}, fmt.Errorf("cloudinary: create form file failed: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return UploadResult{}, fmt.Errorf("cloudinary: write file failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return UploadResult{}, fmt.Errorf("cloudinary: close form failed: %w", err)
	}

	url := fmt.Sprintf("%s/%s/image/upload", strings.TrimRight(c.BaseURL, "/"), c.CloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return UploadResult{}, fmt.Errorf("cloudinary: create request failed: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return UploadResult{}, fmt.Errorf("cloudinary: %w: %v", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode >= 500:
		return UploadResult{}, fmt.Errorf("cloudinary: %w: upload failed (%d)", sentinel.ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 300:
		return UploadResult{}, fmt.Errorf("cloudinary: upload failed (%d): %s", resp.StatusCode, string(body))
	}

	var result UploadResult
	if err := json.Unmarshal(body, &result); err != nil {
		return UploadResult{}, fmt.Errorf("cloudinary: decode response failed: %w", err)
	}
	if result.SecureURL == "" && result.URL == "" {
		return UploadResult{}, fmt.Errorf("cloudinary: response has no url")
	}
	return result, nil
}

// PhotoURL prefers the https URL.
func (r UploadResult) PhotoURL() string {
	if r.SecureURL != "" {
		return r.SecureURL
	}
	return r.URL
}

func (c *Client) signed() bool {
	return c.APIKey != "" && c.APISecret != ""
}

func (c *Client) params() map[string]string {
	params := map[string]string{}
	if c.Folder != "" {
		params["folder"] = c.Folder
	}
	if !c.signed() {
		params["upload_preset"] = c.UploadPreset
		return params
	}
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	params["timestamp"] = strconv.FormatInt(now().Unix(), 10)
	if c.UploadPreset != "" {
		params["upload_preset"] = c.UploadPreset
	}
	params["signature"] = c.sign(params)
	params["api_key"] = c.APIKey
	return params
}

// sign computes the Cloudinary API signature from the given params.
// api_key, file and resource_type are not signed.
func (c *Client) sign(params map[string]string) string {
	excludeKeys := map[string]bool{"api_key": true, "file": true, "resource_type": true, "signature": true}

	pairs := make([]string, 0, len(params))
	for k, v := range params {
		if !excludeKeys[k] && v != "" {
			pairs = append(pairs, k+"="+v)
		}
	}
	sort.Strings(pairs)

	h := sha1.New()
	h.Write([]byte(strings.Join(pairs, "&") + c.APISecret))
	return fmt.Sprintf("%x", h.Sum(nil))
}
