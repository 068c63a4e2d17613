package clients

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// UploadError is a terminal failure talking to the media storage provider.
// Detail carries the provider's own message for diagnostics.
type UploadError struct {
	Detail  string
	Timeout bool
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("storage: upload failed: %s", e.Detail)
}

// UploadInput describes one binary payload to store.
type UploadInput struct {
	Folder   string
	PublicID string
	Format   string
	Data     []byte
}

// MediaStorageClient uploads audio blobs to the media storage provider's
// signed upload API and returns secure retrieval URLs. Audio is stored under
// the provider's video resource type.
type MediaStorageClient struct {
	baseURL   string
	cloudName string
	apiKey    string
	apiSecret string
	client    *http.Client
	logger    *zap.Logger
}

// NewMediaStorageClient builds the client. baseURL is overridable for tests;
// empty selects the provider default.
func NewMediaStorageClient(baseURL, cloudName, apiKey, apiSecret string, timeout time.Duration, logger *zap.Logger) *MediaStorageClient {
	if baseURL == "" {
		baseURL = "https://api.cloudinary.com"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MediaStorageClient{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		cloudName: cloudName,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

type uploadResponse struct {
	SecureURL string `json:"secure_url"`
	Error     struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Upload stores the payload and returns its secure URL.
func (c *MediaStorageClient) Upload(ctx context.Context, input UploadInput) (string, error) {
	params := map[string]string{
		"folder":    input.Folder,
		"public_id": input.PublicID,
		"timestamp": strconv.FormatInt(time.Now().Unix(), 10),
	}
	if input.Format != "" {
		params["format"] = input.Format
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, value := range params {
		if err := writer.WriteField(key, value); err != nil {
			return "", err
		}
	}
	if err := writer.WriteField("api_key", c.apiKey); err != nil {
		return "", err
	}
	if err := writer.WriteField("signature", c.sign(params)); err != nil {
		return "", err
	}
	part, err := writer.CreateFormFile("file", input.PublicID)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(input.Data); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/v1_1/%s/video/upload", c.baseURL, c.cloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			c.logger.Warn("storage upload timed out", zap.String("folder", input.Folder))
			return "", &UploadError{Detail: "upload timed out", Timeout: true}
		}
		return "", &UploadError{Detail: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &UploadError{Detail: fmt.Sprintf("read response: %v", err)}
	}

	var parsed uploadResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &UploadError{Detail: fmt.Sprintf("invalid response: %.200s", string(body))}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := parsed.Error.Message
		if detail == "" {
			detail = fmt.Sprintf("status %d", resp.StatusCode)
		}
		c.logger.Warn("storage upload rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("detail", detail),
		)
		return "", &UploadError{Detail: detail}
	}

	if parsed.SecureURL == "" {
		return "", &UploadError{Detail: "upload completed but no URL returned"}
	}

	c.logger.Debug("storage upload ok",
		zap.String("folder", input.Folder),
		zap.String("public_id", input.PublicID),
		zap.Int("bytes", len(input.Data)),
	)
	return parsed.SecureURL, nil
}

// sign produces the provider's request signature: the sorted key=value pairs
// joined with "&", concatenated with the API secret, SHA-1 hashed.
func (c *MediaStorageClient) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+params[key])
	}

	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + c.apiSecret))
	return hex.EncodeToString(sum[:])
}
