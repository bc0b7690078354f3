package feishu

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
)

const (
	catboxEndpoint  = "https://catbox.moe/user/api.php"
	zeroBinEndpoint = "https://0x0.st"

	// Hosts must answer with a bare URL body; anything else is treated as
	// that host failing, not a fatal multiplexer error.
	hostResponsePrefix = "https://"
)

// imageHostUpload is the result of re-hosting an image on a public host.
type imageHostUpload struct {
	URL       string
	DeleteURL string
}

// imageHost is one anonymous public hosting service.
type imageHost interface {
	Name() string
	Upload(ctx context.Context, data []byte) (imageHostUpload, error)
}

// defaultImageHosts returns the hosts in fixed priority order. They are
// unauthenticated with independent uptime, so the first success wins.
func defaultImageHosts(client *http.Client) []imageHost {
	return []imageHost{
		&catboxHost{client: client, endpoint: catboxEndpoint},
		&zeroBinHost{client: client, endpoint: zeroBinEndpoint},
	}
}

// uploadImageToHost tries each host in order and returns the first success.
// When every host fails, the error references the last underlying failure.
func uploadImageToHost(ctx context.Context, hosts []imageHost, data []byte, log *slog.Logger) (imageHostUpload, error) {
	if len(hosts) == 0 {
		return imageHostUpload{}, fmt.Errorf("no image hosts configured")
	}
	var lastErr error
	for _, host := range hosts {
		result, err := host.Upload(ctx, data)
		if err == nil {
			log.Info("image re-hosted", slog.String("host", host.Name()), slog.String("url", result.URL))
			return result, nil
		}
		lastErr = err
		log.Warn("image host upload failed", slog.String("host", host.Name()), slog.Any("error", err))
	}
	return imageHostUpload{}, fmt.Errorf("all image hosts failed, last error: %w", lastErr)
}

type catboxHost struct {
	client   *http.Client
	endpoint string
}

func (h *catboxHost) Name() string { return "catbox" }

func (h *catboxHost) Upload(ctx context.Context, data []byte) (imageHostUpload, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("reqtype", "fileupload"); err != nil {
		return imageHostUpload{}, err
	}
	part, err := writer.CreateFormFile("fileToUpload", "image.png")
	if err != nil {
		return imageHostUpload{}, err
	}
	if _, err := part.Write(data); err != nil {
		return imageHostUpload{}, err
	}
	if err := writer.Close(); err != nil {
		return imageHostUpload{}, err
	}
	body, err := postMultipart(ctx, h.client, h.endpoint, writer.FormDataContentType(), &buf)
	if err != nil {
		return imageHostUpload{}, err
	}
	url := strings.TrimSpace(body)
	if !strings.HasPrefix(url, hostResponsePrefix) {
		return imageHostUpload{}, fmt.Errorf("catbox returned unexpected body: %q", truncateBody(url))
	}
	return imageHostUpload{URL: url}, nil
}

type zeroBinHost struct {
	client   *http.Client
	endpoint string
}

func (h *zeroBinHost) Name() string { return "0x0.st" }

func (h *zeroBinHost) Upload(ctx context.Context, data []byte) (imageHostUpload, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "image.png")
	if err != nil {
		return imageHostUpload{}, err
	}
	if _, err := part.Write(data); err != nil {
		return imageHostUpload{}, err
	}
	if err := writer.Close(); err != nil {
		return imageHostUpload{}, err
	}
	body, err := postMultipart(ctx, h.client, h.endpoint, writer.FormDataContentType(), &buf)
	if err != nil {
		return imageHostUpload{}, err
	}
	url := strings.TrimSpace(body)
	if !strings.HasPrefix(url, hostResponsePrefix) {
		return imageHostUpload{}, fmt.Errorf("0x0.st returned unexpected body: %q", truncateBody(url))
	}
	return imageHostUpload{URL: url}, nil
}

func postMultipart(ctx context.Context, client *http.Client, endpoint, contentType string, body io.Reader) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("upload responded with status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func truncateBody(body string) string {
	const max = 120
	if len(body) <= max {
		return body
	}
	return body[:max] + "..."
}
