package feishu

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// maxMediaBytes bounds acquired payloads; larger references degrade to links.
const maxMediaBytes int64 = 30 * 1024 * 1024

var driveLetterPattern = regexp.MustCompile(`^[A-Za-z]:[\\/]`)

var imageExtensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".gif":  {},
	".webp": {},
	".bmp":  {},
}

// isImageReference classifies a media reference by file extension. Only
// image-classified assets are eligible for webhook or host re-upload
// fallback; everything else degrades to a link message.
func isImageReference(ref string) bool {
	_, ok := imageExtensions[referenceExtension(ref)]
	return ok
}

func referenceExtension(ref string) string {
	ref = strings.TrimSpace(ref)
	if parsed, err := url.Parse(ref); err == nil && parsed.Path != "" && parsed.Scheme != "" {
		ref = parsed.Path
	}
	if idx := strings.IndexAny(ref, "?#"); idx >= 0 {
		ref = ref[:idx]
	}
	return strings.ToLower(filepath.Ext(ref))
}

// isLocalReference reports whether ref names a local file rather than a
// remote URL: path roots, home markers, and drive letters are local.
func isLocalReference(ref string) bool {
	ref = strings.TrimPrefix(strings.TrimSpace(ref), "file://")
	if ref == "" {
		return false
	}
	if strings.HasPrefix(ref, "/") || strings.HasPrefix(ref, "~") {
		return true
	}
	return driveLetterPattern.MatchString(ref)
}

// acquireMedia resolves a media reference into its raw bytes. Callers may
// pass either a locally generated attachment path or a user-supplied remote
// URL; no pre-normalization is required.
func acquireMedia(ctx context.Context, client *http.Client, ref string) ([]byte, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("media reference is required")
	}
	if isLocalReference(ref) {
		return readLocalMedia(ref)
	}
	return fetchRemoteMedia(ctx, client, ref)
}

func readLocalMedia(ref string) ([]byte, error) {
	path := strings.TrimPrefix(ref, "file://")
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("expand home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read media file %s: %w", path, err)
	}
	return data, nil
}

func fetchRemoteMedia(ctx context.Context, client *http.Client, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("build media request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch media %s: %w", ref, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch media %s: status %d", ref, resp.StatusCode)
	}
	return readAllWithLimit(resp.Body, maxMediaBytes)
}

func readAllWithLimit(reader io.Reader, maxBytes int64) ([]byte, error) {
	limited := &io.LimitedReader{R: reader, N: maxBytes + 1}
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("media payload exceeds %d bytes", maxBytes)
	}
	return data, nil
}
