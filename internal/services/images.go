package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxImageBytes = 8 << 20

// ImageFetcher downloads catalog pictures and hands them to the chat vendor
// as data URIs, the same form the browser sends as imageData.
type ImageFetcher struct {
	http  *http.Client
	cache ImageCache
}

func NewImageFetcher(cache ImageCache) *ImageFetcher {
	return &ImageFetcher{
		http:  &http.Client{Timeout: 15 * time.Second},
		cache: cache,
	}
}

// ProxiedImageURL routes TMDB artwork through images.weserv.nl, which serves it
// with permissive CORS and a stable content type.
func ProxiedImageURL(raw string) string {
	if !strings.HasPrefix(raw, "https://image.tmdb.org/") {
		return raw
	}
	return "https://images.weserv.nl/?url=" + url.QueryEscape(strings.TrimPrefix(raw, "https://"))
}

// Load returns the picture at rawURL as a data URI.
func (f *ImageFetcher) Load(ctx context.Context, rawURL string) (string, error) {
	if f.cache != nil {
		if uri, ok := f.cache.GetImage(ctx, rawURL); ok {
			return uri, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ProxiedImageURL(rawURL), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build image request: %w", err)
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch image: %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return "", fmt.Errorf("image larger than %d bytes", maxImageBytes)
	}

	mime := resp.Header.Get("Content-Type")
	if semi := strings.Index(mime, ";"); semi >= 0 {
		mime = mime[:semi]
	}
	if !strings.HasPrefix(mime, "image/") {
		mime = defaultImageMIME
	}

	uri := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
	if f.cache != nil {
		f.cache.PutImage(ctx, rawURL, uri)
	}
	return uri, nil
}
