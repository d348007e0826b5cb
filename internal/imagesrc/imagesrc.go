// Package imagesrc decodes the three shapes a translation request's
// image field can arrive in — a raw byte body, a data-URI base64
// string, or a remote URL — into a standard image.Image, the only
// shape the dispatch core ever sees.
package imagesrc

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

var dataURIPattern = regexp.MustCompile(`^data:image/[a-zA-Z0-9.+-]+;base64,`)

// FetchTimeout bounds a remote image fetch — an admission path that can
// block indefinitely on a third-party host is not something this
// codebase otherwise does.
var FetchTimeout = 10 * time.Second

var httpClient = &http.Client{Timeout: FetchTimeout}

// Decode turns one request image field into an image.Image. src may be
// raw image bytes, a "data:image/...;base64,..." URI, or an http(s)
// URL — the same three shapes the request handler accepts. A string
// that is neither a data URI nor a URL but is valid standard base64 is
// decoded as raw image bytes.
func Decode(src any) (image.Image, error) {
	switch v := src.(type) {
	case []byte:
		return decodeBytes(v)
	case string:
		return decodeString(v)
	default:
		return nil, fmt.Errorf("imagesrc: unsupported image field type %T", src)
	}
}

// DecodeAll decodes a batch request's ordered image list, stopping at
// the first failure — a partially-decoded batch is never admitted.
func DecodeAll(srcs []any) ([]image.Image, error) {
	images := make([]image.Image, 0, len(srcs))
	for i, src := range srcs {
		img, err := Decode(src)
		if err != nil {
			return nil, fmt.Errorf("imagesrc: image %d: %w", i, err)
		}
		images = append(images, img)
	}
	return images, nil
}

func decodeString(s string) (image.Image, error) {
	if dataURIPattern.MatchString(s) {
		comma := strings.IndexByte(s, ',')
		raw, err := base64.StdEncoding.DecodeString(s[comma+1:])
		if err != nil {
			return nil, fmt.Errorf("imagesrc: invalid base64 payload: %w", err)
		}
		return decodeBytes(raw)
	}
	if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
		return decodeBytes(raw)
	}
	return fetchURL(s)
}

func fetchURL(url string) (image.Image, error) {
	resp, err := httpClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("imagesrc: fetching %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("imagesrc: fetching %s: unexpected status %s", url, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("imagesrc: reading %s: %w", url, err)
	}
	return decodeBytes(body)
}

func decodeBytes(raw []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("imagesrc: decoding image data: %w", err)
	}
	return img, nil
}
