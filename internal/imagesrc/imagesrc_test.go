package imagesrc

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func onePixelPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecodeRawBytes(t *testing.T) {
	raw := onePixelPNG(t)
	img, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, 1, img.Bounds().Dx())
}

func TestDecodeDataURI(t *testing.T) {
	raw := onePixelPNG(t)
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)
	img, err := Decode(uri)
	require.NoError(t, err)
	assert.Equal(t, 1, img.Bounds().Dx())
}

func TestDecodeURL(t *testing.T) {
	raw := onePixelPNG(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(raw)
	}))
	defer srv.Close()

	img, err := Decode(srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 1, img.Bounds().Dx())
}

func TestDecodeURLNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := Decode(srv.URL)
	assert.Error(t, err)
}

func TestDecodeAllStopsAtFirstFailure(t *testing.T) {
	raw := onePixelPNG(t)
	_, err := DecodeAll([]any{raw, "not valid base64 or url at all"})
	assert.Error(t, err)
}

func TestHandleCloseThenOpenErrors(t *testing.T) {
	h := NewMemHandle(image.NewRGBA(image.Rect(0, 0, 1, 1)))
	require.NoError(t, h.Close())
	_, err := h.Open()
	assert.Error(t, err)
}
