package postprocess

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ripstream/ripstream/internal/config"
	"github.com/ripstream/ripstream/internal/provider"
)

func encodeTestPNG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func TestTaggerSkipsUnsupportedFormats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	original := []byte("not really a video")
	if err := os.WriteFile(path, original, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	tagger := NewTagger(config.ArtworkConfig{Embed: true, JPEGQuality: 90}, nil)
	item := provider.Item{Provider: provider.Generic, ID: "v1", Kind: provider.KindVideo, Title: "Clip"}

	got, err := tagger.Process(context.Background(), path, item)
	if err != nil {
		t.Fatalf("Expected pass-through for mp4, got: %v", err)
	}
	if got != path {
		t.Errorf("Expected path to be unchanged, got %q", got)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.Equal(data, original) {
		t.Error("Expected unsupported format to be left untouched")
	}
}

func TestChainStopsAtFirstFailure(t *testing.T) {
	var calls []string
	boom := errors.New("boom")

	chain := Chain{
		ProcessorFunc(func(ctx context.Context, path string, item provider.Item) (string, error) {
			calls = append(calls, "first")
			return path + ".step1", nil
		}),
		ProcessorFunc(func(ctx context.Context, path string, item provider.Item) (string, error) {
			calls = append(calls, "second")
			if path != "/tmp/x.mp3.step1" {
				t.Errorf("Expected threaded path, got %q", path)
			}
			return path, boom
		}),
		ProcessorFunc(func(ctx context.Context, path string, item provider.Item) (string, error) {
			calls = append(calls, "third")
			return path, nil
		}),
	}

	_, err := chain.Process(context.Background(), "/tmp/x.mp3", provider.Item{})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected chain to surface the failure, got: %v", err)
	}
	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Errorf("Expected chain to stop after the failing step, got calls: %v", calls)
	}
}

func TestResizeArtworkDownscalesLongEdge(t *testing.T) {
	data := encodeTestPNG(t, 2000, 1000)

	resized, err := ResizeArtwork(data, 500, 90)
	if err != nil {
		t.Fatalf("ResizeArtwork failed: %v", err)
	}

	img, _, err := image.Decode(bytes.NewReader(resized))
	if err != nil {
		t.Fatalf("Failed to decode resized image: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != 500 {
		t.Errorf("Expected width 500, got %d", bounds.Dx())
	}
	if bounds.Dy() != 250 {
		t.Errorf("Expected height 250, got %d", bounds.Dy())
	}
}

func TestResizeArtworkKeepsSmallImages(t *testing.T) {
	data := encodeTestPNG(t, 300, 300)

	resized, err := ResizeArtwork(data, 1200, 90)
	if err != nil {
		t.Fatalf("ResizeArtwork failed: %v", err)
	}
	if !bytes.Equal(resized, data) {
		t.Error("Expected image within bounds to be returned unchanged")
	}
}

func TestResizeArtworkRejectsGarbage(t *testing.T) {
	if _, err := ResizeArtwork([]byte("not an image"), 500, 90); err == nil {
		t.Error("Expected error for undecodable image data")
	}
}

func TestHTTPArtworkFetcher(t *testing.T) {
	data := encodeTestPNG(t, 800, 800)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}))
	defer server.Close()

	fetch := HTTPArtworkFetcher(server.Client())
	got, mimeType, err := fetch(context.Background(), server.URL, 400, 90)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if mimeType != "image/png" {
		t.Errorf("Expected image/png, got %s", mimeType)
	}

	img, _, err := image.Decode(bytes.NewReader(got))
	if err != nil {
		t.Fatalf("Failed to decode fetched image: %v", err)
	}
	if img.Bounds().Dx() != 400 {
		t.Errorf("Expected fetched artwork resized to 400px, got %d", img.Bounds().Dx())
	}
}

func TestHTTPArtworkFetcherStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	fetch := HTTPArtworkFetcher(server.Client())
	if _, _, err := fetch(context.Background(), server.URL, 400, 90); err == nil {
		t.Error("Expected error for 404 artwork")
	}
}

func TestFLACPictureBlockLayout(t *testing.T) {
	img := []byte{0xFF, 0xD8, 0xFF}
	block := flacPictureBlock(img, "image/jpeg")

	// Picture type 3 (front cover) in the first 4 bytes.
	if block[3] != 3 || block[0] != 0 {
		t.Errorf("Expected picture type 3, got % x", block[:4])
	}
	// Image bytes at the tail.
	if !bytes.Equal(block[len(block)-len(img):], img) {
		t.Error("Expected image data at end of picture block")
	}
}
