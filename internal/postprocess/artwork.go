package postprocess

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"

	"github.com/nfnt/resize"

	"github.com/ripstream/ripstream/internal/network"
)

// ArtworkFetcher retrieves cover art, downscaled so the longest edge is at
// most maxEdgePx (0 keeps the original size).
type ArtworkFetcher func(ctx context.Context, url string, maxEdgePx, jpegQuality int) ([]byte, string, error)

// HTTPArtworkFetcher fetches artwork over HTTP using the shared client.
func HTTPArtworkFetcher(client *http.Client) ArtworkFetcher {
	if client == nil {
		client = network.GetDefaultClient()
	}
	return func(ctx context.Context, url string, maxEdgePx, jpegQuality int) ([]byte, string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, "", fmt.Errorf("build artwork request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, "", fmt.Errorf("download artwork: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, "", fmt.Errorf("download artwork: status %d", resp.StatusCode)
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, "", fmt.Errorf("read artwork: %w", err)
		}
		mimeType := resp.Header.Get("Content-Type")
		if mimeType == "" {
			mimeType = "image/jpeg"
		}

		if maxEdgePx > 0 {
			if resized, err := ResizeArtwork(data, maxEdgePx, jpegQuality); err == nil {
				return resized, mimeType, nil
			}
			// Undecodable image data: embed as-is.
		}
		return data, mimeType, nil
	}
}

// ResizeArtwork downscales an image so its longest edge is targetEdge pixels,
// preserving aspect ratio. Images already within bounds are returned as-is.
func ResizeArtwork(imageData []byte, targetEdge, jpegQuality int) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("decode artwork: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= targetEdge && height <= targetEdge {
		return imageData, nil
	}

	var resized image.Image
	if width > height {
		resized = resize.Resize(uint(targetEdge), 0, img, resize.Lanczos3)
	} else {
		resized = resize.Resize(0, uint(targetEdge), img, resize.Lanczos3)
	}

	if jpegQuality < 1 || jpegQuality > 100 {
		jpegQuality = 90
	}

	var buf bytes.Buffer
	switch format {
	case "png":
		err = png.Encode(&buf, resized)
	default:
		err = jpeg.Encode(&buf, resized, &jpeg.Options{Quality: jpegQuality})
	}
	if err != nil {
		return nil, fmt.Errorf("encode artwork: %w", err)
	}
	return buf.Bytes(), nil
}
