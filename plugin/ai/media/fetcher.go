// Package media downloads and normalizes images before they are sent to a
// generation backend.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // register the webp decoder
	"golang.org/x/sync/singleflight"

	"github.com/hrygo/lineai/plugin/ai/cache"
	"github.com/hrygo/lineai/plugin/ai/timeout"
)

const (
	DefaultMaxBytes     = 10 << 20
	DefaultMaxDimension = 1568
	DefaultCacheSize    = 128
	DefaultCacheTTL     = 10 * time.Minute
)

var (
	// ErrEmpty is returned for a zero-length payload.
	ErrEmpty = errors.New("media: empty payload")
	// ErrTooLarge is returned when a payload exceeds the configured limit.
	ErrTooLarge = errors.New("media: payload too large")
	// ErrUnsupportedType is returned for payloads that are not decodable images.
	ErrUnsupportedType = errors.New("media: unsupported type")
)

// Image is a validated image ready for a backend.
type Image struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
	Resized  bool
}

// Config configures a Fetcher.
type Config struct {
	MaxBytes     int64
	MaxDimension int
	CacheSize    int
	CacheTTL     time.Duration
	Timeout      time.Duration
	Client       *http.Client
}

// Fetcher downloads images over HTTP, validates and downsizes them, and
// caches the result by URL. Concurrent fetches of one URL share a download.
type Fetcher struct {
	cfg    Config
	client *http.Client
	cache  *cache.Service[*Image]
	group  singleflight.Group
}

// NewFetcher creates a Fetcher. Zero fields take package defaults.
func NewFetcher(cfg Config) *Fetcher {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = DefaultMaxDimension
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = timeout.MediaFetchTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}

	return &Fetcher{
		cfg:    cfg,
		client: client,
		cache: cache.NewService[*Image](cache.ServiceConfig{
			Capacity:        cfg.CacheSize,
			DefaultTTL:      cfg.CacheTTL,
			CleanupInterval: cfg.CacheTTL,
		}),
	}
}

// Close stops the cache cleanup loop.
func (f *Fetcher) Close() {
	f.cache.Close()
}

// CacheStats returns cache hit and miss counters.
func (f *Fetcher) CacheStats() cache.Stats {
	return f.cache.Stats()
}

// Fetch downloads url and returns the prepared image.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Image, error) {
	if img, ok := f.cache.Get(url); ok {
		return img, nil
	}

	v, err, shared := f.group.Do(url, func() (any, error) {
		data, err := f.download(ctx, url)
		if err != nil {
			return nil, err
		}
		img, err := f.Prepare(data)
		if err != nil {
			return nil, err
		}
		f.cache.Set(url, img, 0)
		return img, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		slog.Debug("media download shared", "url", url)
	}
	return v.(*Image), nil
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build media request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download media: HTTP %d", resp.StatusCode)
	}
	if resp.ContentLength > f.cfg.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read media body: %w", err)
	}
	if int64(len(data)) > f.cfg.MaxBytes {
		return nil, fmt.Errorf("%w: over %d bytes", ErrTooLarge, f.cfg.MaxBytes)
	}
	return data, nil
}

// Prepare validates data as an image and downsizes it so neither side
// exceeds MaxDimension. Images already within bounds are returned unchanged.
func (f *Fetcher) Prepare(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if int64(len(data)) > f.cfg.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}

	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedType, mimeType, err)
	}

	maxDim := f.cfg.MaxDimension
	if cfg.Width <= maxDim && cfg.Height <= maxDim {
		return &Image{Data: data, MIMEType: mimeType, Width: cfg.Width, Height: cfg.Height}, nil
	}

	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedType, mimeType, err)
	}
	dst := imaging.Fit(src, maxDim, maxDim, imaging.Lanczos)

	format, outType := outputFormat(mimeType)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, dst, format, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode resized image: %w", err)
	}

	bounds := dst.Bounds()
	slog.Debug("image downsized",
		"from", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"to", fmt.Sprintf("%dx%d", bounds.Dx(), bounds.Dy()),
	)

	return &Image{
		Data:     buf.Bytes(),
		MIMEType: outType,
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
		Resized:  true,
	}, nil
}

// outputFormat keeps PNG and GIF lossless and re-encodes everything else as JPEG.
func outputFormat(mimeType string) (imaging.Format, string) {
	switch mimeType {
	case "image/png":
		return imaging.PNG, "image/png"
	case "image/gif":
		return imaging.GIF, "image/gif"
	default:
		return imaging.JPEG, "image/jpeg"
	}
}
