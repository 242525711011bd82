// Package provider defines the capability boundary between the download core
// and the streaming services it pulls from. The core only ever sees the
// Fetcher and Resolver interfaces; service-specific authentication and URL
// schemes stay behind them.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrResumeNotSupported signals that the provider ignored a byte-range
// request. Any partial local data is useless; callers must discard it and
// fetch from offset zero.
var ErrResumeNotSupported = errors.New("provider does not support resume")

// Source identifies a streaming provider. The set is closed: new providers
// implement Fetcher without touching the download core.
type Source string

const (
	Qobuz      Source = "qobuz"
	Tidal      Source = "tidal"
	Deezer     Source = "deezer"
	SoundCloud Source = "soundcloud"
	Generic    Source = "generic"
)

// ParseSource maps a provider name to its Source, rejecting unknown names.
func ParseSource(name string) (Source, error) {
	switch Source(name) {
	case Qobuz, Tidal, Deezer, SoundCloud, Generic:
		return Source(name), nil
	default:
		return "", fmt.Errorf("unknown provider: %q", name)
	}
}

// MediaKind distinguishes audio tracks from videos.
type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

// Item is one resolved media item ready to be turned into a download task.
// Resolution (URL parsing, playlist expansion, search) happens upstream.
type Item struct {
	Provider Source
	ID       string
	Kind     MediaKind
	Title    string
	Artist   string
	Album    string
	Quality  string
	// ArtworkURL points at the cover image when the resolver knows one.
	ArtworkURL string
}

// Label returns the human-readable name used in progress displays.
func (i Item) Label() string {
	if i.Artist != "" && i.Title != "" {
		return i.Artist + " - " + i.Title
	}
	if i.Title != "" {
		return i.Title
	}
	return string(i.Provider) + ":" + i.ID
}

// Fetcher fetches the raw bytes of one item. Implementations must return
// errors from the internal/errors taxonomy so the worker pool can classify
// outcomes: auth, not_found, rate_limit, or transient.
type Fetcher interface {
	// Fetch returns a stream of the item's bytes plus the total size when
	// known (-1 otherwise). The caller owns closing the stream.
	Fetch(ctx context.Context, itemID, quality string) (io.ReadCloser, int64, error)
}

// RangeFetcher is implemented by fetchers that can resume a partial
// download from a byte offset. Workers probe for it with a type assertion
// when a temp file already holds data.
type RangeFetcher interface {
	Fetcher
	// FetchRange is Fetch starting at offset. The returned size is the total
	// item size, not the remaining size.
	FetchRange(ctx context.Context, itemID, quality string, offset int64) (io.ReadCloser, int64, error)
}

// Resolver turns user input (a URL or search query) into concrete items.
type Resolver interface {
	// ResolveURL expands a provider link into its items (a track link yields
	// one item, an album or playlist link yields many).
	ResolveURL(ctx context.Context, link string) ([]Item, error)
	// Search returns the items matching a free-text query.
	Search(ctx context.Context, query string, limit int) ([]Item, error)
}

// Registry holds one Fetcher per source.
type Registry struct {
	fetchers map[Source]Fetcher
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{fetchers: make(map[Source]Fetcher)}
}

// Register installs the fetcher for a source, replacing any previous one.
func (r *Registry) Register(source Source, fetcher Fetcher) {
	r.fetchers[source] = fetcher
}

// Fetcher returns the fetcher for a source.
func (r *Registry) Fetcher(source Source) (Fetcher, error) {
	f, ok := r.fetchers[source]
	if !ok {
		return nil, fmt.Errorf("no fetcher registered for provider %q", source)
	}
	return f, nil
}
