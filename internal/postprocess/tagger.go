// Package postprocess finalizes downloaded media before it reaches the
// library: tagging, embedded artwork. Processors run on the temp file, so a
// failure here never leaves a half-tagged file at the destination path.
package postprocess

import (
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"

	"github.com/ripstream/ripstream/internal/config"
	apperrors "github.com/ripstream/ripstream/internal/errors"
	"github.com/ripstream/ripstream/internal/provider"
)

// Processor runs one finalization step on a downloaded temp file and returns
// the path the file lives at afterwards. Steps that transform the format
// (conversion) may move the file; steps that mutate in place (tagging) return
// the input path.
type Processor interface {
	Process(ctx context.Context, path string, item provider.Item) (string, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, path string, item provider.Item) (string, error)

// Process implements Processor.
func (f ProcessorFunc) Process(ctx context.Context, path string, item provider.Item) (string, error) {
	return f(ctx, path, item)
}

// Chain runs processors in order, threading the path, stopping at the first
// failure.
type Chain []Processor

// Process implements Processor.
func (c Chain) Process(ctx context.Context, path string, item provider.Item) (string, error) {
	for _, p := range c {
		next, err := p.Process(ctx, path, item)
		if err != nil {
			return path, err
		}
		path = next
	}
	return path, nil
}

// Tagger writes metadata into MP3 (ID3v2.4) and FLAC (Vorbis comment) files
// and optionally embeds cover art. Other formats pass through untouched.
type Tagger struct {
	artwork  config.ArtworkConfig
	fetchArt ArtworkFetcher
}

// NewTagger creates a tagger. fetchArt may be nil to disable artwork
// embedding regardless of config.
func NewTagger(artwork config.ArtworkConfig, fetchArt ArtworkFetcher) *Tagger {
	return &Tagger{artwork: artwork, fetchArt: fetchArt}
}

// Process implements Processor. Tagging mutates in place, so the returned
// path is always the input path.
func (t *Tagger) Process(ctx context.Context, path string, item provider.Item) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".mp3", ".flac":
	default:
		// Videos and unknown formats are stored as fetched.
		return path, nil
	}

	var artData []byte
	var artMIME string
	if t.artwork.Embed && t.fetchArt != nil && item.ArtworkURL != "" {
		var err error
		artData, artMIME, err = t.fetchArt(ctx, item.ArtworkURL, t.artwork.MaxEdgePx, t.artwork.JPEGQuality)
		if err != nil {
			// Missing artwork should not fail the download.
			artData, artMIME = nil, ""
		}
	}

	var err error
	switch ext {
	case ".mp3":
		err = t.tagMP3(path, item, artData, artMIME)
	case ".flac":
		err = t.tagFLAC(path, item, artData, artMIME)
	}
	if err != nil {
		return path, apperrors.NewPostprocessError(fmt.Sprintf("tag %s", filepath.Base(path)), err)
	}
	return path, nil
}

func (t *Tagger) tagMP3(path string, item provider.Item, artData []byte, artMIME string) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("open mp3: %w", err)
	}
	defer tag.Close()

	tag.SetVersion(4)
	if item.Title != "" {
		tag.SetTitle(item.Title)
	}
	if item.Artist != "" {
		tag.SetArtist(item.Artist)
	}
	if item.Album != "" {
		tag.SetAlbum(item.Album)
	}

	if len(artData) > 0 {
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    artMIME,
			PictureType: id3v2.PTFrontCover,
			Description: "Front Cover",
			Picture:     artData,
		})
	}

	if err := tag.Save(); err != nil {
		return fmt.Errorf("save mp3 tags: %w", err)
	}
	return nil
}

func (t *Tagger) tagFLAC(path string, item provider.Item, artData []byte, artMIME string) error {
	f, err := flac.ParseFile(path)
	if err != nil {
		return fmt.Errorf("parse flac: %w", err)
	}

	var cmtBlock *flac.MetaDataBlock
	for _, block := range f.Meta {
		if block.Type == flac.VorbisComment {
			cmtBlock = block
			break
		}
	}
	if cmtBlock == nil {
		cmtBlock = &flac.MetaDataBlock{Type: flac.VorbisComment}
		f.Meta = append(f.Meta, cmtBlock)
	}

	cmt, err := flacvorbis.ParseFromMetaDataBlock(*cmtBlock)
	if err != nil {
		cmt = flacvorbis.New()
	}
	if item.Title != "" {
		cmt.Add("TITLE", item.Title)
	}
	if item.Artist != "" {
		cmt.Add("ARTIST", item.Artist)
	}
	if item.Album != "" {
		cmt.Add("ALBUM", item.Album)
	}
	res := cmt.Marshal()
	cmtBlock.Data = res.Data

	if len(artData) > 0 {
		hasPicture := false
		for _, block := range f.Meta {
			if block.Type == flac.Picture {
				hasPicture = true
				break
			}
		}
		if !hasPicture {
			f.Meta = append(f.Meta, &flac.MetaDataBlock{
				Type: flac.Picture,
				Data: flacPictureBlock(artData, artMIME),
			})
		}
	}

	if err := f.Save(path); err != nil {
		return fmt.Errorf("save flac: %w", err)
	}
	return nil
}

// flacPictureBlock builds a METADATA_BLOCK_PICTURE payload: type 3 (front
// cover), zeroed dimensions, then the raw image.
func flacPictureBlock(imageData []byte, mimeType string) []byte {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	description := "Front Cover"

	size := 4 + 4 + len(mimeType) + 4 + len(description) + 4*4 + 4 + len(imageData)
	data := make([]byte, size)
	pos := 0

	binary.BigEndian.PutUint32(data[pos:], 3)
	pos += 4
	binary.BigEndian.PutUint32(data[pos:], uint32(len(mimeType)))
	pos += 4
	copy(data[pos:], mimeType)
	pos += len(mimeType)
	binary.BigEndian.PutUint32(data[pos:], uint32(len(description)))
	pos += 4
	copy(data[pos:], description)
	pos += len(description)
	// Width, height, color depth, colors: left to the decoder.
	pos += 4 * 4
	binary.BigEndian.PutUint32(data[pos:], uint32(len(imageData)))
	pos += 4
	copy(data[pos:], imageData)

	return data
}
