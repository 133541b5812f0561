// Package tags implements TrackInfo and the ID3v2-backed tag parser
// boundary, grounded on the olivier-w-climp example's use of
// github.com/bogem/id3v2/v2.
package tags

import (
	"fmt"

	"github.com/bogem/id3v2/v2"
)

// TagKey enumerates the small set of tags Tangara surfaces in its UI.
type TagKey int

const (
	TagTitle TagKey = iota
	TagArtist
	TagAlbum
	TagTrackNumber
	TagGenre
)

// TrackInfo is produced by the tag parser when a file is opened, passed
// inside StreamStarted events, and cached on the Audio FSM as
// sCurrentTrack/sNextTrack, per §3.
type TrackInfo struct {
	URI            string
	Tags           map[TagKey]string
	DurationS      float64
	Bitrate        int
	SampleRate     int
	Channels       int
	BitsPerSample  int
	StartOffsetS   *float64
}

// Parser extracts TrackInfo from a file path using id3v2.
type Parser struct{}

// NewParser constructs a tag parser.
func NewParser() *Parser { return &Parser{} }

// Parse opens path and extracts whatever ID3v2 tags are present. Absence
// of tags is not an error: TrackInfo.Tags is simply left sparse, matching
// the original firmware's tolerant tag-parser boundary.
func (p *Parser) Parse(path string) (TrackInfo, error) {
	info := TrackInfo{URI: path, Tags: map[TagKey]string{}}

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return info, fmt.Errorf("tags: open %s: %w", path, err)
	}
	defer tag.Close()

	if v := tag.Title(); v != "" {
		info.Tags[TagTitle] = v
	}
	if v := tag.Artist(); v != "" {
		info.Tags[TagArtist] = v
	}
	if v := tag.Album(); v != "" {
		info.Tags[TagAlbum] = v
	}
	if v := tag.GetTextFrame("TRCK").Text; v != "" {
		info.Tags[TagTrackNumber] = v
	}
	if v := tag.Genre(); v != "" {
		info.Tags[TagGenre] = v
	}
	return info, nil
}

// TTSProvider is a stub boundary for the text-to-speech accessibility
// feature named in the ServiceLocator; no TTS engine is wired in this
// port (out of scope for the core pipeline), matching the "interface
// only, stub impl" note in SPEC_FULL.md's ServiceLocator expansion.
type TTSProvider interface {
	Speak(text string) error
}

// NoopTTS implements TTSProvider by discarding all input.
type NoopTTS struct{}

func (NoopTTS) Speak(string) error { return nil }
