package pipeline

import (
	"errors"
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// FileSource is the producer side of the pipeline: it opens a path (with
// an optional seek offset) and exposes a ReadSeeker for the Decoder's
// codec probe. Reopening cancels any in-flight read by closing the
// previous file, matching the "hard-cut cancels in-flight decoder work"
// rule in §5.
type FileSource struct {
	f    *os.File
	path string
}

// NewFileSource constructs an empty file source.
func NewFileSource() *FileSource { return &FileSource{} }

// Open closes any previously open file and opens path, positioned at its
// beginning. It takes no seek offset, and FileSource has no seek method.
func (fs *FileSource) Open(path string) error {
	fs.Close()
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	fs.f = f
	fs.path = path
	return nil
}

// Reader returns the open file as an io.ReadSeeker for codec probing.
func (fs *FileSource) Reader() io.ReadSeeker { return fs.f }

// Path returns the currently open path, or "" if none.
func (fs *FileSource) Path() string { return fs.path }

// Close releases the current file, if any.
func (fs *FileSource) Close() error {
	if fs.f == nil {
		return nil
	}
	err := fs.f.Close()
	fs.f = nil
	fs.path = ""
	return err
}

// Decoder is the long-running task described by §4.4.2: for each file
// opened by the source, probe codec, instantiate the codec-specific
// decoder, pull compressed bytes, push PCM frames into the Sample
// Converter with a format tag; on EOF emit StreamEnded; on decoder error,
// log and treat as EOF.
type Decoder struct {
	logger    *log.Logger
	source    *FileSource
	converter *SampleConverter

	onStreamEnded func()

	openRequests chan string
	quit         chan struct{}
}

// NewDecoder wires a Decoder to its source and converter.
func NewDecoder(source *FileSource, converter *SampleConverter, onStreamEnded func(), logger *log.Logger) *Decoder {
	return &Decoder{
		logger:        logger.With("component", "decoder"),
		source:        source,
		converter:     converter,
		onStreamEnded: onStreamEnded,
		openRequests:  make(chan string, 1),
		quit:          make(chan struct{}),
	}
}

// RequestOpen asks the decoder task to open a new path. Non-blocking;
// only the most recent request is honoured if the decoder is busy,
// matching "reconfiguring to a new file" superseding in-flight work.
func (d *Decoder) RequestOpen(path string) {
	select {
	case d.openRequests <- path:
	default:
		select {
		case <-d.openRequests:
		default:
		}
		d.openRequests <- path
	}
}

// Stop terminates the decoder's run loop.
func (d *Decoder) Stop() { close(d.quit) }

// Run is the decoder's main loop; it must execute on its own goroutine.
func (d *Decoder) Run() {
	for {
		select {
		case <-d.quit:
			return
		case path := <-d.openRequests:
			d.decodeFile(path)
		}
	}
}

func (d *Decoder) decodeFile(path string) {
	if err := d.source.Open(path); err != nil {
		d.logger.Error("open failed", "path", path, "err", err)
		d.signalEnded()
		return
	}
	defer d.source.Close()

	codec, err := ProbeCodec(d.source.Reader())
	if err != nil {
		d.logger.Error("probe failed", "path", path, "err", err)
		d.signalEnded()
		return
	}
	defer codec.Close()

	const batchSamples = 4096
	buf := make([]int32, batchSamples)
	for {
		select {
		case <-d.quit:
			return
		case newPath := <-d.openRequests:
			// a new open request supersedes the current file; re-enqueue
			// and let the outer Run loop pick it up.
			go func() { d.openRequests <- newPath }()
			return
		default:
		}

		n, rerr := codec.ReadFrame(buf)
		if n > 0 {
			d.converter.PostCommand(ConverterCommand{Format: codec.Format(), SamplesAvailable: n})
			batch := make([]int32, n)
			copy(batch, buf[:n])
			d.converter.PostSamples(batch)
		}
		if rerr != nil {
			if !errors.Is(rerr, io.EOF) {
				d.logger.Error("decode error, treating as EOF", "path", path, "err", rerr)
			}
			d.converter.PostCommand(ConverterCommand{Format: codec.Format(), SamplesAvailable: 0, EndOfStream: true})
			d.signalEnded()
			return
		}
	}
}

func (d *Decoder) signalEnded() {
	if d.onStreamEnded != nil {
		d.onStreamEnded()
	}
}
