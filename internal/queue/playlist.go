// Package queue implements the on-disk Playlist/MutablePlaylist pair and
// the in-memory TrackQueue, grounded directly on the reference firmware's
// playlist.cpp: a line-oriented UTF-8 file with a CBOR-encoded sidecar
// offset cache sampled every sampleSize entries.
package queue

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

const defaultSampleSize = 50

// mutableAbortThresholdBytes is the size above which MutablePlaylist.Open
// aborts a missing/invalid cache and clears the file outright rather than
// performing a slow linear scan, per §4.5.
const mutableAbortThresholdBytes = 50_000

// Playlist is a read-only view over a line-oriented playlist file, with
// an offset cache that makes skipTo/next O(1) after the first open.
type Playlist struct {
	mu sync.Mutex

	path       string
	f          *os.File
	totalSize  int64
	sampleSize int

	pos          int
	value        string
	offsetCache  []int64 // byte offset of entry 0, sampleSize, 2*sampleSize, ...
	totalEntries int

	fileOpen  bool
	fileError bool
}

// New constructs a read-only Playlist bound to path. Callers must call
// Open before use.
func New(path string) *Playlist {
	return &Playlist{path: path, sampleSize: defaultSampleSize}
}

func (p *Playlist) cachePath() string { return p.path + ".cache" }

// Open opens the file, returning true if it is readable. If a valid
// sidecar cache exists (stored file size matches the actual size), offsets
// and the total count are loaded from it and the playlist seeks to entry
// 0 via the cache; otherwise a full linear scan builds the cache as a
// side effect.
func (p *Playlist) Open() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.openLocked()
}

func (p *Playlist) openLocked() bool {
	p.fileError = false
	f, err := os.Open(p.path)
	if err != nil {
		p.fileOpen = false
		return false
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		p.fileOpen = false
		return false
	}
	p.f = f
	p.fileOpen = true
	p.totalSize = info.Size()
	p.pos = -1

	if p.deserialiseCacheLocked() {
		return p.skipToLocked(0) == nil
	}
	p.countItemsLocked()
	return p.skipToWithoutCacheLocked(0) == nil
}

// deserialiseCacheLocked loads the CBOR sidecar cache, validating that its
// stored file size matches the actual file size. Returns false (cache
// invalid or absent) without mutating offsetCache/totalEntries.
func (p *Playlist) deserialiseCacheLocked() bool {
	raw, err := os.ReadFile(p.cachePath())
	if err != nil {
		return false
	}
	var entries []int64
	if err := cbor.Unmarshal(raw, &entries); err != nil || len(entries) < 2 {
		return false
	}
	if entries[0] != p.totalSize {
		return false
	}
	p.totalEntries = int(entries[1])
	p.offsetCache = append([]int64{}, entries[2:]...)
	return true
}

// serialiseCacheLocked writes the CBOR array [file_size, total_entries,
// ...offset_cache] to the sidecar cache file.
func (p *Playlist) serialiseCacheLocked() error {
	entries := make([]int64, 0, len(p.offsetCache)+2)
	entries = append(entries, p.totalSize, int64(p.totalEntries))
	entries = append(entries, p.offsetCache...)
	raw, err := cbor.Marshal(entries)
	if err != nil {
		return err
	}
	return os.WriteFile(p.cachePath(), raw, 0o644)
}

// countItemsLocked performs a full linear scan building the offset cache
// every sampleSize entries, used when no valid cache exists.
func (p *Playlist) countItemsLocked() {
	p.offsetCache = p.offsetCache[:0]
	p.totalEntries = 0
	if _, err := p.f.Seek(0, 0); err != nil {
		p.fileError = true
		return
	}
	r := bufio.NewReader(p.f)
	var offset int64
	for {
		if p.totalEntries%p.sampleSize == 0 {
			p.offsetCache = append(p.offsetCache, offset)
		}
		line, err := r.ReadString('\n')
		consumed := int64(len(line))
		offset += consumed
		trimmed := strings.TrimSuffix(line, "\n")
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			p.totalEntries++
		}
		if err != nil {
			break
		}
	}
	p.serialiseCacheLocked()
}

// size reports the total number of non-comment entries.
func (p *Playlist) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalEntries
}

// CurrentPosition reports the current 0-based index.
func (p *Playlist) CurrentPosition() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos
}

// Value returns the current URI, or "" at EOF.
func (p *Playlist) Value() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}

// AtEnd reports whether the cursor is past the last entry.
func (p *Playlist) AtEnd() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos >= p.totalEntries
}

// Next advances by one entry.
func (p *Playlist) Next() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fileError {
		return nil
	}
	return p.advanceByLocked(1)
}

// Prev steps back one entry via a linear rescan from the last checkpoint,
// matching the original's documented asymmetry (prev is always a scan;
// next/skipTo prefer the cache).
func (p *Playlist) Prev() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fileError || p.pos == 0 {
		return nil
	}
	return p.skipToWithoutCacheLocked(p.pos - 1)
}

// SkipTo seeks to position using the offset cache when possible.
func (p *Playlist) SkipTo(position int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fileError {
		return nil
	}
	return p.skipToLocked(position)
}

func (p *Playlist) skipToLocked(position int) error {
	quotient := position / p.sampleSize
	remainder := position % p.sampleSize
	if quotient < len(p.offsetCache) {
		if _, err := p.f.Seek(p.offsetCache[quotient], 0); err != nil {
			p.fileError = true
			return err
		}
		p.pos = quotient*p.sampleSize - 1
		return p.advanceByLocked(remainder + 1)
	}
	return p.skipToWithoutCacheLocked(position)
}

// skipToWithoutCacheLocked advances forward or rewinds+advances depending
// on direction relative to the current position.
func (p *Playlist) skipToWithoutCacheLocked(position int) error {
	if position < p.pos {
		if _, err := p.f.Seek(0, 0); err != nil {
			p.fileError = true
			return err
		}
		p.pos = -1
	}
	return p.advanceByLocked(position - p.pos)
}

// advanceByLocked reads amt items forward from the file's current cursor,
// leaving value set to the last one read (or "" at EOF) and pos advanced
// by the number of items successfully read.
func (p *Playlist) advanceByLocked(amt int) error {
	r := bufio.NewReader(p.f)
	item := ""
	for i := 0; i < amt; i++ {
		next, err := p.nextItemLocked(r)
		if err != nil {
			p.fileError = true
			return err
		}
		item = next
		if item == "" {
			break
		}
		p.pos++
	}
	p.value = item
	return nil
}

// nextItemLocked reads one line, skipping #-comments, and strips the
// trailing newline.
func (p *Playlist) nextItemLocked(r *bufio.Reader) (string, error) {
	for {
		line, err := r.ReadString('\n')
		trimmed := strings.TrimSuffix(line, "\n")
		if trimmed == "" {
			if err != nil {
				return "", nil // EOF with nothing pending
			}
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			if err != nil {
				return "", nil
			}
			continue
		}
		return trimmed, nil
	}
}

// FileError reports whether the instance has entered the no-op
// file_error state; callers must Open again to recover.
func (p *Playlist) FileError() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fileError
}

// Close releases the underlying file handle.
func (p *Playlist) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.f == nil {
		return nil
	}
	err := p.f.Close()
	p.f = nil
	p.fileOpen = false
	return err
}

// MutablePlaylist additionally supports append and clear.
type MutablePlaylist struct {
	Playlist
}

// NewMutable constructs an append-only playlist bound to path.
func NewMutable(path string) *MutablePlaylist {
	return &MutablePlaylist{Playlist: Playlist{path: path, sampleSize: defaultSampleSize}}
}

// Open behaves like Playlist.Open, except that if the cache is missing or
// invalid and the file exceeds mutableAbortThresholdBytes, it clears the
// file outright instead of performing a slow linear scan (§4.5). The file
// is opened read-write, and a missing file is created empty via clear.
func (mp *MutablePlaylist) Open() bool {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	f, err := os.OpenFile(mp.path, os.O_RDWR, 0)
	if err != nil {
		mp.fileOpen = false
		mp.fileError = false
		if !os.IsNotExist(err) {
			return false
		}
		mp.f = nil
		mp.fileOpen = mp.clearLocked() == nil
		return mp.fileOpen
	}
	info, statErr := f.Stat()
	if statErr != nil {
		f.Close()
		return false
	}
	mp.f = f
	mp.fileOpen = true
	mp.totalSize = info.Size()
	mp.fileError = false
	mp.pos = -1

	if mp.deserialiseCacheLocked() {
		return mp.skipToLocked(0) == nil
	}
	if info.Size() > mutableAbortThresholdBytes {
		return mp.clearLocked() == nil
	}
	mp.countItemsLocked()
	return mp.skipToWithoutCacheLocked(0) == nil
}

// clearLocked truncates the file, resets all state, and invalidates the
// cache. Also recovers from a prior file_error by reopening.
func (mp *MutablePlaylist) clearLocked() error {
	if mp.f == nil {
		f, err := os.OpenFile(mp.path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			mp.fileError = true
			return err
		}
		mp.f = f
	}
	if err := mp.f.Truncate(0); err != nil {
		mp.fileError = true
		return err
	}
	if _, err := mp.f.Seek(0, 0); err != nil {
		mp.fileError = true
		return err
	}
	mp.totalSize = 0
	mp.totalEntries = 0
	mp.pos = 0
	mp.value = ""
	mp.offsetCache = nil
	mp.fileError = false
	os.Remove(mp.cachePath())
	return nil
}

// Clear truncates the file and resets all state.
func (mp *MutablePlaylist) Clear() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.clearLocked()
}

// Append seeks to EOF, writes "uri\n", flushes, and restores the original
// file position. Updates the offset cache if the new entry lands on a
// stride boundary.
func (mp *MutablePlaylist) Append(uri string) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.fileError {
		return fmt.Errorf("queue: playlist in file_error state")
	}
	if mp.f == nil {
		if err := mp.clearLocked(); err != nil {
			return err
		}
	}

	savedPos, err := mp.f.Seek(0, 1)
	if err != nil {
		mp.fileError = true
		return err
	}

	endPos, err := mp.f.Seek(0, 2)
	if err != nil {
		mp.fileError = true
		return err
	}
	if mp.totalEntries%mp.sampleSize == 0 {
		mp.offsetCache = append(mp.offsetCache, endPos)
	}

	if _, err := mp.f.WriteString(uri + "\n"); err != nil {
		mp.fileError = true
		return err
	}
	if err := mp.f.Sync(); err != nil {
		mp.fileError = true
		return err
	}
	mp.totalEntries++
	if info, statErr := mp.f.Stat(); statErr == nil {
		mp.totalSize = info.Size()
	}

	if _, err := mp.f.Seek(savedPos, 0); err != nil {
		mp.fileError = true
		return err
	}
	return mp.serialiseCacheLocked()
}
