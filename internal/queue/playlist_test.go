package queue

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestPlaylist(t *testing.T, lines []string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "queue.m3u")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	for _, l := range lines {
		if _, err := f.WriteString(l + "\n"); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func TestPlaylistOpenReportsSizeAndOrder(t *testing.T) {
	path := writeTestPlaylist(t, []string{"a.mp3", "# a comment", "b.mp3", "c.mp3"})
	p := New(path)
	if !p.Open() {
		t.Fatal("expected open to succeed")
	}
	if p.Size() != 3 {
		t.Fatalf("expected 3 entries, got %d", p.Size())
	}
	var got []string
	for !p.AtEnd() {
		got = append(got, p.Value())
		if err := p.Next(); err != nil {
			t.Fatal(err)
		}
	}
	want := []string{"a.mp3", "b.mp3", "c.mp3"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestPlaylistCacheInvalidatedByTruncation(t *testing.T) {
	path := writeTestPlaylist(t, []string{"a.mp3", "b.mp3", "c.mp3"})
	p := New(path)
	if !p.Open() {
		t.Fatal("expected open to succeed")
	}
	p.Close()

	if err := os.Truncate(path, 7); err != nil {
		t.Fatal(err)
	}

	p2 := New(path)
	if !p2.Open() {
		t.Fatal("expected reopen after truncation to succeed")
	}
	if p2.Size() == 3 {
		t.Fatal("expected cache to be invalidated after truncation")
	}
}

func TestMutablePlaylistAppendAndReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queue.m3u")

	mp := NewMutable(path)
	if !mp.Open() {
		t.Fatal("expected open (creating via clear) to succeed")
	}
	for _, uri := range []string{"x.flac", "y.flac"} {
		if err := mp.Append(uri); err != nil {
			t.Fatalf("append %q: %v", uri, err)
		}
	}
	if mp.Size() != 2 {
		t.Fatalf("expected 2 entries after append, got %d", mp.Size())
	}

	mp2 := NewMutable(path)
	if !mp2.Open() {
		t.Fatal("expected reopen to succeed")
	}
	if mp2.Size() != 2 {
		t.Fatalf("expected reopened size 2, got %d", mp2.Size())
	}
}

func TestMutablePlaylistClear(t *testing.T) {
	path := writeTestPlaylist(t, []string{"a.mp3"})
	mp := NewMutable(path)
	if !mp.Open() {
		t.Fatal("expected open to succeed")
	}
	if err := mp.Clear(); err != nil {
		t.Fatal(err)
	}
	if mp.Size() != 0 {
		t.Fatalf("expected size 0 after clear, got %d", mp.Size())
	}
}

func TestMutablePlaylistAbortsLargeFileWithoutCache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.m3u")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	line := "track-with-a-reasonably-long-name-to-pad-bytes.mp3\n"
	for i := 0; i < (mutableAbortThresholdBytes/len(line))+10; i++ {
		f.WriteString(line)
	}
	f.Close()

	mp := NewMutable(path)
	if !mp.Open() {
		t.Fatal("expected open to succeed (via abort-and-clear)")
	}
	if mp.Size() != 0 {
		t.Fatalf("expected abort-and-clear to reset size to 0, got %d", mp.Size())
	}
}
