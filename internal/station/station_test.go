package station

import (
	"os"
	"path/filepath"
	"testing"

	"snowcast/internal/limits"
)

func writeFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestSingleFileLoopsForever(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "song.raw", 100)

	st, err := New(0, filepath.Join(dir, "song.raw"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// 100-byte file, 1024-byte packets: every packet wraps back to the
	// start of song.raw several times, so every packet announces song.raw;
	// the first one also starts on a boundary pending at construction.
	_, announce, err := st.ProducePacket()
	if err != nil {
		t.Fatalf("ProducePacket: %v", err)
	}
	if announce == nil || *announce != "song.raw" {
		t.Fatalf("announce = %v, want song.raw", announce)
	}
}

func TestDirectoryCyclesInSortedOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.raw", limits.PacketBytes)
	writeFile(t, dir, "a.raw", limits.PacketBytes)

	st, err := New(0, dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	queue := st.PeekQueue(4)
	want := []string{"a.raw", "b.raw", "a.raw", "b.raw"}
	for i, name := range want {
		if queue[i] != name {
			t.Fatalf("queue[%d] = %q, want %q", i, queue[i], name)
		}
	}
}

func TestProducePacketAdvancesAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.raw", 512)
	writeFile(t, dir, "b.raw", 512)

	st, err := New(0, dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// One packet of 1024 bytes should exactly consume both 512-byte
	// files and land back on a.raw for the next packet's first byte. Both
	// packets start a.raw and then b.raw, so the collapsed announce names
	// the final song entered: b.raw.
	_, announce, err := st.ProducePacket()
	if err != nil {
		t.Fatalf("ProducePacket: %v", err)
	}
	if announce == nil || *announce != "b.raw" {
		t.Fatalf("first announce = %v, want b.raw", announce)
	}

	_, announce, err = st.ProducePacket()
	if err != nil {
		t.Fatalf("ProducePacket: %v", err)
	}
	if announce == nil || *announce != "b.raw" {
		t.Fatalf("second announce = %v, want b.raw (cycled through a.raw)", announce)
	}
}

func TestPeekQueueIsPure(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "only.raw", 2048)

	st, err := New(0, filepath.Join(dir, "only.raw"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	before := st.PeekQueue(limits.SongQueueDepth)
	if _, _, err := st.ProducePacket(); err != nil {
		t.Fatalf("ProducePacket: %v", err)
	}
	after := st.PeekQueue(limits.SongQueueDepth)

	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("PeekQueue mutated the stream: before=%v after=%v", before, after)
		}
	}
}

func TestListenerSet(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "only.raw", 64)

	st, err := New(0, filepath.Join(dir, "only.raw"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	st.AddListener(1)
	st.AddListener(2)
	if n := st.ListenerCount(); n != 2 {
		t.Fatalf("ListenerCount = %d, want 2", n)
	}
	st.RemoveListener(1)
	if n := st.ListenerCount(); n != 1 {
		t.Fatalf("ListenerCount after remove = %d, want 1", n)
	}
}

func TestEmptyDirectoryErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := New(0, dir); err == nil {
		t.Fatal("expected error for empty directory, got nil")
	}
}
