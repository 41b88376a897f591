package wav

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTestFile(t *testing.T, f Format, samples []int16) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.wav")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer file.Close()

	w, err := NewWriter(file, f)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.WriteSamples(samples); err != nil {
		t.Fatalf("WriteSamples: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func TestWriterPatchesHeader(t *testing.T) {
	f := Format{SampleRate: 8000, Channels: 1}
	samples := make([]int16, 8000) // one second
	for i := range samples {
		samples[i] = int16(i % 100)
	}
	path := writeTestFile(t, f, samples)

	st, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if st.Size() != headerSize+16000 {
		t.Errorf("size = %d, want %d", st.Size(), headerSize+16000)
	}

	info, err := Probe(path)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if info.SampleRate != 8000 || info.Channels != 1 {
		t.Errorf("format = %+v", info.Format)
	}
	if info.DataBytes != 16000 {
		t.Errorf("DataBytes = %d, want 16000", info.DataBytes)
	}
	if info.Duration() != time.Second {
		t.Errorf("Duration = %s, want 1s", info.Duration())
	}
}

func TestReadPCMRoundTrip(t *testing.T) {
	f := Format{SampleRate: 16000, Channels: 2}
	want := []int16{0, 1, -1, 32767, -32768, 1234}
	path := writeTestFile(t, f, want)

	info, got, err := ReadPCM(path)
	if err != nil {
		t.Fatalf("ReadPCM: %v", err)
	}
	if info.Channels != 2 {
		t.Errorf("Channels = %d", info.Channels)
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestProbeRepairsUnpatchedHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crashed.wav")
	data := append(header(Format{SampleRate: 8000, Channels: 1}, 0), make([]byte, 800)...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	info, err := Probe(path)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if info.DataBytes != 800 {
		t.Errorf("DataBytes = %d, want 800", info.DataBytes)
	}
	if info.Duration() != 50*time.Millisecond {
		t.Errorf("Duration = %s, want 50ms", info.Duration())
	}
}

func TestReadHeaderSkipsUnknownChunks(t *testing.T) {
	full := header(Format{SampleRate: 8000, Channels: 1}, 2)
	// Splice a LIST chunk between fmt and data.
	var buf bytes.Buffer
	buf.Write(full[:36])
	buf.WriteString("LIST")
	buf.Write([]byte{3, 0, 0, 0, 'a', 'b', 'c', 0})
	buf.Write(full[36:])
	buf.Write([]byte{1, 0})

	info, err := ReadHeader(&buf)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if info.DataOffset != 36+8+4+8 {
		t.Errorf("DataOffset = %d", info.DataOffset)
	}
	if info.DataBytes != 2 {
		t.Errorf("DataBytes = %d", info.DataBytes)
	}
}

func TestReadHeaderRejectsGarbage(t *testing.T) {
	_, err := ReadHeader(bytes.NewReader([]byte("not a wav file at all")))
	if !errors.Is(err, ErrNotWAV) {
		t.Errorf("err = %v, want ErrNotWAV", err)
	}
}
