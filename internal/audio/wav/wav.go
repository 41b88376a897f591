// Package wav reads and writes 16-bit PCM RIFF/WAVE files, the chunk format
// written by the capture devices.
package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const (
	headerSize    = 44
	pcmFormat     = 1
	bitsPerSample = 16
	bytesPerSamp  = bitsPerSample / 8
)

// ErrNotWAV is returned for input that is not a PCM RIFF/WAVE stream.
var ErrNotWAV = errors.New("not a PCM wav stream")

// Format describes the PCM layout.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond is the PCM byte rate for f.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * bytesPerSamp
}

// Duration converts a PCM byte count to playing time.
func (f Format) Duration(pcmBytes int64) time.Duration {
	bps := int64(f.BytesPerSecond())
	if bps == 0 {
		return 0
	}
	return time.Duration(pcmBytes * int64(time.Second) / bps)
}

// Writer streams PCM samples after a placeholder header and patches the
// RIFF and data sizes on Close.
type Writer struct {
	w         io.WriteSeeker
	format    Format
	dataBytes int64
	closed    bool
}

// NewWriter writes a placeholder header to w.
func NewWriter(w io.WriteSeeker, f Format) (*Writer, error) {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return nil, fmt.Errorf("wav: invalid format %+v", f)
	}
	wr := &Writer{w: w, format: f}
	if _, err := w.Write(header(f, 0)); err != nil {
		return nil, fmt.Errorf("wav: write header: %w", err)
	}
	return wr, nil
}

// Write appends raw little-endian PCM bytes.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errors.New("wav: write after close")
	}
	n, err := w.w.Write(p)
	w.dataBytes += int64(n)
	return n, err
}

// WriteSamples appends interleaved int16 samples.
func (w *Writer) WriteSamples(samples []int16) error {
	buf := make([]byte, len(samples)*bytesPerSamp)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	_, err := w.Write(buf)
	return err
}

// Duration is the playing time written so far.
func (w *Writer) Duration() time.Duration {
	return w.format.Duration(w.dataBytes)
}

// Close patches the header sizes. It does not close the underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if _, err := w.w.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("wav: seek header: %w", err)
	}
	if _, err := w.w.Write(header(w.format, w.dataBytes)); err != nil {
		return fmt.Errorf("wav: patch header: %w", err)
	}
	if _, err := w.w.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("wav: seek end: %w", err)
	}
	return nil
}

func header(f Format, dataBytes int64) []byte {
	var buf bytes.Buffer
	buf.Grow(headerSize)

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataBytes))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(pcmFormat))
	binary.Write(&buf, binary.LittleEndian, uint16(f.Channels))
	binary.Write(&buf, binary.LittleEndian, uint32(f.SampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(f.BytesPerSecond()))
	binary.Write(&buf, binary.LittleEndian, uint16(f.Channels*bytesPerSamp))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataBytes))
	return buf.Bytes()
}

// Info describes a parsed WAV stream.
type Info struct {
	Format
	DataOffset int64
	DataBytes  int64
}

// Duration is the playing time of the data chunk.
func (i Info) Duration() time.Duration {
	return i.Format.Duration(i.DataBytes)
}

// ReadHeader parses chunks up to the start of the data chunk, skipping
// anything it does not understand (LIST, fact, ...).
func ReadHeader(r io.Reader) (Info, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrNotWAV, err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Info{}, ErrNotWAV
	}

	var info Info
	offset := int64(12)
	haveFmt := false
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return Info{}, fmt.Errorf("%w: missing data chunk", ErrNotWAV)
		}
		offset += 8
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil || size < 16 {
				return Info{}, fmt.Errorf("%w: short fmt chunk", ErrNotWAV)
			}
			if binary.LittleEndian.Uint16(body[0:2]) != pcmFormat ||
				binary.LittleEndian.Uint16(body[14:16]) != bitsPerSample {
				return Info{}, fmt.Errorf("%w: only 16-bit PCM is supported", ErrNotWAV)
			}
			info.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			haveFmt = true
			offset += size
		case "data":
			if !haveFmt {
				return Info{}, fmt.Errorf("%w: data before fmt", ErrNotWAV)
			}
			info.DataOffset = offset
			info.DataBytes = size
			return info, nil
		default:
			// Chunks are word aligned.
			skip := size + size%2
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return Info{}, fmt.Errorf("%w: truncated %q chunk", ErrNotWAV, id)
			}
			offset += skip
		}
	}
}

// Probe reads the header of the file at path. A header whose data size was
// never patched (writer crashed) is repaired from the file size.
func Probe(path string) (Info, error) {
	f, err := os.Open(path) // #nosec G304 -- chunk paths come from the store
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	info, err := ReadHeader(f)
	if err != nil {
		return Info{}, err
	}
	st, err := f.Stat()
	if err != nil {
		return Info{}, err
	}
	if remaining := st.Size() - info.DataOffset; info.DataBytes == 0 || info.DataBytes > remaining {
		info.DataBytes = remaining
	}
	return info, nil
}

// ReadPCM loads the whole file as interleaved int16 samples.
func ReadPCM(path string) (Info, []int16, error) {
	info, err := Probe(path)
	if err != nil {
		return Info{}, nil, err
	}
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		return Info{}, nil, err
	}
	defer f.Close()

	if _, err := f.Seek(info.DataOffset, io.SeekStart); err != nil {
		return Info{}, nil, err
	}
	raw := make([]byte, info.DataBytes-info.DataBytes%bytesPerSamp)
	if _, err := io.ReadFull(f, raw); err != nil {
		return Info{}, nil, fmt.Errorf("wav: read pcm: %w", err)
	}
	samples := make([]int16, len(raw)/bytesPerSamp)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return info, samples, nil
}
