package media

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-audio/wav"
	flac "github.com/go-flac/go-flac"
	"github.com/tcolgate/mp3"
)

// ErrDurationUnknown is returned when a duration cannot be derived from the stream.
var ErrDurationUnknown = errors.New("duration unknown")

// ProbeDuration reads r as audio of the given extension and returns its playing time.
// Callers treat the result as advisory.
func ProbeDuration(r io.ReadSeeker, ext string) (time.Duration, error) {
	switch ext {
	case "mp3":
		return mp3Duration(r)
	case "wav":
		return wavDuration(r)
	case "flac":
		return flacDuration(r)
	case "ogg":
		return oggDuration(r)
	default:
		return 0, fmt.Errorf("%w: extension %q", ErrDurationUnknown, ext)
	}
}

func mp3Duration(r io.Reader) (time.Duration, error) {
	d := mp3.NewDecoder(r)
	var (
		f       mp3.Frame
		skipped int
		total   time.Duration
		frames  int
	)
	for {
		if err := d.Decode(&f, &skipped); err != nil {
			if frames == 0 && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				return 0, fmt.Errorf("decode mp3: %w", err)
			}
			break
		}
		total += f.Duration()
		frames++
	}
	if frames == 0 {
		return 0, fmt.Errorf("%w: no mp3 frames", ErrDurationUnknown)
	}
	return total, nil
}

func wavDuration(r io.ReadSeeker) (time.Duration, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return 0, fmt.Errorf("%w: invalid wav", ErrDurationUnknown)
	}
	// The RIFF size also counts trailing metadata chunks; only the data chunk is audio.
	if err := d.FwdToPCM(); err != nil {
		return 0, fmt.Errorf("decode wav: %w", err)
	}
	byteRate := int64(d.SampleRate) * int64(d.NumChans) * int64(d.BitDepth) / 8
	if d.PCMSize <= 0 || byteRate <= 0 {
		return 0, fmt.Errorf("%w: wav data chunk empty", ErrDurationUnknown)
	}
	return samplesToDuration(int64(d.PCMSize), byteRate)
}

func flacDuration(r io.Reader) (time.Duration, error) {
	f, err := flac.ParseMetadata(r)
	if err != nil {
		return 0, fmt.Errorf("decode flac: %w", err)
	}
	info, err := f.GetStreamInfo()
	if err != nil {
		return 0, fmt.Errorf("decode flac stream info: %w", err)
	}
	if info.SampleRate <= 0 || info.SampleCount <= 0 {
		return 0, fmt.Errorf("%w: flac stream info incomplete", ErrDurationUnknown)
	}
	return samplesToDuration(info.SampleCount, int64(info.SampleRate))
}

const (
	oggCapture    = "OggS"
	oggPageHeader = 27
	oggTailWindow = 64 << 10
)

// oggDuration divides the granule position of the last page by the codec sample rate
// found in the identification header of the first packet.
func oggDuration(r io.ReadSeeker) (time.Duration, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return 0, fmt.Errorf("read ogg header: %w", err)
	}
	head = head[:n]
	rate, err := oggSampleRate(head)
	if err != nil {
		return 0, err
	}

	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	start := size - oggTailWindow
	if start < 0 {
		start = 0
	}
	if _, err := r.Seek(start, io.SeekStart); err != nil {
		return 0, err
	}
	tail, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("read ogg tail: %w", err)
	}
	idx := bytes.LastIndex(tail, []byte(oggCapture))
	for idx >= 0 && len(tail)-idx < oggPageHeader {
		idx = bytes.LastIndex(tail[:idx], []byte(oggCapture))
	}
	if idx < 0 {
		return 0, fmt.Errorf("%w: no ogg page", ErrDurationUnknown)
	}
	granule := int64(binary.LittleEndian.Uint64(tail[idx+6 : idx+14]))
	if granule <= 0 {
		return 0, fmt.Errorf("%w: ogg granule %d", ErrDurationUnknown, granule)
	}
	return samplesToDuration(granule, rate)
}

func oggSampleRate(head []byte) (int64, error) {
	if len(head) < oggPageHeader || string(head[:4]) != oggCapture {
		return 0, fmt.Errorf("%w: not an ogg stream", ErrDurationUnknown)
	}
	segments := int(head[26])
	body := oggPageHeader + segments
	if len(head) < body {
		return 0, fmt.Errorf("%w: truncated ogg page", ErrDurationUnknown)
	}
	packet := head[body:]
	switch {
	case bytes.HasPrefix(packet, []byte("\x01vorbis")) && len(packet) >= 16:
		return int64(binary.LittleEndian.Uint32(packet[12:16])), nil
	case bytes.HasPrefix(packet, []byte("OpusHead")):
		// Opus granule positions always count 48 kHz samples.
		return 48000, nil
	case bytes.HasPrefix(packet, []byte("\x7fFLAC")) && len(packet) >= 31:
		// 13-byte mapping header, 4-byte block header, then STREAMINFO with the rate at byte 10.
		return int64(binary.BigEndian.Uint32(packet[27:31]) >> 12), nil
	}
	return 0, fmt.Errorf("%w: unknown ogg codec", ErrDurationUnknown)
}

// MaxDuration bounds any derived playing time; larger values come from corrupt headers.
const MaxDuration = 24 * time.Hour

// samplesToDuration converts units at rate units per second without overflowing int64.
func samplesToDuration(samples, rate int64) (time.Duration, error) {
	if rate <= 0 || samples < 0 {
		return 0, fmt.Errorf("%w: %d units at rate %d", ErrDurationUnknown, samples, rate)
	}
	secs := samples / rate
	if secs > int64(MaxDuration/time.Second) {
		return 0, fmt.Errorf("%w: %d seconds exceeds limit", ErrDurationUnknown, secs)
	}
	frac := time.Duration(float64(samples%rate) / float64(rate) * float64(time.Second))
	return time.Duration(secs)*time.Second + frac, nil
}
