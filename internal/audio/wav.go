package audio

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Canonical capture format used everywhere in the pipeline.
const (
	SampleRate     = 16000
	Channels       = 1
	BitsPerSample  = 16
	BytesPerSample = BitsPerSample / 8
	HeaderSize     = 44

	// unknownSize is written by streaming encoders that cannot seek back.
	unknownSize = 0xFFFFFFFF
	formatPCM   = 1
)

// WAVHeader is the canonical 44-byte RIFF/WAVE header for PCM audio.
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // 36 + data size
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// NewWAVHeader returns a canonical mono 16 kHz 16-bit header for dataSize bytes.
func NewWAVHeader(dataSize int) WAVHeader {
	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + dataSize),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   formatPCM,
		NumChannels:   Channels,
		SampleRate:    SampleRate,
		ByteRate:      SampleRate * Channels * BytesPerSample,
		BlockAlign:    Channels * BytesPerSample,
		BitsPerSample: BitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(dataSize),
	}
}

// Bytes encodes the header in little-endian order.
func (h WAVHeader) Bytes() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize))
	binary.Write(buf, binary.LittleEndian, h)
	return buf.Bytes()
}

// WrapPCM prepends a canonical header sized to pcm.
func WrapPCM(pcm []byte) []byte {
	out := make([]byte, 0, HeaderSize+len(pcm))
	out = append(out, NewWAVHeader(len(pcm)).Bytes()...)
	return append(out, pcm...)
}

// wavLayout describes what parseWAV found in a RIFF container.
type wavLayout struct {
	riff        bool
	canonical   bool // fmt at 12, data at 36, mono 16 kHz 16-bit PCM
	audioFormat uint16
	channels    int
	sampleRate  int
	bits        int
	dataOffset  int
	dataSize    uint32 // as declared
	hasData     bool
}

func parseWAV(buf []byte) wavLayout {
	var l wavLayout
	if len(buf) < 12 || string(buf[0:4]) != "RIFF" || string(buf[8:12]) != "WAVE" {
		return l
	}
	l.riff = true

	fmtAt := -1
	off := 12
	for off+8 <= len(buf) {
		id := string(buf[off : off+4])
		size := binary.LittleEndian.Uint32(buf[off+4 : off+8])
		body := off + 8

		switch id {
		case "fmt ":
			if body+16 <= len(buf) {
				fmtAt = off
				l.audioFormat = binary.LittleEndian.Uint16(buf[body:])
				l.channels = int(binary.LittleEndian.Uint16(buf[body+2:]))
				l.sampleRate = int(binary.LittleEndian.Uint32(buf[body+4:]))
				l.bits = int(binary.LittleEndian.Uint16(buf[body+14:]))
			}
		case "data":
			l.hasData = true
			l.dataOffset = body
			l.dataSize = size
			l.canonical = fmtAt == 12 && off == 36 &&
				binary.LittleEndian.Uint32(buf[16:20]) == 16 &&
				l.audioFormat == formatPCM && l.channels == Channels &&
				l.sampleRate == SampleRate && l.bits == BitsPerSample
			return l
		}

		next := int64(body) + int64(size) + int64(size&1)
		if next > int64(len(buf)) {
			break
		}
		off = int(next)
	}
	return l
}

// payload returns the data chunk bytes, clamped to what is actually present.
// A zero or sentinel size, as written by recorders streaming to a pipe, means
// everything after the header.
func (l wavLayout) payload(buf []byte) []byte {
	avail := len(buf) - l.dataOffset
	size := int64(l.dataSize)
	if l.dataSize == 0 || l.dataSize == unknownSize || size > int64(avail) {
		size = int64(avail)
	}
	return buf[l.dataOffset : l.dataOffset+int(size)]
}

// EnsureWAVHeader returns buf framed as canonical PCM WAV.
//
// A canonical header with a plausible data size is kept; bytes past the
// declared size are dropped so the size always matches. A RIFF container
// with the data chunk elsewhere, or a non-canonical 16-bit PCM format, is
// rebuilt from its data chunk (downmixed and resampled as needed). A RIFF
// prefix without a usable data chunk is stripped as a 44-byte header.
// Anything else is treated as raw PCM. The result is stable under repeated
// application.
func EnsureWAVHeader(buf []byte) []byte {
	l := parseWAV(buf)
	if !l.riff {
		return WrapPCM(buf)
	}

	if l.hasData {
		size := l.dataSize
		avail := len(buf) - l.dataOffset
		if l.canonical && size != 0 && size != unknownSize && int64(size) <= int64(avail) {
			if int(size) == avail {
				return buf
			}
			return buf[:HeaderSize+int(size)]
		}

		pcm := l.payload(buf)
		if l.audioFormat == formatPCM && l.bits == BitsPerSample &&
			l.channels > 0 && l.channels <= 8 && l.sampleRate >= 8000 && l.sampleRate <= 192000 &&
			(l.channels != Channels || l.sampleRate != SampleRate) {
			samples := Downmix(BytesToSamples(pcm), l.channels)
			pcm = SamplesToBytes(Resample(samples, l.sampleRate, SampleRate))
		}
		return WrapPCM(pcm)
	}

	if len(buf) <= HeaderSize {
		return WrapPCM(nil)
	}
	return WrapPCM(buf[HeaderSize:])
}

// pcmBounds locates the sample bytes of buf, skipping a RIFF header if present.
func pcmBounds(buf []byte) (int, int) {
	l := parseWAV(buf)
	if l.hasData {
		return l.dataOffset, l.dataOffset + len(l.payload(buf))
	}
	if l.riff && len(buf) >= HeaderSize {
		return HeaderSize, len(buf)
	}
	return 0, len(buf)
}

// PCMData returns the sample bytes of buf, skipping a RIFF header if present.
func PCMData(buf []byte) []byte {
	start, end := pcmBounds(buf)
	return buf[start:end]
}

// Duration returns the audio length of buf in seconds.
func Duration(buf []byte) float64 {
	return float64(len(PCMData(buf))) / float64(SampleRate*BytesPerSample)
}

// Loudness summarizes the level of a buffer. Amplitudes are normalized to [0,1].
type Loudness struct {
	PeakAbs     float64
	RMS         float64
	DurationSec float64
}

// ComputeLoudness walks the 16-bit little-endian samples after the header.
func ComputeLoudness(buf []byte) Loudness {
	pcm := PCMData(buf)
	n := len(pcm) / BytesPerSample
	res := Loudness{DurationSec: float64(len(pcm)) / float64(SampleRate*BytesPerSample)}
	if n == 0 {
		return res
	}

	var peak, sumSq float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
		if a := math.Abs(v); a > peak {
			peak = a
		}
		sumSq += v * v
	}
	res.PeakAbs = peak
	res.RMS = math.Sqrt(sumSq / float64(n))
	return res
}

const (
	quietPeak  = 0.2
	targetPeak = 0.8
	maxGain    = 10.0
)

// NormalizeGain boosts quiet recordings. When the peak is non-zero and below
// 0.2 of full scale every sample is multiplied by min(0.8/peak, 10) and
// clamped to int16; otherwise buf is returned unchanged. The input is never
// modified.
func NormalizeGain(buf []byte) []byte {
	peak := ComputeLoudness(buf).PeakAbs
	if peak == 0 || peak >= quietPeak {
		return buf
	}
	gain := math.Min(targetPeak/peak, maxGain)

	out := make([]byte, len(buf))
	copy(out, buf)

	start, end := pcmBounds(buf)
	pcm := out[start:end]
	for i := 0; i+1 < len(pcm); i += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i:])))
		v := math.Round(s * gain)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(pcm[i:], uint16(int16(v)))
	}
	return out
}
