package captcha

import (
	"bytes"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	targetSampleRate = 16000
	targetBitDepth   = 16

	// silenceRatio is the fraction of peak amplitude below which a sample
	// counts as silence when trimming.
	silenceRatio = 0.02
)

// PrepareAudio normalizes a WAV clip for the speech backends: mono channel,
// 16 kHz sample rate, leading and trailing silence trimmed. Non-WAV input is
// returned unchanged; the backends accept the raw clip.
func PrepareAudio(data []byte) []byte {
	if !isWAV(data) {
		return data
	}

	decoder := wav.NewDecoder(bytes.NewReader(data))
	buf, err := decoder.FullPCMBuffer()
	if err != nil || buf == nil || len(buf.Data) == 0 {
		return data
	}

	samples := downmix(buf.Data, buf.Format.NumChannels)
	samples = decimate(samples, buf.Format.SampleRate, targetSampleRate)
	samples = trimSilence(samples)
	if len(samples) == 0 {
		return data
	}

	rate := buf.Format.SampleRate
	if rate > targetSampleRate {
		rate = targetSampleRate
	}

	encoded, err := encodeWAV(samples, rate)
	if err != nil {
		return data
	}
	return encoded
}

func isWAV(data []byte) bool {
	return len(data) >= 12 &&
		bytes.Equal(data[0:4], []byte("RIFF")) &&
		bytes.Equal(data[8:12], []byte("WAVE"))
}

func downmix(data []int, channels int) []int {
	if channels <= 1 {
		return data
	}

	frames := len(data) / channels
	mono := make([]int, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for ch := 0; ch < channels; ch++ {
			sum += data[i*channels+ch]
		}
		mono[i] = sum / channels
	}
	return mono
}

// decimate drops samples to approximate the target rate. Challenge clips use
// integer multiples of 16 kHz, so a stride is close enough for speech
// recognition.
func decimate(data []int, rate, target int) []int {
	if rate <= target || target <= 0 {
		return data
	}

	stride := rate / target
	if stride <= 1 {
		return data
	}

	out := make([]int, 0, len(data)/stride+1)
	for i := 0; i < len(data); i += stride {
		out = append(out, data[i])
	}
	return out
}

func trimSilence(data []int) []int {
	peak := 0
	for _, s := range data {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	if peak == 0 {
		return nil
	}

	threshold := int(float64(peak) * silenceRatio)
	start, end := 0, len(data)
	for start < end && abs(data[start]) <= threshold {
		start++
	}
	for end > start && abs(data[end-1]) <= threshold {
		end--
	}
	return data[start:end]
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func encodeWAV(samples []int, rate int) ([]byte, error) {
	buf := &seekableBuffer{}
	encoder := wav.NewEncoder(buf, rate, targetBitDepth, 1, 1)

	pcm := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           samples,
		SourceBitDepth: targetBitDepth,
	}
	if err := encoder.Write(pcm); err != nil {
		return nil, err
	}
	if err := encoder.Close(); err != nil {
		return nil, err
	}
	return buf.data, nil
}

// seekableBuffer is the minimal in-memory io.WriteSeeker the wav encoder
// needs to patch up chunk sizes.
type seekableBuffer struct {
	data []byte
	pos  int
}

func (b *seekableBuffer) Write(p []byte) (int, error) {
	if need := b.pos + len(p); need > len(b.data) {
		grown := make([]byte, need)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int
	switch whence {
	case io.SeekStart:
		next = int(offset)
	case io.SeekCurrent:
		next = b.pos + int(offset)
	case io.SeekEnd:
		next = len(b.data) + int(offset)
	default:
		return 0, io.ErrUnexpectedEOF
	}
	if next < 0 {
		return 0, io.ErrUnexpectedEOF
	}
	b.pos = next
	return int64(next), nil
}
