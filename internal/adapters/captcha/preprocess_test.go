package captcha

import (
	"bytes"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeWAV builds a clip with silent padding around a square-wave burst.
func makeWAV(t *testing.T, rate, channels, silentFrames, toneFrames int) []byte {
	t.Helper()

	frames := silentFrames + toneFrames + silentFrames
	data := make([]int, 0, frames*channels)
	for i := 0; i < frames; i++ {
		sample := 0
		if i >= silentFrames && i < silentFrames+toneFrames {
			sample = 12000
			if i%2 == 0 {
				sample = -12000
			}
		}
		for ch := 0; ch < channels; ch++ {
			data = append(data, sample)
		}
	}

	buf := &seekableBuffer{}
	encoder := wav.NewEncoder(buf, rate, 16, channels, 1)
	require.NoError(t, encoder.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, encoder.Close())
	return buf.data
}

func TestPrepareAudioDownmixesAndResamples(t *testing.T) {
	clip := makeWAV(t, 32000, 2, 1600, 6400)

	out := PrepareAudio(clip)
	require.True(t, isWAV(out))

	decoder := wav.NewDecoder(bytes.NewReader(out))
	pcm, err := decoder.FullPCMBuffer()
	require.NoError(t, err)

	assert.Equal(t, 1, pcm.Format.NumChannels)
	assert.Equal(t, 16000, pcm.Format.SampleRate)
	// 6400 tone frames at a stride of 2 leave ~3200 samples once silence is
	// trimmed.
	assert.InDelta(t, 3200, len(pcm.Data), 64)
}

func TestPrepareAudioTrimsSilence(t *testing.T) {
	clip := makeWAV(t, 16000, 1, 8000, 1600)

	out := PrepareAudio(clip)
	decoder := wav.NewDecoder(bytes.NewReader(out))
	pcm, err := decoder.FullPCMBuffer()
	require.NoError(t, err)

	assert.InDelta(t, 1600, len(pcm.Data), 32)
}

func TestPrepareAudioPassesThroughNonWAV(t *testing.T) {
	mp3 := []byte("ID3\x04\x00fake-mp3-frames")
	assert.Equal(t, mp3, PrepareAudio(mp3))
}

func TestPrepareAudioKeepsUnplayableClipIntact(t *testing.T) {
	broken := append([]byte("RIFF\x00\x00\x00\x00WAVE"), []byte("junk")...)
	assert.Equal(t, broken, PrepareAudio(broken))
}

func TestTrimSilenceAllQuietClipIsEmpty(t *testing.T) {
	assert.Nil(t, trimSilence([]int{0, 0, 0}))
}

func TestDecimateKeepsLowerRates(t *testing.T) {
	data := []int{1, 2, 3, 4}
	assert.Equal(t, data, decimate(data, 8000, 16000))
}
