package av

import (
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/moqplayout/av/audio"
	"github.com/opd-ai/moqplayout/av/loc"
	"github.com/opd-ai/moqplayout/av/video"
	"github.com/stretchr/testify/require"
)

// testEpochSeconds is the mock clock start. Media timestamps use the same
// origin so transit times stay small.
const testEpochSeconds = 1_700_000_000

type mockTimeProvider struct {
	mu  sync.Mutex
	now time.Time
}

func newMockTimeProvider() *mockTimeProvider {
	return &mockTimeProvider{now: time.Unix(testEpochSeconds, 0)}
}

func (m *mockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *mockTimeProvider) Since(t time.Time) time.Duration { return m.Now().Sub(t) }

func (m *mockTimeProvider) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

type recordingSink struct {
	mu     sync.Mutex
	frames []*video.DecodedFrame
}

func (s *recordingSink) Enqueue(frame *video.DecodedFrame, _ *video.Transform) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// directConfig delivers video straight to the sink without buffering.
func directConfig() Config {
	config := DefaultConfig()
	config.Video.Mode = video.ModeNone
	config.Set.Mode = video.SimulreceiveNone
	return config
}

func newTestManager(t *testing.T, config Config) (*Manager, *mockTimeProvider) {
	t.Helper()
	clock := newMockTimeProvider()
	m, err := NewManager(config, WithTimeProvider(clock))
	require.NoError(t, err)
	return m, clock
}

func pcmDecoder(t *testing.T) audio.Decoder {
	t.Helper()
	decoder, err := audio.NewPCMDecoder(audio.PlayoutFormat)
	require.NoError(t, err)
	return decoder
}

// pcmPayload is 20ms of 48kHz mono 16-bit silence.
func pcmPayload() []byte {
	return make([]byte, 960*2)
}

func videoObject(seq, group, object uint64) Object {
	ext := make(loc.Extensions)
	ext.SetMediaType(loc.MediaTypeH264)
	ext.SetVideoMetadata(loc.VideoMetadata{
		Sequence: seq,
		PTS:      90000*testEpochSeconds + seq*3000,
		DTS:      90000*testEpochSeconds + seq*3000,
		Timebase: 90000,
		Duration: 3000,
	})
	return Object{
		GroupID:    group,
		ObjectID:   object,
		Extensions: ext.Append(nil),
		Payload:    []byte{0x65, byte(seq)},
	}
}

func audioObject(seq uint64) Object {
	ext := make(loc.Extensions)
	ext.SetMediaType(loc.MediaTypeOpus)
	ext.SetAudioMetadata(loc.KeyOpusMetadata, loc.AudioMetadata{
		Sequence:   seq,
		PTS:        48000*testEpochSeconds + seq*960,
		Timebase:   48000,
		SampleRate: 48000,
		Channels:   1,
		Duration:   960,
	})
	return Object{
		ObjectID:   seq,
		Extensions: ext.Append(nil),
		Payload:    pcmPayload(),
	}
}
