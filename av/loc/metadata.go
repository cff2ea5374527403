package loc

import (
	"bytes"
	"fmt"
	"time"

	"github.com/quic-go/quic-go/quicvarint"
)

// MediaType is the payload kind announced by the media type extension.
type MediaType uint64

const (
	MediaTypeH264 MediaType = iota
	MediaTypeOpus
	MediaTypeText
	MediaTypeAAC
)

func (m MediaType) valid() bool { return m <= MediaTypeAAC }

// String returns the media type name.
func (m MediaType) String() string {
	switch m {
	case MediaTypeH264:
		return "h264"
	case MediaTypeOpus:
		return "opus"
	case MediaTypeText:
		return "text"
	case MediaTypeAAC:
		return "aac"
	default:
		return "unknown"
	}
}

// IsAudio reports whether the media type is an audio codec.
func (m MediaType) IsAudio() bool { return m == MediaTypeOpus || m == MediaTypeAAC }

// MetadataKey returns the extension key carrying this media type's
// per-object metadata.
func (m MediaType) MetadataKey() (Key, error) {
	switch m {
	case MediaTypeH264:
		return KeyVideoMetadata, nil
	case MediaTypeOpus:
		return KeyOpusMetadata, nil
	case MediaTypeText:
		return KeyTextMetadata, nil
	case MediaTypeAAC:
		return KeyAACMetadata, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownMediaType, uint64(m))
	}
}

// VideoMetadata describes one encoded video frame. Timestamps are in
// Timebase ticks per second; WallClock is in Unix milliseconds.
type VideoMetadata struct {
	Sequence  uint64
	PTS       uint64
	DTS       uint64
	Timebase  uint64
	Duration  uint64
	WallClock uint64
}

// AudioMetadata describes one encoded audio frame.
type AudioMetadata struct {
	Sequence   uint64
	PTS        uint64
	Timebase   uint64
	SampleRate uint64
	Channels   uint64
	Duration   uint64
	WallClock  uint64
}

// MarshalBinary encodes the metadata as consecutive varints.
func (m VideoMetadata) MarshalBinary() ([]byte, error) {
	return appendVarints(nil, m.Sequence, m.PTS, m.DTS, m.Timebase, m.Duration, m.WallClock), nil
}

// UnmarshalBinary decodes consecutive varints into the metadata.
func (m *VideoMetadata) UnmarshalBinary(data []byte) error {
	return readVarints(data, &m.Sequence, &m.PTS, &m.DTS, &m.Timebase, &m.Duration, &m.WallClock)
}

// PresentationTime converts PTS to a duration.
func (m VideoMetadata) PresentationTime() (time.Duration, error) {
	return ticksToDuration(m.PTS, m.Timebase)
}

// DecodeTime converts DTS to a duration.
func (m VideoMetadata) DecodeTime() (time.Duration, error) {
	return ticksToDuration(m.DTS, m.Timebase)
}

// Length converts Duration to a time.Duration.
func (m VideoMetadata) Length() (time.Duration, error) {
	return ticksToDuration(m.Duration, m.Timebase)
}

// PublishTime returns the publisher wall clock, if set.
func (m VideoMetadata) PublishTime() (time.Time, bool) {
	return wallClock(m.WallClock)
}

// MarshalBinary encodes the metadata as consecutive varints.
func (m AudioMetadata) MarshalBinary() ([]byte, error) {
	return appendVarints(nil, m.Sequence, m.PTS, m.Timebase, m.SampleRate, m.Channels, m.Duration, m.WallClock), nil
}

// UnmarshalBinary decodes consecutive varints into the metadata.
func (m *AudioMetadata) UnmarshalBinary(data []byte) error {
	return readVarints(data, &m.Sequence, &m.PTS, &m.Timebase, &m.SampleRate, &m.Channels, &m.Duration, &m.WallClock)
}

// PresentationTime converts PTS to a duration.
func (m AudioMetadata) PresentationTime() (time.Duration, error) {
	return ticksToDuration(m.PTS, m.Timebase)
}

// Length converts Duration to a time.Duration.
func (m AudioMetadata) Length() (time.Duration, error) {
	return ticksToDuration(m.Duration, m.Timebase)
}

// PublishTime returns the publisher wall clock, if set.
func (m AudioMetadata) PublishTime() (time.Time, bool) {
	return wallClock(m.WallClock)
}

// VideoMetadata decodes the video metadata extension.
func (e Extensions) VideoMetadata() (VideoMetadata, error) {
	var m VideoMetadata
	raw, ok := e[KeyVideoMetadata]
	if !ok {
		return m, fmt.Errorf("%w: %s", ErrMissingExtension, KeyVideoMetadata)
	}
	if err := m.UnmarshalBinary(raw); err != nil {
		return m, err
	}
	return m, nil
}

// SetVideoMetadata stores the video metadata extension.
func (e Extensions) SetVideoMetadata(m VideoMetadata) {
	b, _ := m.MarshalBinary()
	e[KeyVideoMetadata] = b
}

// AudioMetadata decodes the audio metadata stored under key, which must
// be KeyOpusMetadata or KeyAACMetadata.
func (e Extensions) AudioMetadata(key Key) (AudioMetadata, error) {
	var m AudioMetadata
	if key != KeyOpusMetadata && key != KeyAACMetadata {
		return m, fmt.Errorf("%w: %s is not an audio key", ErrMalformed, key)
	}
	raw, ok := e[key]
	if !ok {
		return m, fmt.Errorf("%w: %s", ErrMissingExtension, key)
	}
	if err := m.UnmarshalBinary(raw); err != nil {
		return m, err
	}
	return m, nil
}

// SetAudioMetadata stores audio metadata under key.
func (e Extensions) SetAudioMetadata(key Key, m AudioMetadata) {
	b, _ := m.MarshalBinary()
	e[key] = b
}

// TextSequence returns the sequence number of a text object.
func (e Extensions) TextSequence() (uint64, error) {
	raw, ok := e[KeyTextMetadata]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingExtension, KeyTextMetadata)
	}
	var seq uint64
	if err := readVarints(raw, &seq); err != nil {
		return 0, err
	}
	return seq, nil
}

// SetTextSequence stores the text sequence number.
func (e Extensions) SetTextSequence(seq uint64) {
	e[KeyTextMetadata] = quicvarint.Append(nil, seq)
}

func appendVarints(b []byte, values ...uint64) []byte {
	for _, v := range values {
		b = quicvarint.Append(b, v)
	}
	return b
}

func readVarints(data []byte, dst ...*uint64) error {
	r := bytes.NewReader(data)
	for i, d := range dst {
		v, err := quicvarint.Read(r)
		if err != nil {
			return fmt.Errorf("%w: field %d of %d: %v", ErrMalformed, i+1, len(dst), err)
		}
		*d = v
	}
	if r.Len() != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformed, r.Len())
	}
	return nil
}

func ticksToDuration(ticks, timebase uint64) (time.Duration, error) {
	if timebase == 0 {
		return 0, fmt.Errorf("%w: zero timebase", ErrMalformed)
	}
	whole := ticks / timebase
	frac := ticks % timebase
	return time.Duration(whole)*time.Second + time.Duration(frac*uint64(time.Second)/timebase), nil
}

func wallClock(ms uint64) (time.Time, bool) {
	if ms == 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(ms)), true
}
