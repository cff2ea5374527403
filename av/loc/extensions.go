package loc

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/quic-go/quic-go/quicvarint"
	"github.com/sirupsen/logrus"
)

// Key identifies a LOC header extension. Even keys carry a single varint
// value; odd keys carry a length-prefixed byte string.
type Key uint64

// Known header extension keys.
const (
	KeyMediaType      Key = 0x0A
	KeyVideoMetadata  Key = 0x0B
	KeyVideoExtradata Key = 0x0D
	KeyOpusMetadata   Key = 0x0F
	KeyTextMetadata   Key = 0x11
	KeyAACMetadata    Key = 0x13
)

// IsVarint reports whether the key carries a bare varint value.
func (k Key) IsVarint() bool { return k%2 == 0 }

// String returns a readable key name.
func (k Key) String() string {
	switch k {
	case KeyMediaType:
		return "media_type"
	case KeyVideoMetadata:
		return "video_metadata"
	case KeyVideoExtradata:
		return "video_extradata"
	case KeyOpusMetadata:
		return "opus_metadata"
	case KeyTextMetadata:
		return "text_metadata"
	case KeyAACMetadata:
		return "aac_metadata"
	default:
		return fmt.Sprintf("key_%#x", uint64(k))
	}
}

// Extensions holds the header extensions of one object, keyed by
// extension key. Values of even keys are stored varint-encoded.
type Extensions map[Key][]byte

// SetUint stores v under an even key.
func (e Extensions) SetUint(key Key, v uint64) {
	e[key] = quicvarint.Append(nil, v)
}

// Uint returns the varint stored under key.
func (e Extensions) Uint(key Key) (uint64, error) {
	raw, ok := e[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingExtension, key)
	}
	r := bytes.NewReader(raw)
	v, err := quicvarint.Read(r)
	if err != nil || r.Len() != 0 {
		return 0, fmt.Errorf("%w: %s", ErrMalformed, key)
	}
	return v, nil
}

// MediaType returns the decoded media type extension.
func (e Extensions) MediaType() (MediaType, error) {
	v, err := e.Uint(KeyMediaType)
	if err != nil {
		return 0, err
	}
	mt := MediaType(v)
	if !mt.valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnknownMediaType, v)
	}
	return mt, nil
}

// SetMediaType stores the media type extension.
func (e Extensions) SetMediaType(mt MediaType) {
	e.SetUint(KeyMediaType, uint64(mt))
}

// Append serializes the extensions in ascending key order.
//
// Parameters:
//   - b: Buffer to append to, may be nil
//
// Returns:
//   - []byte: The extended buffer
func (e Extensions) Append(b []byte) []byte {
	keys := make([]Key, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, k := range keys {
		b = quicvarint.Append(b, uint64(k))
		if !k.IsVarint() {
			b = quicvarint.Append(b, uint64(len(e[k])))
		}
		b = append(b, e[k]...)
	}
	return b
}

// Parse decodes a serialized extension block. Unknown keys are kept.
// A repeated key replaces the earlier value.
func Parse(data []byte) (Extensions, error) {
	r := bytes.NewReader(data)
	ext := make(Extensions)

	for r.Len() > 0 {
		k, err := quicvarint.Read(r)
		if err != nil {
			return nil, fmt.Errorf("%w: key: %v", ErrMalformed, err)
		}
		key := Key(k)

		if key.IsVarint() {
			start := len(data) - r.Len()
			if _, err := quicvarint.Read(r); err != nil {
				return nil, fmt.Errorf("%w: %s value: %v", ErrMalformed, key, err)
			}
			end := len(data) - r.Len()
			ext[key] = bytes.Clone(data[start:end])
			continue
		}

		n, err := quicvarint.Read(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %s length: %v", ErrMalformed, key, err)
		}
		if n > uint64(r.Len()) {
			logrus.WithFields(logrus.Fields{
				"function":  "loc.Parse",
				"key":       key.String(),
				"length":    n,
				"remaining": r.Len(),
			}).Debug("Extension length exceeds block")
			return nil, fmt.Errorf("%w: %s length %d exceeds %d bytes", ErrMalformed, key, n, r.Len())
		}
		value := make([]byte, n)
		if _, err := io.ReadFull(r, value); err != nil {
			return nil, fmt.Errorf("%w: %s value: %v", ErrMalformed, key, err)
		}
		ext[key] = value
	}
	return ext, nil
}
