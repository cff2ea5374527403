// Package loc reads and writes the LOC header extensions that accompany
// MoQ media objects.
//
// Each object carries a media type extension and a codec specific metadata
// extension. Metadata is a fixed sequence of QUIC varints:
//
//	video: sequence, pts, dts, timebase, duration, wall clock (ms)
//	audio: sequence, pts, timebase, sample rate, channels, duration, wall clock (ms)
//
// Example:
//
//	ext, err := loc.Parse(headerBytes)
//	if err != nil {
//	    return err
//	}
//	meta, err := ext.VideoMetadata()
//	if err != nil {
//	    return err
//	}
//	pts, _ := meta.PresentationTime()
package loc
