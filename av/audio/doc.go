// Package audio implements the receive-side audio playout engine.
//
// Encoded packets pass through a jitter buffer, are decoded shortly before
// their playout time and queued, stamped with that time, in a playout buffer
// that the audio device drains through Render.
//
// # Architecture Overview
//
//	Submit → jitter.Buffer → dequeue loop → Decoder → PlayoutBuffer → Render
//	               ↑                             ↑
//	        jitter.Aligner               PLC on sequence gaps
//
// # Core Components
//
// ## Handler
//
// Owns the pipeline for one track:
//
//	dec, err := audio.NewOpusDecoder(audio.PlayoutFormat)
//	h, err := audio.NewHandler("alice/mic", audio.DefaultConfig(), dec)
//	go h.Run(ctx)
//	defer h.Close()
//
//	// transport goroutine
//	err = h.Submit(&audio.Packet{Sequence: seq, PTS: pts, Payload: data}, time.Now())
//
//	// device callback
//	h.Render(samples, time.Now())
//
// Packets submitted before the first Render are dropped. Gaps of up to
// MaxPLCThreshold packets are concealed; larger gaps reset the decoder and
// flush both buffers. Render trims silent 5ms windows from audio running
// more than twice PlayoutBufferTime late, and zero fills any shortfall.
//
// ## Decoders
//
// OpusDecoder wraps pion/opus and resamples its output to PlayoutFormat.
// PCMDecoder passes signed 16-bit little-endian audio through.
//
// ## PlayoutBuffer
//
// A bounded queue of decoded frames. Each dequeue reports the playout time of
// the first frame returned, so the renderer can measure lateness.
//
// # Thread Safety
//
// Submit, Render and Run may be called from different goroutines. Decoders
// are only used from the dequeue goroutine.
package audio
