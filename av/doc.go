// Package av is the receive side playout core for MoQ conferencing.
//
// A Manager owns one pipeline per remote source. Audio sources are played
// out by an audio.Handler that reorders packets in a jitter buffer, aligns
// them to the local clock, decodes them ahead of their playout time and
// serves the device callback through Render. Video sources are a
// video.SubscriptionSet holding one video.Handler per received quality
// variant; with simulreceive enabled the set displays the best decoded
// variant at each instant and suggests pausing variants that keep losing.
//
// # Sub-Packages
//
//   - av/jitter: Jitter buffer, time alignment, RFC 3550 jitter and
//     variant arrival variance
//   - av/audio: Opus and PCM decoding, playout ring buffer, catch-up and
//     concealment
//   - av/video: Name gate, PID and interval dequeue pacing, variant
//     selection
//   - av/loc: LOC header extension parsing
//   - av/rtp: RTP audio ingest
//
// # Usage
//
//	manager, err := av.NewManager(av.LoadConfigFromEnv())
//	if err != nil {
//	    return err
//	}
//	manager.OnPause(func(sourceID, trackID string) {
//	    unsubscribe(sourceID, trackID)
//	})
//	decoder, _ := audio.NewOpusDecoder(audio.Format{SampleRate: 48000, Channels: 2})
//	manager.AddAudioSource("alice/audio", decoder)
//	manager.AddVideoSource("alice/video", []av.VideoVariant{
//	    {ID: "hd", Width: 1280, Height: 720, FPS: 30},
//	    {ID: "sd", Width: 640, Height: 360, FPS: 15},
//	}, nil, sink)
//	if err := manager.Start(ctx); err != nil {
//	    return err
//	}
//	defer manager.Stop()
//
//	// From the transport:
//	manager.SubmitObject(ctx, "alice/video", "hd", av.Object{
//	    GroupID: group, ObjectID: object, Extensions: ext, Payload: payload,
//	})
//
//	// From the audio device callback:
//	manager.Render("alice/audio", samples)
//
// # Configuration
//
// LoadConfigFromEnv reads PLAYOUT_* variables such as PLAYOUT_MIN_DEPTH_MS,
// PLAYOUT_JITTER_MODE and PLAYOUT_SIMULRECEIVE. Invalid values are logged
// and ignored.
package av
