// Package video implements the receive-side video playout engine and the
// simulreceive selector.
//
// # Architecture Overview
//
//	Submit → jitter.Buffer → dequeue loop → NameGate → Decoder → Sink
//	                                                       ↓ (simulreceive)
//	                                         mailbox → SubscriptionSet.Decide → Sink
//
// # Handler
//
// A Handler plays out one variant. Its Mode decides the pacing:
//
//   - ModeNone decodes each frame as it is submitted.
//   - ModeInterval releases frames at their aligned presentation time, or on
//     a fixed grid anchored at the first arrival until an offset is known.
//   - ModePID lets a PID controller vary the release interval to hold the
//     buffer at its target depth.
//   - ModeLayer skips decoding and sets the sink start time to the first
//     presentation timestamp minus MinDepth.
//
// Frames failing the name gate are dropped with BehaviourFreeze, or decoded
// and marked discontinuous with BehaviourArtifact.
//
// # SubscriptionSet
//
// A SubscriptionSet holds every variant of one source:
//
//	set, err := video.NewSubscriptionSet("alice/camera", video.DefaultSetConfig(), sink)
//	hd, err := set.AddHandler("hd", hdConfig, hdDecoder)
//	sd, err := set.AddHandler("sd", sdConfig, sdDecoder)
//	set.OnPause(func(source, variant string) { unsubscribe(source, variant) })
//	go set.Run(ctx)
//	go hd.Run(ctx)
//	go sd.Run(ctx)
//
// The set shares one time aligner across its variants. With simulreceive
// enabled each variant decodes into a single slot mailbox and the set
// displays, per instant, the widest continuous frame among those with the
// oldest timestamp. Downgrades are held back for QualityMissThreshold
// decisions, and wider variants that keep losing are reported through the
// pause callback.
package video
