// Package rtp ingests RTP audio into the playout engine.
//
// A Depacketizer parses packets with pion/rtp, extends the 16-bit sequence
// number to 64 bits across wraparound and converts RTP timestamps into
// presentation times using the stream clock rate. The first packet of a
// stream is anchored at its arrival time.
//
// A Session reads datagrams from a net.PacketConn and submits the result
// to an audio playout handler:
//
//	conn, _ := net.ListenPacket("udp", ":5004")
//	session, err := rtp.NewSession(conn, rtp.DefaultDepacketizerConfig(), handler)
//	if err != nil {
//	    return err
//	}
//	go session.Run(ctx)
//
// Packetizer produces the matching wire format for loopback feeds.
package rtp
