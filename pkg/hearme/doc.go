// ABOUTME: Package documentation for hearme
// ABOUTME: Describes the share and listen sessions and how they fit together
/*
Package hearme shares one live audio source with many listeners over a
peer-to-peer connection.

A ShareSession captures from a capture.Source, encodes every frame once and
fans the packets out to each admitted listener through its own bounded
queue, so a slow listener loses packets without delaying anyone else. Start
returns a ticket that carries everything a listener needs to join: the
addresses, the audio format and the session token.

A ListenSession dials the ticket, proves the token and feeds received
packets through a reorder and jitter buffer into an output.Sink on a fixed
clock. Missing frames are concealed and lost connections are retried with
bounded backoff.

The Controller wraps both for interactive use: at most one share and one
listen at a time, with an event posted when either ends.

	pipe := transport.NewPipe()
	l, _ := pipe.Listen("demo")
	share, _ := hearme.NewShareSession(hearme.ShareConfig{
		Source:    capture.NewTone(audio.DefaultFormat(), 440, true),
		Listener:  l,
		Transport: ticket.TransportPipe,
	})
	t, _ := share.Start(ctx)

	listen, _ := hearme.NewListenSession(hearme.ListenConfig{
		Ticket: t,
		Dialer: pipe,
		Sink:   output.NewOto(nil),
	})
	listen.Start(ctx)
*/
package hearme
