// Package channel defines the transport-neutral messaging contract and its
// adapters. An adapter turns platform events into Inbound messages, hands
// them to a Responder, and delivers the Outbound reply.
package channel

import "context"

// Inbound is one user message, normalized away from any platform shape.
type Inbound struct {
	// UserID identifies the sender within the channel.
	UserID string

	// ChannelID names the transport, e.g. "matrix". Identity is scoped per
	// channel; the same person on two channels is two users.
	ChannelID string

	// Text is the plain-text message body.
	Text string
}

// Attachment is an extra payload alongside a reply. Unused by the current
// text-only flow but part of the contract so adapters need not change when
// richer replies appear.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Outbound is the reply to deliver.
type Outbound struct {
	Text        string
	Attachments []Attachment
}

// Responder produces a reply for an inbound message. Implementations must
// always return a deliverable Outbound; internal failures surface as a
// user-facing apology, not as an error the adapter must invent text for.
type Responder interface {
	Respond(ctx context.Context, msg Inbound) (Outbound, error)
}
