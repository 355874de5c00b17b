// ABOUTME: Ticket package documentation
// ABOUTME: Describes the join token encoding
// Package ticket implements the join token a share session hands out.
//
// A ticket is base64url (no padding) of a JSON object whose "v" field is
// the format version. It is safe to copy, paste and advertise; possession
// of the token inside is what admits a listener.
package ticket
