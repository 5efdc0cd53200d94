// Package normalize turns the time-ordered raw event stream of one
// connection into Records with an exact timestamp or a bounded range.
//
// The chat protocol only timestamps some events. Everything else is placed
// between the last exact timestamp seen and the next one, or closed by a
// timeout ceiling when the channel goes quiet. Presence events (JOIN/PART)
// are delivered late by the server, so their lower bound is widened by a
// fixed slack.
//
// A Normalizer owns all per-connection state; run one per connection and
// feed it from a single goroutine. Separate connections are independent.
package normalize
