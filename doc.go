// Package lotstream coordinates physical vehicle gates with a cloud
// occupancy authority over NATS.
//
// The system has two deployed processes:
//
//   - gatectl: an edge controller driving one physical gate (entry or
//     exit role) through a finite state machine. It reads credentials,
//     requests permission from the authority, opens the gate, tracks the
//     vehicle across the threshold with a debounced distance sensor, and
//     confirms the passage. A fail-safe timer forces the gate closed and
//     abandons the cycle if the vehicle never completes it.
//
//   - lotauthd: the cloud authority owning the vehicle registry, the
//     occupancy counter, session billing, and message deduplication. It
//     answers permission requests, applies confirmed transitions, and
//     broadcasts billing records and status snapshots.
//
// The two sides exchange asynchronous request/response messages over a
// transport.Channel. The production channel is NATS JetStream, which
// provides at-least-once delivery for the protocol subjects and a KV
// bucket for retained last-known-value topics (presence, status). An
// in-memory channel backs the tests.
//
// Layering, leaves first:
//
//	errors, pkg/retry           foundation
//	transport, protocol         channel contract, topics, records, envelopes
//	natsclient                  production transport.Channel
//	bridge                      sync-over-async request bridge
//	authority, gate             the two protocol endpoints
//	metric, config              ambient infrastructure
//	cmd/gatectl, cmd/lotauthd   binaries
//
// At-least-once delivery means every inbound message may be redelivered;
// the authority's deduplication cache keyed by (topic, payload) is what
// keeps occupancy and billing exactly-once. Nothing in lotstream persists
// across process restarts.
package lotstream
