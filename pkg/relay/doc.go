// Copyright (c) Vandop
// SPDX-License-Identifier: Apache-2.0

// Package relay implements the idle-reset proxy data plane: a TCP
// intermediary that forwards bytes between a client and a configured
// backend while emulating how cloud appliances terminate idle
// connections.
//
// # Architecture
//
//	┌─────────┐         ┌──────────┐         ┌─────────┐
//	│ Client  │ ←─TCP─→ │  Server  │ ←─TCP─→ │ Backend │
//	└─────────┘         └──────────┘         └─────────┘
//	                         ↓
//	                    ┌──────────┐   ┌──────────┐
//	                    │ Registry │ ← │ Watchdog │
//	                    └──────────┘   └──────────┘
//
// # Connection Pair lifecycle
//
// Exactly one Pair exists per inbound session; there is no pooling or
// reuse. Phases are one-directional:
//
//	SNIFFING → RELAYING → CLOSED
//	SNIFFING → PROBE_RESPONDING → CLOSED
//
//  1. Server accepts the client connection and registers a Pair
//  2. The sniffer classifies the first bytes (read-ahead preserved)
//  3. Probe: the canned response is written and the pair closes;
//     the backend never observes a connection attempt
//  4. Passthrough: the backend is dialed with a bounded timeout, the
//     read-ahead is drained into the first forwarded chunk, and two
//     copy loops pump bytes until EOF, error, reset, or shutdown
//
// # Idle detection
//
// Every forwarded chunk in either direction touches the pair's
// last-activity timestamp. The watchdog scans all live pairs on its own
// cadence, independent of the copy loops, and abruptly resets any pair
// whose silence exceeds the idle timeout: SO_LINGER is set to zero so
// the remote peers observe a RST rather than an orderly close. This is
// the behavior under test and is deliberately distinct from the relay's
// EOF shutdown path.
//
// # Teardown discipline
//
// A pair may be torn down concurrently by a copy loop, the watchdog,
// and process shutdown. Sealing is idempotent: the first closer wins
// and records the close reason; every later attempt is a no-op. An
// error in one pair never affects another pair or the accept loop.
package relay
