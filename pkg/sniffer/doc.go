// Copyright (c) Vandop
// SPDX-License-Identifier: Apache-2.0

// Package sniffer classifies new inbound connections as health probes or
// opaque passthrough traffic.
//
// # Overview
//
// The proxy must answer a fixed HTTP health-check request (GET /ping by
// default) without ever contacting the backend, while every other byte
// sequence is forwarded untouched. The sniffer performs a single bounded
// read of the first chunk and matches it against the probe request line.
//
// # Read-ahead semantics
//
// The bytes consumed during classification are returned to the caller,
// never discarded. For Passthrough connections the relay writes them to
// the backend as its first forwarded chunk, so the sniff boundary is
// invisible to both peers:
//
//	verdict, prefix := sniffer.Classify(clientConn)
//	switch verdict {
//	case sniffer.Probe:
//	    clientConn.Write(rule.Response())
//	case sniffer.Passthrough:
//	    backendConn.Write(prefix) // then start the copy loops
//	}
//
// # Failure tolerance
//
// Classification never returns an error. Partial first packets, early
// EOF, and binary payloads all classify as Passthrough; any pending read
// error is rediscovered by the relay's own copy loop.
package sniffer
