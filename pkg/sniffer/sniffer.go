// Copyright (c) Vandop
// SPDX-License-Identifier: Apache-2.0

package sniffer

import (
	"fmt"
	"io"
	"strings"
)

// DefaultSniffLimit is the maximum number of bytes read from a new
// connection before classification. Large enough for a minimal HTTP
// request line, small enough to never stall real traffic.
const DefaultSniffLimit = 256

// Verdict is the classification of a new inbound connection.
type Verdict int

const (
	// Passthrough means the connection carries opaque traffic that must be
	// forwarded to the backend unmodified.
	Passthrough Verdict = iota

	// Probe means the connection is a synthetic health-check request that
	// must be answered locally and never reach the backend.
	Probe
)

// String returns a string representation of the verdict.
func (v Verdict) String() string {
	switch v {
	case Passthrough:
		return "passthrough"
	case Probe:
		return "probe"
	default:
		return "unknown"
	}
}

// Rule describes the HTTP request the sniffer recognizes as a health probe.
// The same rule is applied to every new connection before any byte is
// forwarded.
type Rule struct {
	// Method is the HTTP method of the probe request (default GET).
	Method string

	// Path is the request path of the probe request (default /ping).
	Path string

	// Body is the payload of the canned probe response (default PONG).
	Body string
}

// DefaultRule returns the fixed GET /ping probe rule.
func DefaultRule() Rule {
	return Rule{Method: "GET", Path: "/ping", Body: "PONG"}
}

// needle is the request-line prefix a probe request must start with,
// e.g. "GET /ping ". The trailing space guards against path prefixes
// such as /pingall.
func (r Rule) needle() string {
	method := r.Method
	if method == "" {
		method = "GET"
	}
	path := r.Path
	if path == "" {
		path = "/ping"
	}
	return strings.ToUpper(method) + " " + path + " "
}

// Sniffer classifies the first bytes of inbound connections.
type Sniffer struct {
	rule  Rule
	limit int
}

// New creates a sniffer for the given probe rule.
func New(rule Rule) *Sniffer {
	return &Sniffer{rule: rule, limit: DefaultSniffLimit}
}

// Classify reads the first chunk (up to the sniff limit) from r and
// classifies the connection. The bytes consumed during sniffing are
// returned so the caller can forward them to the backend when the
// verdict is Passthrough; they are never discarded.
//
// Classification never fails: a short first packet, a connection that
// closes before enough bytes arrive, or a binary payload all fall
// through to Passthrough. Read errors are left for the relay to
// rediscover on its next read.
func (s *Sniffer) Classify(r io.Reader) (Verdict, []byte) {
	buf := make([]byte, s.limit)
	n, _ := r.Read(buf)
	prefix := buf[:n]

	if s.matches(prefix) {
		return Probe, prefix
	}
	return Passthrough, prefix
}

// matches reports whether the initial bytes start with the probe
// request line. The comparison is case-insensitive, matching how real
// HTTP intermediaries treat the method token.
func (s *Sniffer) matches(data []byte) bool {
	needle := s.rule.needle()
	if len(data) < len(needle) {
		return false
	}
	return strings.EqualFold(string(data[:len(needle)]), needle)
}

// Response synthesizes the fixed success reply for a recognized probe
// request. The response is complete and self-describing; it does not
// depend on the backend in any way.
func (r Rule) Response() []byte {
	body := r.Body
	if body == "" {
		body = "PONG"
	}
	return []byte(fmt.Sprintf(
		"HTTP/1.1 200 OK\r\n"+
			"Content-Type: text/plain; charset=utf-8\r\n"+
			"Content-Length: %d\r\n"+
			"Connection: close\r\n"+
			"\r\n%s", len(body), body))
}
