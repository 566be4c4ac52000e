// Copyright (c) Vandop
// SPDX-License-Identifier: Apache-2.0

// Package config loads and validates the proxy configuration from
// PROXY_* environment variables, with an optional .env file for local
// experiments. The idle-timeout policy, probe rule, and backend address
// are read once at startup and never change while the process runs.
package config
