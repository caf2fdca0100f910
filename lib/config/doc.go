// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the media
// transport.
//
// Configuration is loaded from a single file specified by either the
// MEDIATRANSPORT_CONFIG environment variable (via [Load]) or a
// --config flag (via [LoadFile]). There are no fallbacks and no
// automatic file search.
//
// The transport itself never reads the Config struct. It consumes a
// [Prefs] key/value view built by [Config.Prefs], using the preference
// names in this package (PrefICETCP and friends), so the same code runs
// under any embedding that can answer boolean lookups.
//
// ICE servers come from the inline ice.servers list and, optionally, a
// JSONC file named by ice.servers_file holding an array of
// RTCIceServer-shaped objects. [Config.ICEServers] merges both.
//
// Variable expansion (${VAR} and ${VAR:-default}) is applied to path
// fields after loading.
package config
