// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the media transport
// binaries.
//
// [GitCommit], [GitDirty], and [BuildTime] are injected with
// -ldflags -X. When they are not (plain go build, go test), the commit
// falls back to the vcs.revision recorded by the Go toolchain in the
// binary's build info.
package version
