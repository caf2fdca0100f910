// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Components that timestamp captured packets or bound how long a
// discovery request may run take a Clock instead of calling the time
// package directly. Production code passes Real(); tests pass Fake()
// and move time forward with Advance, so timeout paths run
// deterministically without sleeping.
package clock
