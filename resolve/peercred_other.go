// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package resolve

import (
	"errors"
	"net"
)

type credentials struct {
	PID int32
	UID uint32
}

func peerCredentials(net.Conn) (credentials, error) {
	return credentials{}, errors.New("peer credentials are only available on linux")
}
