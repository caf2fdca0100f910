// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package resolve

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

type credentials struct {
	PID int32
	UID uint32
}

// peerCredentials reads SO_PEERCRED from a Unix socket connection.
func peerCredentials(conn net.Conn) (credentials, error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return credentials{}, fmt.Errorf("not a unix socket: %T", conn)
	}
	raw, err := unixConn.SyscallConn()
	if err != nil {
		return credentials{}, err
	}
	var ucred *unix.Ucred
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		ucred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return credentials{}, err
	}
	if sockErr != nil {
		return credentials{}, fmt.Errorf("SO_PEERCRED: %w", sockErr)
	}
	return credentials{PID: ucred.Pid, UID: ucred.Uid}, nil
}
