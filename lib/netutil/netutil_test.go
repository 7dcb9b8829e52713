// Copyright 2026 The Tracker Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"
	"testing"
)

func TestIsExpectedCloseError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"net closed", net.ErrClosed, true},
		{"wrapped net closed", errors.Join(errors.New("read"), net.ErrClosed), true},
		{"epipe", syscall.EPIPE, true},
		{"econnreset", &net.OpError{Op: "write", Err: syscall.ECONNRESET}, true},
		{"other errno", syscall.EINVAL, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsExpectedCloseError(tc.err); got != tc.want {
				t.Fatalf("IsExpectedCloseError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestPeerAddress(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("192.0.2.7"), Port: 9190}
	host, port, err := PeerAddress(addr)
	if err != nil {
		t.Fatalf("PeerAddress: %v", err)
	}
	if host != "192.0.2.7" || port != 9190 {
		t.Fatalf("PeerAddress = %q:%d, want 192.0.2.7:9190", host, port)
	}
}

func TestPeerAddressRejectsMalformed(t *testing.T) {
	if _, _, err := PeerAddress(badAddr{}); err == nil {
		t.Fatal("expected error for address without port")
	}
}

type badAddr struct{}

func (badAddr) Network() string { return "tcp" }
func (badAddr) String() string  { return "no-port-here" }
