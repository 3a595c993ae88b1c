// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package transport defines the boundary between the MTP engine and
// whatever pipe carries framed containers to and from an initiator. It
// mirrors the shape of the teacher's drive.driveIntf (IFSend/IFRecv/Close)
// generalized from two fixed security-protocol parameters to the two
// named USB pipes MTP actually uses: the bidirectional command/interrupt
// pipe and the bulk data pipe. Real USB/SCSI/NVMe plumbing is explicitly
// out of scope (spec.md §1); only the interface, an in-memory
// implementation, and a Unix domain socket implementation live here.
package transport

import "errors"

// ErrClosed is returned by Send/Receive once the endpoint has been closed.
var ErrClosed = errors.New("transport: endpoint closed")

// Endpoint carries whole, already-framed MTP containers (the 12-byte
// header plus payload) in both directions. It corresponds to the command/
// interrupt pipe: one container in, one container out, in lockstep with
// the engine's state machine.
type Endpoint interface {
	// Send writes one complete container frame.
	Send(frame []byte) error
	// Receive blocks for the next complete container frame.
	Receive() ([]byte, error)
	Close() error
}

// BulkEndpoint is the data pipe an Engine's caller reads/writes large
// Data container payloads over. It is the same shape as Endpoint; MTP
// does not require a different contract for the bulk pipe, only a
// different physical channel, which is why this responder models both
// with one interface.
type BulkEndpoint = Endpoint

// Loopback is an in-process Endpoint pair connected by buffered channels,
// used by tests; the `serve` CLI uses SocketEndpoint. NewLoopbackPair returns
// the two ends of one pipe; a frame Sent on one end is the next frame
// Received on the other.
type Loopback struct {
	send   chan []byte
	recv   chan []byte
	closed chan struct{}
}

// NewLoopbackPair returns two Endpoints wired to each other.
func NewLoopbackPair() (a, b *Loopback) {
	ab := make(chan []byte, 16)
	ba := make(chan []byte, 16)
	closed := make(chan struct{})
	return &Loopback{send: ab, recv: ba, closed: closed},
		&Loopback{send: ba, recv: ab, closed: closed}
}

func (l *Loopback) Send(frame []byte) error {
	buf := append([]byte(nil), frame...)
	select {
	case <-l.closed:
		return ErrClosed
	case l.send <- buf:
		return nil
	}
}

func (l *Loopback) Receive() ([]byte, error) {
	select {
	case <-l.closed:
		return nil, ErrClosed
	case frame := <-l.recv:
		return frame, nil
	}
}

func (l *Loopback) Close() error {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
	return nil
}
