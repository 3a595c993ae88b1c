// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mtp implements the MTP transaction engine (C5): the five-state
// machine that turns a stream of raw container payloads into Command,
// Data, and Response exchanges, dispatching through an operation.Registry.
package mtp

import (
	"fmt"
	"log"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/container"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/objtree"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/operation"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/proto"
)

type state int

const (
	waitCmd state = iota
	waitDataStart
	waitMoreData
)

var (
	txDesc = prometheus.NewDesc(
		"mtp_responder_transactions_total",
		"Total number of command/response transactions completed.",
		nil, nil,
	)
	errDesc = prometheus.NewDesc(
		"mtp_responder_protocol_errors_total",
		"Total responses carrying a non-OK response code, by code.",
		[]string{"response_code"}, nil,
	)
	sessionDesc = prometheus.NewDesc(
		"mtp_responder_session_open",
		"1 if a session is currently open on the device, 0 otherwise.",
		nil, nil,
	)
)

// Engine drives one device through the Command -> (Data) -> Response
// transaction cycle of §4.5.1. It is not safe for concurrent use: a
// transport implementation is expected to serialize calls to
// HandlePayload, matching the single logical pipe MTP assumes.
type Engine struct {
	Device   *objtree.Device
	Registry *operation.Registry
	Logger   *log.Logger

	st    state
	cmd   *container.ParamContainer
	data  *container.DataContainer
	entry *operation.Entry

	mu        sync.Mutex
	txTotal   uint64
	errByCode map[proto.ResponseCode]uint64
}

// New builds an engine for dev, dispatching through reg. A nil logger
// defaults to log.Default(). dev.OperationsSupported is (re)populated from
// reg.Opcodes() so GetDeviceInfo always reflects what this engine actually
// dispatches, regardless of whether the caller remembered to do so itself.
func New(dev *objtree.Device, reg *operation.Registry, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	dev.OperationsSupported = reg.Opcodes()
	return &Engine{
		Device:    dev,
		Registry:  reg,
		Logger:    logger,
		errByCode: make(map[proto.ResponseCode]uint64),
	}
}

// Describe implements prometheus.Collector.
func (e *Engine) Describe(ch chan<- *prometheus.Desc) {
	ch <- txDesc
	ch <- errDesc
	ch <- sessionDesc
}

// Collect implements prometheus.Collector.
func (e *Engine) Collect(ch chan<- prometheus.Metric) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch <- prometheus.MustNewConstMetric(txDesc, prometheus.CounterValue, float64(e.txTotal))
	for code, n := range e.errByCode {
		ch <- prometheus.MustNewConstMetric(errDesc, prometheus.CounterValue, float64(n), code.String())
	}
	sessionOpen := 0.0
	if _, open := e.Device.SessionID(); open {
		sessionOpen = 1.0
	}
	ch <- prometheus.MustNewConstMetric(sessionDesc, prometheus.GaugeValue, sessionOpen)
}

func (e *Engine) recordResponse(code proto.ResponseCode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.txTotal++
	if code != proto.OK {
		e.errByCode[code]++
	}
}

// reset returns the engine to WAIT_CMD, discarding any in-flight command
// or partial data buffer.
func (e *Engine) reset() {
	e.st = waitCmd
	e.cmd = nil
	e.data = nil
	e.entry = nil
}

// HandlePayload feeds one raw transport payload into the state machine
// and returns the container payloads, if any, that should be sent back
// to the initiator in order (an optional Data container, then a
// Response). A framing or configuration error is returned as a plain Go
// error rather than encoded onto a Response, since the engine has no
// transaction id to answer with in that case; the caller should log it
// and let the next payload start a fresh WAIT_CMD cycle (the engine
// already resets its own state before returning such an error).
func (e *Engine) HandlePayload(payload []byte) ([][]byte, error) {
	switch e.st {
	case waitCmd:
		return e.handleWaitCmd(payload)
	case waitDataStart:
		return e.handleWaitDataStart(payload)
	case waitMoreData:
		return e.handleWaitMoreData(payload)
	default:
		e.reset()
		return nil, fmt.Errorf("mtp: engine in unknown state")
	}
}

func (e *Engine) handleWaitCmd(payload []byte) ([][]byte, error) {
	cmd, err := container.ParseParamContainer(payload)
	if err != nil {
		e.reset()
		return nil, err
	}
	if cmd.Type != proto.ContainerCommand {
		e.reset()
		return nil, fmt.Errorf("mtp: expected Command container, got %s", cmd.Type)
	}

	if e.Device.Pending != nil && cmd.Opcode() != proto.OpSendObject {
		e.Device.DiscardPending()
	}

	entry, ok := e.Registry.Lookup(cmd.Opcode())
	if !ok {
		resp := container.ResponseFromCommand(cmd)
		resp.SetResponseCode(proto.OperationNotSupported)
		e.recordResponse(proto.OperationNotSupported)
		return [][]byte{resp.Marshal()}, nil
	}

	e.cmd = cmd
	e.entry = entry
	if entry.RequiresIRData {
		e.st = waitDataStart
		return nil, nil
	}
	return e.handle(nil, false)
}

func (e *Engine) handleWaitDataStart(payload []byte) ([][]byte, error) {
	d, err := container.ParseDataPermissive(payload)
	if err != nil {
		e.reset()
		return nil, err
	}
	if d.Type != proto.ContainerData {
		e.reset()
		return nil, fmt.Errorf("mtp: expected Data container, got %s", d.Type)
	}
	e.data = d
	if d.HasAllData() {
		return e.handle(d.Payload, true)
	}
	e.st = waitMoreData
	return nil, nil
}

func (e *Engine) handleWaitMoreData(payload []byte) ([][]byte, error) {
	e.data.AppendChunk(payload)
	if !e.data.HasAllData() {
		return nil, nil
	}
	return e.handle(e.data.Payload, true)
}

// handle runs the HANDLE and RESPOND states: gate + dispatch the pending
// command, then assemble the outgoing {optional Data, Response} pair.
func (e *Engine) handle(irData []byte, irDataPresent bool) ([][]byte, error) {
	cmd, entry := e.cmd, e.entry
	resp := container.ResponseFromCommand(cmd)

	dataPayload, err := operation.Dispatch(entry, e.Device, cmd, resp, irData, irDataPresent)
	if err != nil {
		e.reset()
		return nil, fmt.Errorf("mtp: operation %s: %w", entry.Name, err)
	}

	var out [][]byte
	if len(dataPayload) > 0 {
		out = append(out, container.NewData(cmd.TID, cmd.Opcode(), dataPayload).Marshal())
	}
	out = append(out, resp.Marshal())

	e.recordResponse(resp.ResponseCode())
	e.reset()
	return out, nil
}
