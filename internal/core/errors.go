// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors, matched with errors.Is after wrapping.
var (
	// Frame decoding errors
	ErrPacketTooShort = errors.New("dnsniff: packet too short")
	ErrInvalidHeader  = errors.New("dnsniff: invalid header")
	ErrInvalidDNS     = errors.New("dnsniff: invalid dns message")

	// Capture errors
	ErrInterfaceNotFound = errors.New("dnsniff: interface not found")
	ErrPermission        = errors.New("dnsniff: insufficient privilege")
	ErrRingGeometry      = errors.New("dnsniff: invalid ring geometry")
	ErrUnsupported       = errors.New("dnsniff: capture backend not supported")
	ErrBlockOutstanding  = errors.New("dnsniff: previous block not released")
	ErrBlockReleased     = errors.New("dnsniff: block already released")
	ErrRingClosed        = errors.New("dnsniff: ring closed")

	// Sink errors
	ErrSinkClosed = errors.New("dnsniff: sink closed")

	// Configuration errors
	ErrConfigInvalid = errors.New("dnsniff: invalid configuration")
)
