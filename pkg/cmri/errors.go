// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmri

import "errors"

var (
	// ErrPayloadOverflow is returned when a payload would exceed MaxPayloadLen.
	// A decoder returning it has already discarded the frame and reset to idle.
	ErrPayloadOverflow = errors.New("cmri: payload overflow")

	// ErrDataTooLong is returned when a slice larger than MaxPayloadLen is
	// copied into a payload.
	ErrDataTooLong = errors.New("cmri: data too long for payload")

	ErrMissingAddress = errors.New("cmri: message has no address")
	ErrMissingType    = errors.New("cmri: message has no type")

	ErrInvalidMessageType = errors.New("cmri: invalid message type")
	ErrInvalidNodeType    = errors.New("cmri: invalid node type")
)
