// Copyright (c) 2024 go-vaults developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package vaulterrors defines the distinct error kinds that the vault
// construction engine surfaces at each operation boundary.
package vaulterrors

import "errors"

// Each sentinel corresponds to one of the error kinds named in the vault
// engine's error handling design: invalid parameters, invalid plan shape,
// invalid witness selection, unresolved script placeholders, timelock
// overflow, RPC unavailability, invalid next-transaction requests, and
// persisted state that cannot be reconnected.
var (
	ErrInvalidParameters     = errors.New("invalid parameters")
	ErrInvalidPlan           = errors.New("invalid plan")
	ErrInvalidWitnessSelect  = errors.New("invalid witness selection")
	ErrUnresolvedPlaceholder = errors.New("unresolved script placeholder")
	ErrTimelockOverflow      = errors.New("relative timelock exceeds maximum")
	ErrRPCUnavailable        = errors.New("rpc unavailable or wrong chain")
	ErrInvalidNextStep       = errors.New("invalid next step")
	ErrStateCorruption       = errors.New("state corruption")
)
