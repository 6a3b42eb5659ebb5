// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package command

// Error codes for command parsing and naming.
const (
	CodeEmptyInput  = "EMPTY_INPUT"
	CodeInvalidName = "INVALID_NAME"
)
