// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth implements the login, register and logout flows that sit
// between the command gate and the authorization cache.
//
// # Domain Types
//
// Player records should be created with NewPlayer, which validates the
// nickname and derives the lowercase key. Store implementations receive
// pre-validated players.
//
// # Services
//
// Service verifies credentials against a PlayerStore and a PasswordHasher and
// then either authorizes the session in the cache or routes the failure
// through the security incident handler. Every outcome is a message key;
// callers never see stored identity details.
package auth
