// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package messages

// Message keys selected by the authentication core. The core never builds
// player-facing text itself; it picks one of these and the catalog renders it.
const (
	KeyMustAuthenticate = "command.must_authenticate"

	KeyLoginSuccess            = "auth.login.success"
	KeyLoginIncorrectPassword  = "auth.login.incorrect_password"
	KeyLoginAlreadyLoggedIn    = "auth.login.already_logged_in"
	KeyLoginNotRegistered      = "auth.login.not_registered"
	KeyLoginUsage              = "auth.login.usage"
	KeyLoginPremiumAccount     = "auth.login.premium_account"
	KeyLoginVerificationFailed = "auth.login.verification_failed"

	KeyRegisterSuccess           = "auth.register.success"
	KeyRegisterUsage             = "auth.register.usage"
	KeyRegisterAlreadyRegistered = "auth.register.already_registered"
	KeyPasswordTooShort          = "auth.register.password_too_short"
	KeyPasswordTooLong           = "auth.register.password_too_long"
	KeyPasswordTooManyBytes      = "auth.register.password_too_many_bytes"
	KeyPasswordsNoMatch          = "auth.register.passwords_no_match"

	KeyLogoutSuccess     = "auth.logout.success"
	KeyLogoutNotLoggedIn = "auth.logout.not_logged_in"

	KeyPasswordEmpty   = "validation.password.empty"
	KeyUsernameInvalid = "validation.username.invalid"

	KeyBruteForceBlocked = "security.brute_force.blocked"
	KeyLockedOut         = "security.locked_out"
	KeySessionExpired    = "security.session.expired"
	KeyThrottled         = "security.throttled"

	KeyDatabaseError = "error.database.query"
)
