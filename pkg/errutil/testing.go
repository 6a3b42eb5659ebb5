// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireOops(t *testing.T, err error) oops.OopsError {
	t.Helper()
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected an oops error, got %T: %v", err, err)
	return oopsErr
}

// AssertErrorCode asserts the oops code of err. oops reports the innermost
// code of a wrap chain, so an outer code only wins when the cause is
// formatted in with Errorf rather than wrapped.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	requireOops(t, err)
	assert.Equal(t, code, Code(err), "error: %v", err)
}

// AssertErrorContext asserts one context value attached anywhere in the
// wrap chain of err.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	ctx := requireOops(t, err).Context()
	if assert.Contains(t, ctx, key, "error: %v", err) {
		assert.Equal(t, value, ctx[key], "context %q", key)
	}
}
