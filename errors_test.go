// errors_test.go: Tests for the structured error taxonomy
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hostkit

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/agilira/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorTaxonomy_CodesAndContext(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code string
	}{
		{"duplicate_registration", NewDuplicateRegistrationError("database"), ErrCodeDuplicateRegistration},
		{"unresolved_capability", NewUnresolvedCapabilityError("cache"), ErrCodeUnresolvedCapability},
		{"manifest", NewManifestError("billing.json", "bad field"), ErrCodeManifestError},
		{"duplicate_plugin_name", NewDuplicatePluginNameError("billing", "dir:/a", "pkg:b"), ErrCodeDuplicatePluginName},
		{"cyclic_dependency", NewCyclicDependencyError([]string{"a", "b"}), ErrCodeCyclicDependency},
		{"missing_dependency", NewMissingDependencyError("billing", "database"), ErrCodeMissingDependency},
		{"lifecycle_timeout", NewLifecycleTimeoutError("billing", "start", 30*time.Second), ErrCodeLifecycleTimeout},
		{"validation", NewValidationError("billing", fmt.Errorf("retries out of range")), ErrCodeValidationError},
		{"middleware_rejection", NewMiddlewareRejectionError("charge", StageAuth, "missing principal"), ErrCodeMiddlewareRejection},
		{"handler", NewHandlerError("charge", fmt.Errorf("card declined")), ErrCodeHandlerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Error(t, tc.err)
			assert.Equal(t, tc.code, ErrorCode(tc.err))
		})
	}
}

func TestErrorCode_WrappedAndForeign(t *testing.T) {
	structured := NewPluginNotFoundError("ghost")
	wrapped := fmt.Errorf("lookup failed: %w", structured)
	assert.Equal(t, ErrCodePluginNotFound, ErrorCode(wrapped),
		"ErrorCode must see through fmt.Errorf wrapping")

	assert.Equal(t, "", ErrorCode(fmt.Errorf("plain error")))
	assert.Equal(t, "", ErrorCode(nil))
}

func TestErrors_CauseChain(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := NewProviderFailureError("database", cause)

	assert.True(t, stderrors.Is(err, cause), "the original cause must stay in the chain")

	var structured *errors.Error
	require.True(t, stderrors.As(err, &structured))
	assert.Equal(t, "database", structured.Context["capability"])
}

func TestErrors_RejectionContext(t *testing.T) {
	err := NewMiddlewareRejectionError("billing.charge", StageRateLimit, "bucket empty")

	var structured *errors.Error
	require.True(t, stderrors.As(err, &structured))
	assert.Equal(t, "billing.charge", structured.Context["operation"])
	assert.Equal(t, StageRateLimit, structured.Context["stage"])
	assert.Equal(t, "bucket empty", structured.Context["reason"])
}
