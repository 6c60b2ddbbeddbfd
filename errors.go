// errors.go: structured error definitions for the hostkit runtime
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hostkit

import (
	stderrors "errors"

	"github.com/agilira/go-errors"
)

// Error codes for the hostkit runtime.
//
// Codes are stable identifiers surfaced through the operational status
// query so operators can diagnose a Failed plugin without log-diving.
const (
	// Registry errors (1000-1099)
	ErrCodeDuplicateRegistration = "REGISTRY_1001"
	ErrCodeUnresolvedCapability  = "REGISTRY_1002"
	ErrCodeScopeEnded            = "REGISTRY_1003"
	ErrCodeProviderFailure       = "REGISTRY_1004"

	// Manifest and discovery errors (1100-1199)
	ErrCodeManifestError       = "MANIFEST_1101"
	ErrCodeDuplicatePluginName = "MANIFEST_1102"
	ErrCodeDiscoveryError      = "MANIFEST_1103"
	ErrCodeCyclicDependency    = "MANIFEST_1104"

	// Configuration errors (1200-1299)
	ErrCodeValidationError    = "CONFIG_1201"
	ErrCodeConfigParseError   = "CONFIG_1202"
	ErrCodeConfigWatcherError = "CONFIG_1203"
	ErrCodeConfigFileError    = "CONFIG_1204"

	// Lifecycle errors (1300-1399)
	ErrCodeMissingDependency = "LIFECYCLE_1301"
	ErrCodeLifecycleTimeout  = "LIFECYCLE_1302"
	ErrCodeInvalidTransition = "LIFECYCLE_1303"
	ErrCodePluginNotFound    = "LIFECYCLE_1304"
	ErrCodePluginNotRunning  = "LIFECYCLE_1305"
	ErrCodeCriticalFailure   = "LIFECYCLE_1306"
	ErrCodeUncleanShutdown   = "LIFECYCLE_1307"
	ErrCodeHealthCheckFailed = "LIFECYCLE_1308"

	// Middleware and routing errors (1400-1499)
	ErrCodeMiddlewareRejection = "MIDDLEWARE_1401"
	ErrCodeRateLimitExceeded   = "MIDDLEWARE_1402"
	ErrCodeHandlerError        = "MIDDLEWARE_1403"
	ErrCodeOperationNotFound   = "MIDDLEWARE_1404"
	ErrCodeDuplicateOperation  = "MIDDLEWARE_1405"
)

// Registry error constructors

func NewDuplicateRegistrationError(capability CapabilityType) *errors.Error {
	return errors.New(ErrCodeDuplicateRegistration, "Duplicate capability registration").
		WithUserMessage("A provider is already registered for this capability; use Replace for an explicit override").
		WithContext("capability", string(capability)).
		WithSeverity("error")
}

func NewUnresolvedCapabilityError(capability CapabilityType) *errors.Error {
	return errors.New(ErrCodeUnresolvedCapability, "Unresolved capability").
		WithUserMessage("No provider is registered for the requested capability").
		WithContext("capability", string(capability)).
		WithSeverity("error")
}

func NewScopeEndedError(capability CapabilityType) *errors.Error {
	return errors.New(ErrCodeScopeEnded, "Scope already ended").
		WithUserMessage("The resolution scope has been released and cannot serve instances").
		WithContext("capability", string(capability)).
		WithSeverity("error")
}

func NewProviderFailureError(capability CapabilityType, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeProviderFailure, "Capability provider failed").
		WithUserMessage("The provider for the requested capability returned an error").
		WithContext("capability", string(capability)).
		WithSeverity("error")
}

// Manifest and discovery error constructors

func NewManifestError(source, detail string) *errors.Error {
	return errors.New(ErrCodeManifestError, "Malformed plugin manifest: "+detail).
		WithUserMessage("The plugin manifest could not be parsed or failed schema validation").
		WithContext("manifest_source", source).
		WithSeverity("error")
}

func NewDuplicatePluginNameError(name, firstSource, secondSource string) *errors.Error {
	return errors.New(ErrCodeDuplicatePluginName, "Duplicate plugin name").
		WithUserMessage("Two discovery sources declare the same plugin name; silent shadowing is not permitted").
		WithContext("plugin_name", name).
		WithContext("first_source", firstSource).
		WithContext("second_source", secondSource).
		WithSeverity("error")
}

func NewDiscoveryError(message string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeDiscoveryError, "Discovery error: "+message).
		WithUserMessage("Plugin discovery failed").
		WithSeverity("error")
}

func NewCyclicDependencyError(cycle []string) *errors.Error {
	return errors.New(ErrCodeCyclicDependency, "Cyclic plugin dependency").
		WithUserMessage("The declared plugin dependencies form a cycle and no load order exists").
		WithContext("members", cycle).
		WithSeverity("error")
}

// Configuration error constructors

func NewValidationError(subject string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeValidationError, "Validation error: "+subject).
		WithUserMessage("Configuration did not match its declared schema").
		WithContext("subject", subject).
		WithSeverity("error")
}

func NewConfigParseError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeConfigParseError, "Configuration parse error").
		WithUserMessage("Failed to parse configuration file").
		WithContext("config_path", path).
		WithSeverity("error")
}

func NewConfigWatcherError(message string, cause error) *errors.Error {
	if cause == nil {
		return errors.New(ErrCodeConfigWatcherError, "Configuration watcher error: "+message).
			WithUserMessage("Configuration monitoring failed").
			WithSeverity("error")
	}
	return errors.Wrap(cause, ErrCodeConfigWatcherError, "Configuration watcher error: "+message).
		WithUserMessage("Configuration monitoring failed").
		WithSeverity("error")
}

func NewConfigFileError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeConfigFileError, "Configuration file error").
		WithUserMessage("Configuration file access failed").
		WithContext("config_path", path).
		WithSeverity("error")
}

// Lifecycle error constructors

func NewMissingDependencyError(pluginName string, capability CapabilityType) *errors.Error {
	return errors.New(ErrCodeMissingDependency, "Missing dependency").
		WithUserMessage("A required capability is not resolvable in the service registry").
		WithContext("plugin_name", pluginName).
		WithContext("capability", string(capability)).
		WithSeverity("error")
}

func NewLifecycleTimeoutError(pluginName, phase string, timeout interface{}) *errors.Error {
	return errors.New(ErrCodeLifecycleTimeout, "Lifecycle timeout").
		WithUserMessage("The plugin exceeded its lifecycle timeout budget").
		WithContext("plugin_name", pluginName).
		WithContext("phase", phase).
		WithContext("timeout", timeout).
		WithSeverity("error")
}

func NewInvalidTransitionError(pluginName string, from, to PluginState) *errors.Error {
	return errors.New(ErrCodeInvalidTransition, "Invalid lifecycle transition").
		WithUserMessage("The requested state transition is not permitted by the plugin state machine").
		WithContext("plugin_name", pluginName).
		WithContext("from", from.String()).
		WithContext("to", to.String()).
		WithSeverity("error")
}

func NewPluginNotFoundError(name string) *errors.Error {
	return errors.New(ErrCodePluginNotFound, "Plugin not found").
		WithUserMessage("No plugin with the requested name is managed by this runtime").
		WithContext("plugin_name", name).
		WithSeverity("error")
}

func NewPluginNotRunningError(name string, state PluginState) *errors.Error {
	return errors.New(ErrCodePluginNotRunning, "Plugin not running").
		WithUserMessage("The plugin is not in the Running state").
		WithContext("plugin_name", name).
		WithContext("state", state.String()).
		WithSeverity("warning")
}

func NewCriticalFailureError(pluginName string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeCriticalFailure, "Critical plugin failed").
		WithUserMessage("A plugin marked critical failed and the startup sequence was aborted").
		WithContext("plugin_name", pluginName).
		WithSeverity("error")
}

func NewUncleanShutdownError(pluginName string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeUncleanShutdown, "Unclean plugin shutdown").
		WithUserMessage("The plugin did not stop within the shutdown deadline and was force-marked stopped").
		WithContext("plugin_name", pluginName).
		WithSeverity("warning")
}

func NewHealthCheckFailedError(pluginName string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeHealthCheckFailed, "Health check failed").
		WithUserMessage("Plugin health check failed").
		WithContext("plugin_name", pluginName).
		WithSeverity("warning").
		AsRetryable()
}

// Middleware and routing error constructors

func NewMiddlewareRejectionError(operation, stage, reason string) *errors.Error {
	return errors.New(ErrCodeMiddlewareRejection, "Request rejected: "+reason).
		WithUserMessage("The request was rejected by a middleware stage before reaching the handler").
		WithContext("operation", operation).
		WithContext("stage", stage).
		WithContext("reason", reason).
		WithSeverity("warning")
}

func NewRateLimitExceededError(operation string, limit interface{}) *errors.Error {
	return errors.New(ErrCodeRateLimitExceeded, "Rate limit exceeded").
		WithUserMessage("Request rate limit has been exceeded for this operation").
		WithContext("operation", operation).
		WithContext("limit", limit).
		WithSeverity("warning").
		AsRetryable()
}

func NewHandlerError(operation string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeHandlerError, "Handler error").
		WithUserMessage("The operation handler returned a failure").
		WithContext("operation", operation).
		WithSeverity("error")
}

func NewOperationNotFoundError(operation string) *errors.Error {
	return errors.New(ErrCodeOperationNotFound, "Operation not found").
		WithUserMessage("No running plugin exposes the requested operation").
		WithContext("operation", operation).
		WithSeverity("error")
}

func NewDuplicateOperationError(operation, pluginName string) *errors.Error {
	return errors.New(ErrCodeDuplicateOperation, "Duplicate operation name").
		WithUserMessage("Another plugin already exposes an operation with this name").
		WithContext("operation", operation).
		WithContext("plugin_name", pluginName).
		WithSeverity("error")
}

// ErrorCode extracts the hostkit error code from an error chain, returning
// the empty string for plain errors. Used by the status query to surface
// the taxonomy tag of a Failed plugin.
func ErrorCode(err error) string {
	var structured *errors.Error
	if stderrors.As(err, &structured) {
		return string(structured.Code)
	}
	return ""
}
