// Package logging provides centralized logging utilities for the JSON-RPC relay.
// It defines standardized field names and helper functions to ensure consistent
// structured logging across the inbound, outbound and filtering components.
package logging

// Standard field name constants for structured logging.
// Using constants ensures consistency and prevents typos across the codebase.
const (
	// Component identification
	FieldComponent = "component"
	FieldPool      = "pool"

	// Network/connection fields
	FieldAddr       = "addr"
	FieldListenAddr = "listen_addr"
	FieldRemoteAddr = "remote_addr"
	FieldTarget     = "target"
	FieldResolved   = "resolved_addr"

	// HTTP message fields
	FieldHTTPMethod = "http_method"
	FieldPath       = "path"
	FieldVersion    = "http_version"
	FieldStatus     = "status"
	FieldKeepAlive  = "keep_alive"

	// JSON-RPC fields
	FieldMethod = "method"
	FieldReason = "reason"

	// Operation fields
	FieldOperation = "operation"
	FieldFile      = "file"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Error fields
	FieldErrorKind = "error_kind"
	FieldAttempt   = "attempt"
	FieldPanic     = "panic"
	FieldStack     = "stack"

	// Timing fields
	FieldDuration = "duration"
	FieldLatency  = "latency"
	FieldTimeout  = "timeout"

	// Count/size fields
	FieldCount = "count"
)

// Component name constants for the "component" field.
// These identify the source of log messages.
const (
	ComponentRelay           = "relay"
	ComponentListener        = "listener"
	ComponentInboundSession  = "inbound_session"
	ComponentOutboundSession = "outbound_session"
	ComponentReactorPool     = "reactor_pool"
	ComponentDNSResolver     = "dns_resolver"

	ComponentJSONRPCFilter   = "jsonrpc_filter"
	ComponentAllowListLoader = "allowlist_loader"

	ComponentSendTool     = "send_tool"
	ComponentDemoUpstream = "demo_upstream"

	ComponentObservability  = "observability_server"
	ComponentRuntimeMetrics = "runtime_metrics_collector"
)

// Operation result constants for the "result" field.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

