package logging

// Standard field names for chat relay log lines.
const (
	// Service identification.
	FieldService   = "service"
	FieldComponent = "component"
	FieldVersion   = "version"

	// Connection and network.
	FieldConnID     = "conn_id"
	FieldConn       = "conn"
	FieldFD         = "fd"
	FieldRemoteAddr = "remote"
	FieldAddress    = "address"
	FieldTransport  = "transport"

	// Protocol.
	FieldFlag     = "flag"
	FieldHandle   = "handle"
	FieldDuration = "took"

	// Error handling.
	FieldErrorType    = "error_type"
	FieldOperation    = "operation"
	FieldErrorContext = "error_context"
	FieldStackTrace   = "stack_trace"
)

// Service names.
const (
	ServiceServer = "chat-server"
	ServiceClient = "chat-client"
)
