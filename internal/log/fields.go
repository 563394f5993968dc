package log

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldQuery         = "query"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldDurationHuman = "duration_human"
	FieldUserAgent     = "user_agent"
	FieldReferer       = "referer"
	FieldSuccess       = "success"
	FieldError         = "error"
	FieldOperation     = "operation"
	FieldPeriod        = "period"
	FieldPID           = "pid"
	FieldLedgerTitle   = "ledger_title"
	FieldLedgerID      = "ledger_id"
	FieldUpdatedRange  = "updated_range"
	FieldDocumentID    = "document_id"
	FieldORNumber      = "or_number"
	FieldAmountPaid    = "amount_paid"
	FieldRuleSet       = "rule_set"
	FieldImageBytes    = "image_bytes"
	FieldImageURI      = "image_uri"
	FieldFragments     = "fragments"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentReceipt   = "receipt"
	ComponentExtract   = "extract"
	ComponentOCR       = "ocr"
	ComponentLedger    = "ledger"
	ComponentStorage   = "storage"
	ComponentArchive   = "archive"
	ComponentAMQP      = "amqp"
	ComponentSecurity  = "security"
	ComponentRateLimit = "rate_limit"
	ComponentTrace     = "trace"
	ComponentBackend   = "backend"
)

// Operations defines standard operation names
const (
	OpLocate       = "locate"
	OpProvision    = "provision"
	OpAppend       = "append"
	OpRefreshTotal = "refresh_total"
	OpRecognize    = "recognize"
	OpExtract      = "extract"
	OpInsert       = "insert"
	OpArchive      = "archive"
	OpPublish      = "publish"
	OpValidate     = "validate"
	OpParse        = "parse"
	OpRender       = "render"
	OpShutdown     = "shutdown"
	OpStartup      = "startup"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeValidation    = "validation_error"
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypeDatabase      = "database_error"
	ErrorTypeNetwork       = "network_error"
	ErrorTypeAuth          = "auth_error"
	ErrorTypeTimeout       = "timeout_error"
	ErrorTypeNotFound      = "not_found_error"
	ErrorTypeInternal      = "internal_error"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithClientIP adds client IP field
func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithSubmission adds the period and pid of a submission
func (f LogFields) WithSubmission(period, pid string) LogFields {
	f[FieldPeriod] = period
	f[FieldPID] = pid
	return f
}

// WithReceipt adds the extracted reference number and amount
func (f LogFields) WithReceipt(orNumber, amountPaid string) LogFields {
	f[FieldORNumber] = orNumber
	f[FieldAmountPaid] = amountPaid
	return f
}

// WithLedger adds ledger identity fields
func (f LogFields) WithLedger(title, id string) LogFields {
	f[FieldLedgerTitle] = title
	if id != "" {
		f[FieldLedgerID] = id
	}
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, query, userAgent, referer string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	f[FieldUserAgent] = userAgent
	f[FieldReferer] = referer
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
