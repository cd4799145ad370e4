package log

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldUserAgent     = "user_agent"
	FieldSuccess       = "success"
	FieldError         = "error"
	FieldOperation     = "operation"
	FieldPaymentID     = "payment_id"
	FieldProvider      = "provider"
	FieldSource        = "source"
	FieldAmountKopecks = "amount_kopecks"
	FieldSheetsRef     = "sheets_ref"
	FieldChatID        = "chat_id"
)

// Components defines standard component names
const (
	ComponentApp      = "app"
	ComponentHTTP     = "http"
	ComponentDonation = "donation"
	ComponentLedger   = "ledger"
	ComponentPayment  = "payment"
	ComponentBot      = "bot"
	ComponentAMQP     = "amqp"
	ComponentWorker   = "worker"
	ComponentSheets   = "sheets"
)
