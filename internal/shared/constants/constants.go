package constants

const (
	// HTTP Headers
	HeaderAuthorization = "Authorization"
	HeaderXRequestID    = "X-Request-ID"

	// Context keys
	ContextKeySubjectID = "subject_id"
	ContextKeyRequestID = "request_id"

	// Route parameters
	ParamResourceID = "resource_id"
	ParamSectionID  = "section_id"
	ParamContentID  = "content_id"
	ParamHandle     = "handle"
)
