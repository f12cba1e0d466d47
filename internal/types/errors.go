package types

// Error codes returned in ErrorBody.Code.
const (
	CodeInvalidRequest      = "REQUEST_400"
	CodeAcquisitionBusy     = "ACQUISITION_409"
	CodeInsufficientSamples = "ACQUISITION_422"
	CodeFieldBus            = "FIELDBUS_502"
	CodeAcquisitionFailed   = "ACQUISITION_500"
	CodeScanInvalid         = "SCAN_400"
	CodeScanNotFound        = "SCAN_404"
	CodeStorage             = "STORAGE_500"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}
