package response

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Response is the envelope every endpoint answers with, success or failure.
// Data and Error are mutually exclusive; Metadata is always present.
type Response struct {
	Data       interface{} `json:"data"`
	Error      *ErrorBody  `json:"error,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Metadata   Metadata    `json:"metadata"`
}

// ErrorBody carries a stable machine code, a human message, and optional
// per-field validation details.
type ErrorBody struct {
	Code    ErrCode           `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Pagination describes the slice of a collection a list endpoint returned.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

// Metadata ties a response to its request for tracing.
type Metadata struct {
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// Success sends data with the given status.
func Success(c *gin.Context, status int, data interface{}) {
	write(c, status, Response{Data: data})
}

// SuccessWithPagination sends one page of a collection.
func SuccessWithPagination(c *gin.Context, status int, data interface{}, p *Pagination) {
	write(c, status, Response{Data: data, Pagination: p})
}

// Fail sends an error identified by its code, with the code's stock message.
func Fail(c *gin.Context, status int, code ErrCode) {
	write(c, status, Response{Error: &ErrorBody{Code: code, Message: GetMessage(code)}})
}

// FailWithMessage sends an error with a caller-supplied message, for cases
// where the stock message is not specific enough.
func FailWithMessage(c *gin.Context, status int, code ErrCode, message string) {
	write(c, status, Response{Error: &ErrorBody{Code: code, Message: message}})
}

// FailWithFields sends an error with per-field validation messages.
func FailWithFields(c *gin.Context, status int, code ErrCode, fields map[string]string) {
	write(c, status, Response{Error: &ErrorBody{Code: code, Message: GetMessage(code), Fields: fields}})
}

// AbortFail stops the handler chain and sends an error. Middleware uses it
// so a rejected request never reaches the endpoint.
func AbortFail(c *gin.Context, status int, code ErrCode) {
	c.Abort()
	Fail(c, status, code)
}

func write(c *gin.Context, status int, resp Response) {
	resp.Metadata = Metadata{
		RequestID: requestID(c),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	c.JSON(status, resp)
}

func requestID(c *gin.Context) string {
	if v, ok := c.Get(ContextKeyRequestID); ok {
		if id, ok := v.(string); ok && id != "" {
			return id
		}
	}
	// No middleware on this route (unit tests hit handlers directly).
	return uuid.NewString()
}
