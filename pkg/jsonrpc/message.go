// Package jsonrpc defines the JSON-RPC 2.0 subset spoken between a frontend
// and a backend: object-shaped params and results, string or number ids, and
// batches as a peer-level extension.
package jsonrpc

import "encoding/json"

// Version is the only accepted value of the "jsonrpc" member.
const Version = "2.0"

// Message is any value that can travel on the wire.
type Message interface {
	message()
}

// Reply is a message answering a request: a Response or an ErrorResponse.
type Reply interface {
	Message
	ReplyID() ID
	reply()
}

// Request expects a Reply correlated by ID.
type Request struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      ID             `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

// Notification is fire-and-forget; it never yields a reply.
type Notification struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

// Response is a successful reply. Result is always an object.
type Response struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      ID             `json:"id"`
	Result  map[string]any `json:"result"`
}

// ErrorResponse is a failed reply. ID is null when the request id could not
// be determined.
type ErrorResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      ID     `json:"id"`
	Error   *Error `json:"error"`
}

// Batch is an outbound array of requests and notifications.
type Batch []Message

// BatchReply is the aggregate answer to a batch, in completion order.
type BatchReply []Reply

func (*Request) message()       {}
func (*Notification) message()  {}
func (*Response) message()      {}
func (*ErrorResponse) message() {}
func (Batch) message()          {}
func (BatchReply) message()     {}

func (r *Response) ReplyID() ID      { return r.ID }
func (r *ErrorResponse) ReplyID() ID { return r.ID }
func (*Response) reply()             {}
func (*ErrorResponse) reply()        {}

func (r *Response) MarshalJSON() ([]byte, error) {
	type wire Response
	out := wire(*r)
	if out.JSONRPC == "" {
		out.JSONRPC = Version
	}
	if out.Result == nil {
		out.Result = map[string]any{}
	}
	return json.Marshal(out)
}

// NewRequest builds a request, normalizing params to an object.
func NewRequest(id ID, method string, params any) (*Request, error) {
	obj, err := NormalizeObject(params)
	if err != nil {
		return nil, err
	}
	return &Request{JSONRPC: Version, ID: id, Method: method, Params: obj}, nil
}

// NewNotification builds a notification, normalizing params to an object.
func NewNotification(method string, params any) (*Notification, error) {
	obj, err := NormalizeObject(params)
	if err != nil {
		return nil, err
	}
	return &Notification{JSONRPC: Version, Method: method, Params: obj}, nil
}

// NewResponse builds a success reply. An absent result becomes {}.
func NewResponse(id ID, result any) (*Response, error) {
	obj, err := NormalizeResult(result)
	if err != nil {
		return nil, err
	}
	return &Response{JSONRPC: Version, ID: id, Result: obj}, nil
}

func NewErrorResponse(id ID, err *Error) *ErrorResponse {
	if err == nil {
		err = NewInternalError(nil)
	}
	return &ErrorResponse{JSONRPC: Version, ID: id, Error: err}
}

// ReplyFor returns an error reply when failure is set and a success reply
// carrying result otherwise.
func ReplyFor(id ID, result any, failure *Error) (Reply, error) {
	if failure != nil {
		return NewErrorResponse(id, failure), nil
	}
	return NewResponse(id, result)
}

// ResultOf returns the result object of a success reply, or nil for an
// error reply.
func ResultOf(r Reply) map[string]any {
	if resp, ok := r.(*Response); ok {
		if resp.Result == nil {
			return map[string]any{}
		}
		return resp.Result
	}
	return nil
}

// ErrorOf returns the error object of an error reply, or nil.
func ErrorOf(r Reply) *Error {
	if resp, ok := r.(*ErrorResponse); ok {
		return resp.Error
	}
	return nil
}
