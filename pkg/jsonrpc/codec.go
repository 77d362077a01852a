package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotReply is returned when a decoded value has neither result nor error.
var ErrNotReply = errors.New("jsonrpc: value is not a reply")

// Classify inspects a decoded JSON object. It returns a *Request or a
// *Notification when the object is well formed, and otherwise an
// invalid-request reply keyed to whatever id could be extracted.
func Classify(obj map[string]any) (Message, *ErrorResponse) {
	rawID, hasID := obj["id"]
	id, idOK := ParseID(rawID)

	invalid := func(reason string) (Message, *ErrorResponse) {
		return nil, NewErrorResponse(id, NewInvalidRequest(reason))
	}

	if v, _ := obj["jsonrpc"].(string); v != Version {
		return invalid(`"jsonrpc" must be "2.0"`)
	}
	method, _ := obj["method"].(string)
	if method == "" {
		return invalid(`"method" must be a non-empty string`)
	}
	var params map[string]any
	switch p := obj["params"].(type) {
	case nil:
	case map[string]any:
		params = p
	default:
		return invalid(`"params" must be an object`)
	}

	if !hasID {
		return &Notification{JSONRPC: Version, Method: method, Params: params}, nil
	}
	if !idOK {
		return invalid(`"id" must be a string or a number`)
	}
	return &Request{JSONRPC: Version, ID: id, Method: method, Params: params}, nil
}

// Encode serializes a message for the wire.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("jsonrpc: nil message")
	}
	return json.Marshal(msg)
}

// DecodeMessage parses an outbound-shaped message: a request, a notification
// or a batch of them. Used by transports that deliver bytes to a peer.
func DecodeMessage(data []byte) (Message, error) {
	v, err := DecodeValue(data)
	if err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case map[string]any:
		msg, invalid := Classify(t)
		if invalid != nil {
			return nil, invalid.Error
		}
		return msg, nil
	case []any:
		batch := make(Batch, 0, len(t))
		for _, el := range t {
			obj, ok := el.(map[string]any)
			if !ok {
				return nil, NewInvalidRequest("batch element is not an object")
			}
			msg, invalid := Classify(obj)
			if invalid != nil {
				return nil, invalid.Error
			}
			batch = append(batch, msg)
		}
		return batch, nil
	}
	return nil, NewParseError("message must be an object or an array")
}

// DecodeReply parses the answer to a send: a single reply, a batch reply, or
// nothing (empty input or JSON null) for notifications.
func DecodeReply(data []byte) (Message, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	v, err := DecodeValue(data)
	if err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []any:
		out := make(BatchReply, 0, len(t))
		for i, el := range t {
			r, err := ReplyFromValue(el)
			if err != nil {
				return nil, fmt.Errorf("batch element %d: %w", i, err)
			}
			out = append(out, r)
		}
		return out, nil
	default:
		return ReplyFromValue(t)
	}
}

// ReplyFromValue converts a generically decoded object into a Reply.
func ReplyFromValue(v any) (Reply, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotReply
	}
	id, _ := ParseID(obj["id"])
	if rawErr, ok := obj["error"]; ok && rawErr != nil {
		e, err := errorFromValue(rawErr)
		if err != nil {
			return nil, err
		}
		return NewErrorResponse(id, e), nil
	}
	result, ok := obj["result"]
	if !ok {
		return nil, ErrNotReply
	}
	return NewResponse(id, result)
}

func errorFromValue(v any) (*Error, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("jsonrpc: error member must be an object")
	}
	e := &Error{Data: obj["data"]}
	switch c := obj["code"].(type) {
	case json.Number:
		n, err := c.Int64()
		if err != nil {
			return nil, fmt.Errorf("jsonrpc: error code must be an integer: %w", err)
		}
		e.Code = int(n)
	case float64:
		e.Code = int(c)
	default:
		return nil, fmt.Errorf("jsonrpc: error code must be an integer")
	}
	e.Message, _ = obj["message"].(string)
	return e, nil
}
