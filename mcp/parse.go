package mcp

import "encoding/json"

// ParseRequest decodes one raw JSON-RPC message. A decode failure returns a
// ParseError; envelope-level validation happens in Handle.
func ParseRequest(data []byte) (*Request, *Error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, NewParseError("invalid JSON: " + err.Error())
	}
	return &req, nil
}
