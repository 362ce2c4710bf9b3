// Package agent implements the line-delimited JSON command protocol
// (§4.J) the engine speaks over stdin/stdout: a ready handshake followed
// by one JSON request per line, one JSON response per line.
package agent

import "github.com/killianrms/vstore/internal/delta"

// Request is one line of client input.
type Request struct {
	Cmd  string `json:"cmd"`
	Path string `json:"path,omitempty"`
	// Data is base64 content for save_version, decoded automatically by
	// encoding/json since it targets a []byte field.
	Data      []byte       `json:"data,omitempty"`
	Delta     *delta.Delta `json:"delta,omitempty"`
	Timestamp string       `json:"timestamp,omitempty"`
	Dest      string       `json:"dest,omitempty"`
}

// Response is one line of server output. Only the fields relevant to the
// command being answered are populated; the rest are omitted.
type Response struct {
	Status    string      `json:"status,omitempty"`
	Pong      bool        `json:"pong,omitempty"`
	Error     string      `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Path      string      `json:"path,omitempty"`
	Signature interface{} `json:"signature,omitempty"`
	Stats     interface{} `json:"stats,omitempty"`
	Pruned    int         `json:"pruned,omitempty"`
	Version   string      `json:"version,omitempty"`
}

const readyVersion = "2.0"

func readyHandshake() Response {
	return Response{Status: "ready", Version: readyVersion}
}
