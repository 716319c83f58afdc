// Package protocol defines the JSON envelope protocol spoken with the PTY
// bridge over the websocket channel.
//
// Every envelope carries a "type" tag that determines its remaining shape.
// Decoding is closed over the known server kinds: an unrecognized tag maps
// to KindUnknown (ignored by callers for forward compatibility) and a frame
// that is not a JSON object degrades to a raw output envelope, matching a
// bridge that falls back to raw passthrough.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind tags one envelope on the wire.
type Kind string

// Client → server kinds.
const (
	KindConnect    Kind = "connect"
	KindInput      Kind = "input"
	KindResize     Kind = "resize"
	KindDisconnect Kind = "disconnect"
)

// Server → client kinds.
const (
	KindConnected    Kind = "connected"
	KindOutput       Kind = "output"
	KindError        Kind = "error"
	KindDisconnected Kind = "disconnected"
	// KindUnknown marks a well-formed envelope whose tag is not recognized.
	KindUnknown Kind = ""
)

// Credentials identify the remote host and account a session connects to.
// The descriptor is immutable once a session is created; engines copy it at
// connect time and only read it.
type Credentials struct {
	Hostname string `json:"hostname"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
}

// Addr returns the host:port form of the credentials.
func (c Credentials) Addr() string {
	return fmt.Sprintf("%s:%d", c.Hostname, c.Port)
}

// Identity is the connection identity the bridge echoes back in a
// "connected" envelope.
type Identity struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
}

// ServerMessage is the decoded form of one server → client frame. Exactly
// one variant is populated, selected by Kind.
type ServerMessage struct {
	Kind Kind

	// Identity is set for KindConnected.
	Identity Identity
	// Data is set for KindOutput. For a raw (non-JSON) frame it holds the
	// whole frame verbatim.
	Data string
	// Message is set for KindError.
	Message string
	// Raw reports that the frame was not a JSON envelope and was degraded
	// to output passthrough.
	Raw bool
}

// serverEnvelope is the superset of fields any server envelope may carry.
type serverEnvelope struct {
	Type     string `json:"type"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Data     string `json:"data"`
	Content  string `json:"content"`
	Message  string `json:"message"`
}

// DecodeServer decodes one inbound frame. It never fails: malformed frames
// come back as raw output, unknown tags as KindUnknown.
func DecodeServer(frame []byte) ServerMessage {
	text := string(frame)
	if !strings.HasPrefix(strings.TrimSpace(text), "{") {
		return ServerMessage{Kind: KindOutput, Data: text, Raw: true}
	}

	var env serverEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return ServerMessage{Kind: KindOutput, Data: text, Raw: true}
	}

	switch Kind(env.Type) {
	case KindConnected:
		return ServerMessage{
			Kind:     KindConnected,
			Identity: Identity{Host: env.Host, Port: env.Port, Username: env.Username},
		}
	case KindOutput:
		// The bridge sends both "data" and "content"; prefer "data".
		data := env.Data
		if data == "" {
			data = env.Content
		}
		return ServerMessage{Kind: KindOutput, Data: data}
	case KindError:
		return ServerMessage{Kind: KindError, Message: env.Message}
	case KindDisconnected:
		return ServerMessage{Kind: KindDisconnected}
	default:
		return ServerMessage{Kind: KindUnknown}
	}
}

type connectEnvelope struct {
	Type        string      `json:"type"`
	Credentials Credentials `json:"credentials"`
	ColWidth    int         `json:"col_width"`
	RowHeight   int         `json:"row_height"`
}

type inputEnvelope struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

type resizeEnvelope struct {
	Type   string `json:"type"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type bareEnvelope struct {
	Type string `json:"type"`
}

// EncodeConnect builds the handshake envelope carrying credentials and the
// initial terminal dimensions.
func EncodeConnect(creds Credentials, cols, rows int) ([]byte, error) {
	return json.Marshal(connectEnvelope{
		Type:        string(KindConnect),
		Credentials: creds,
		ColWidth:    cols,
		RowHeight:   rows,
	})
}

// EncodeInput builds an input envelope carrying raw keystrokes or paste data.
func EncodeInput(data string) ([]byte, error) {
	return json.Marshal(inputEnvelope{Type: string(KindInput), Data: data})
}

// EncodeResize builds a PTY dimension-change envelope.
func EncodeResize(width, height int) ([]byte, error) {
	return json.Marshal(resizeEnvelope{Type: string(KindResize), Width: width, Height: height})
}

// EncodeDisconnect builds the envelope asking the bridge to tear down the
// remote PTY.
func EncodeDisconnect() ([]byte, error) {
	return json.Marshal(bareEnvelope{Type: string(KindDisconnect)})
}
