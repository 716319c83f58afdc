package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecodeServer_Connected(t *testing.T) {
	msg := DecodeServer([]byte(`{"type":"connected","host":"h1","port":22,"username":"root"}`))
	if msg.Kind != KindConnected {
		t.Fatalf("expected connected, got %q", msg.Kind)
	}
	if msg.Identity.Host != "h1" || msg.Identity.Port != 22 || msg.Identity.Username != "root" {
		t.Errorf("unexpected identity: %+v", msg.Identity)
	}
}

func TestDecodeServer_Output(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  string
	}{
		{"data field", `{"type":"output","data":"ls\r\n"}`, "ls\r\n"},
		{"content alias", `{"type":"output","content":"hello"}`, "hello"},
		{"data wins over content", `{"type":"output","data":"a","content":"b"}`, "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := DecodeServer([]byte(tt.frame))
			if msg.Kind != KindOutput {
				t.Fatalf("expected output, got %q", msg.Kind)
			}
			if msg.Data != tt.want {
				t.Errorf("expected data %q, got %q", tt.want, msg.Data)
			}
			if msg.Raw {
				t.Error("JSON output should not be flagged raw")
			}
		})
	}
}

func TestDecodeServer_Error(t *testing.T) {
	msg := DecodeServer([]byte(`{"type":"error","message":"auth failed"}`))
	if msg.Kind != KindError {
		t.Fatalf("expected error, got %q", msg.Kind)
	}
	if msg.Message != "auth failed" {
		t.Errorf("unexpected message %q", msg.Message)
	}
}

func TestDecodeServer_Disconnected(t *testing.T) {
	msg := DecodeServer([]byte(`{"type":"disconnected"}`))
	if msg.Kind != KindDisconnected {
		t.Fatalf("expected disconnected, got %q", msg.Kind)
	}
}

func TestDecodeServer_UnknownKindIgnored(t *testing.T) {
	msg := DecodeServer([]byte(`{"type":"heartbeat","seq":42}`))
	if msg.Kind != KindUnknown {
		t.Fatalf("expected unknown, got %q", msg.Kind)
	}
}

func TestDecodeServer_NonJSONDegradesToRawOutput(t *testing.T) {
	tests := []string{
		"plain text from the bridge\r\n",
		"{broken json",
		"   { still broken",
	}
	for _, frame := range tests {
		msg := DecodeServer([]byte(frame))
		if msg.Kind != KindOutput {
			t.Fatalf("frame %q: expected output, got %q", frame, msg.Kind)
		}
		if !msg.Raw {
			t.Errorf("frame %q: expected raw flag", frame)
		}
		if msg.Data != frame {
			t.Errorf("frame %q: raw data must be verbatim, got %q", frame, msg.Data)
		}
	}
}

func TestEncodeConnect(t *testing.T) {
	frame, err := EncodeConnect(Credentials{
		Hostname: "h1",
		Port:     2222,
		Username: "alice",
		Password: "s3cret",
	}, 120, 40)
	if err != nil {
		t.Fatalf("EncodeConnect: %v", err)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(frame, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["type"] != "connect" {
		t.Errorf("expected type connect, got %v", got["type"])
	}
	if got["col_width"] != float64(120) || got["row_height"] != float64(40) {
		t.Errorf("unexpected dimensions: %v x %v", got["col_width"], got["row_height"])
	}
	creds, ok := got["credentials"].(map[string]interface{})
	if !ok {
		t.Fatal("missing credentials object")
	}
	if creds["hostname"] != "h1" || creds["port"] != float64(2222) || creds["username"] != "alice" {
		t.Errorf("unexpected credentials: %v", creds)
	}
}

func TestEncodeConnect_PasswordOmittedWhenEmpty(t *testing.T) {
	frame, err := EncodeConnect(Credentials{Hostname: "h1", Port: 22, Username: "u"}, 80, 24)
	if err != nil {
		t.Fatalf("EncodeConnect: %v", err)
	}
	var got struct {
		Credentials map[string]interface{} `json:"credentials"`
	}
	if err := json.Unmarshal(frame, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, present := got.Credentials["password"]; present {
		t.Error("empty password must be omitted from the wire")
	}
}

func TestEncodeInputAndResize(t *testing.T) {
	frame, err := EncodeInput("\r")
	if err != nil {
		t.Fatalf("EncodeInput: %v", err)
	}
	if string(frame) != `{"type":"input","data":"\r"}` {
		t.Errorf("unexpected input frame: %s", frame)
	}

	frame, err = EncodeResize(132, 43)
	if err != nil {
		t.Fatalf("EncodeResize: %v", err)
	}
	if string(frame) != `{"type":"resize","width":132,"height":43}` {
		t.Errorf("unexpected resize frame: %s", frame)
	}

	frame, err = EncodeDisconnect()
	if err != nil {
		t.Fatalf("EncodeDisconnect: %v", err)
	}
	if string(frame) != `{"type":"disconnect"}` {
		t.Errorf("unexpected disconnect frame: %s", frame)
	}
}

func TestCredentialsAddr(t *testing.T) {
	c := Credentials{Hostname: "example.com", Port: 2202}
	if c.Addr() != "example.com:2202" {
		t.Errorf("unexpected addr %q", c.Addr())
	}
}
