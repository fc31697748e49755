package protocol

import (
	"bytes"
	"strings"
	"testing"
)

func TestDecodeMessage(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		checkFn func(t *testing.T, msg *Message)
	}{
		{
			name:  "ping",
			input: `{"type":"onpage-dialog.ping","displayDuration":5}`,
			checkFn: func(t *testing.T, msg *Message) {
				if msg.DisplayDuration == nil || *msg.DisplayDuration != 5 {
					t.Errorf("displayDuration = %v", msg.DisplayDuration)
				}
			},
		},
		{
			name:  "resize",
			input: `{"type":"onpage-dialog.resize","height":320.5}`,
			checkFn: func(t *testing.T, msg *Message) {
				if msg.Height == nil || *msg.Height != 320.5 {
					t.Errorf("height = %v", msg.Height)
				}
			},
		},
		{name: "close", input: `{"type":"onpage-dialog.close"}`},
		{name: "continue", input: `{"type":"onpage-dialog.continue"}`},
		{name: "get", input: `{"type":"onpage-dialog.get"}`},
		{name: "missing type", input: `{}`, wantErr: true},
		{name: "unknown type", input: `{"type":"onpage-dialog.explode"}`, wantErr: true},
		{name: "unknown field", input: `{"type":"onpage-dialog.close","extra":1}`, wantErr: true},
		{name: "ping without duration", input: `{"type":"onpage-dialog.ping"}`, wantErr: true},
		{name: "negative height", input: `{"type":"onpage-dialog.resize","height":-1}`, wantErr: true},
		{name: "not json", input: `ping`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeMessage(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && tt.checkFn != nil {
				tt.checkFn(t, msg)
			}
		})
	}
}

func TestEncodeMessage(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeMessage(&buf, ShowMessage("chromium")); err != nil {
		t.Fatalf("EncodeMessage() = %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != `{"type":"onpage-dialog.show","platform":"chromium"}` {
		t.Errorf("unexpected encoding %s", got)
	}

	buf.Reset()
	if err := EncodeMessage(&buf, HideMessage()); err != nil {
		t.Fatalf("EncodeMessage() = %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != `{"type":"onpage-dialog.hide"}` {
		t.Errorf("unexpected encoding %s", got)
	}

	if err := EncodeMessage(&buf, Message{Type: TypeShow}); err == nil {
		t.Error("show without platform should fail")
	}
}
