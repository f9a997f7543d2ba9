package protocol

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewMessage(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    interface{}
		wantErr bool
	}{
		{
			name:    "speak message",
			msgType: TypeSpeak,
			data:    SpeakData{ID: "u1", Text: "hello", Lang: "en-US", Rate: 0.9, Pitch: 1},
		},
		{
			name:    "recognize message",
			msgType: TypeRecognize,
			data:    RecognizeData{Action: RecognizeStart, Lang: "en-US", Interim: true},
		},
		{
			name:    "nil data",
			msgType: TypePing,
			data:    nil,
		},
		{
			name:    "unmarshalable data",
			msgType: TypeState,
			data:    map[string]any{"bad": make(chan int)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewMessage(tt.msgType, tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewMessage() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if msg.Type != tt.msgType {
				t.Errorf("NewMessage() type = %v, want %v", msg.Type, tt.msgType)
			}
			if msg.Timestamp == 0 {
				t.Error("NewMessage() timestamp should be set")
			}
			if tt.data == nil && msg.Data != nil {
				t.Errorf("NewMessage() data = %s, want nil", msg.Data)
			}
		})
	}
}

func TestMessageRoundTrip(t *testing.T) {
	original := SpeakData{
		ID:    "utt-1",
		Text:  "How was your weekend?",
		Voice: "Samantha",
		Lang:  "en-US",
		Rate:  0.9,
		Pitch: 1.0,
	}

	msg, err := NewSpeakMessage(original)
	if err != nil {
		t.Fatalf("NewSpeakMessage() error = %v", err)
	}

	bytes, err := msg.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}

	parsed, err := ParseMessage(bytes)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	if parsed.Type != TypeSpeak {
		t.Errorf("Type = %v, want %v", parsed.Type, TypeSpeak)
	}

	var got SpeakData
	if err := parsed.ParseData(&got); err != nil {
		t.Fatalf("ParseData() error = %v", err)
	}
	if got != original {
		t.Errorf("ParseData() = %+v, want %+v", got, original)
	}
}

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    MessageType
		wantErr bool
	}{
		{"recognition result", `{"type":"recognition","data":{"event":"result","transcript":"hi","final":true}}`, TypeRecognition, false},
		{"command", `{"type":"command","data":{"action":"repeat"}}`, TypeCommand, false},
		{"ping without data", `{"type":"ping"}`, TypePing, false},
		{"missing type", `{"data":{}}`, "", true},
		{"invalid json", `{"type":`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseMessage([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && msg.Type != tt.want {
				t.Errorf("Type = %v, want %v", msg.Type, tt.want)
			}
		})
	}
}

func TestParseDataFromPage(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"recognition","ts":1,"data":{"event":"error","error":"no-speech"}}`))
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}

	var rec RecognitionData
	if err := msg.ParseData(&rec); err != nil {
		t.Fatalf("ParseData() error = %v", err)
	}
	if rec.Event != RecognitionError {
		t.Errorf("Event = %q, want %q", rec.Event, RecognitionError)
	}
	if rec.Error != "no-speech" {
		t.Errorf("Error = %q, want no-speech", rec.Error)
	}

	empty := &Message{Type: TypePing}
	if err := empty.ParseData(&rec); err != nil {
		t.Errorf("ParseData() on empty data error = %v", err)
	}
}

func TestRecognizeMessage(t *testing.T) {
	msg, err := NewRecognizeMessage(RecognizeStart, "en-US")
	if err != nil {
		t.Fatalf("NewRecognizeMessage() error = %v", err)
	}

	var data RecognizeData
	if err := msg.ParseData(&data); err != nil {
		t.Fatalf("ParseData() error = %v", err)
	}
	if data.Action != RecognizeStart || data.Lang != "en-US" {
		t.Errorf("data = %+v", data)
	}
	if !data.Interim {
		t.Error("Interim should be true")
	}
	if data.Continuous {
		t.Error("Continuous should be false")
	}
}

func TestAudioMessage(t *testing.T) {
	audio := []byte{0x49, 0x44, 0x33, 0x04} // ID3 header

	msg, err := NewAudioMessage("u2", "audio/mpeg", audio, "Hello")
	if err != nil {
		t.Fatalf("NewAudioMessage() error = %v", err)
	}
	if msg.Type != TypeAudio {
		t.Errorf("Type = %v, want %v", msg.Type, TypeAudio)
	}

	var data AudioData
	if err := msg.ParseData(&data); err != nil {
		t.Fatalf("ParseData() error = %v", err)
	}
	if data.ID != "u2" || data.Encoding != "audio/mpeg" {
		t.Errorf("data = %+v", data)
	}

	decoded, err := DecodeAudio(&data)
	if err != nil {
		t.Fatalf("DecodeAudio() error = %v", err)
	}
	if string(decoded) != string(audio) {
		t.Errorf("decoded = %v, want %v", decoded, audio)
	}
}

func TestSpeakCancelAndError(t *testing.T) {
	cancel, err := NewSpeakCancelMessage("u3")
	if err != nil {
		t.Fatalf("NewSpeakCancelMessage() error = %v", err)
	}
	var c SpeakCancelData
	if err := cancel.ParseData(&c); err != nil || c.ID != "u3" {
		t.Errorf("cancel data = %+v, err = %v", c, err)
	}

	errMsg, err := NewErrorMessage("bad_request", "unknown message type")
	if err != nil {
		t.Fatalf("NewErrorMessage() error = %v", err)
	}
	var e ErrorData
	if err := errMsg.ParseData(&e); err != nil {
		t.Fatalf("ParseData() error = %v", err)
	}
	if e.Code != "bad_request" || e.Message != "unknown message type" {
		t.Errorf("error data = %+v", e)
	}
}

func TestPingPong(t *testing.T) {
	ping, err := NewPingMessage("p1")
	if err != nil {
		t.Fatalf("NewPingMessage() error = %v", err)
	}

	var pd PingData
	if err := ping.ParseData(&pd); err != nil {
		t.Fatalf("ParseData() error = %v", err)
	}

	pd.Timestamp = time.Now().Add(-50 * time.Millisecond).UnixMilli()
	pong, err := NewPongMessage(&pd)
	if err != nil {
		t.Fatalf("NewPongMessage() error = %v", err)
	}

	var data PongData
	if err := pong.ParseData(&data); err != nil {
		t.Fatalf("ParseData() error = %v", err)
	}
	if data.ID != "p1" {
		t.Errorf("ID = %q, want p1", data.ID)
	}
	if data.LatencyMs < 50 {
		t.Errorf("LatencyMs = %d, want >= 50", data.LatencyMs)
	}
}

func TestVoicesJSON(t *testing.T) {
	raw := `{"supported":true,"voices":[{"id":"com.apple.samantha","name":"Samantha","lang":"en-US","default":true}]}`

	var data VoicesData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !data.Supported || len(data.Voices) != 1 {
		t.Fatalf("data = %+v", data)
	}
	if v := data.Voices[0]; v.Name != "Samantha" || !v.Default {
		t.Errorf("voice = %+v", v)
	}
}
