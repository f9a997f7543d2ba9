package web

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/speakfluent/pkg/inference"
	"github.com/teslashibe/speakfluent/pkg/progress"
	"github.com/teslashibe/speakfluent/pkg/protocol"
	"github.com/teslashibe/speakfluent/pkg/tutor"
)

const validFeedback = `{
  "correctedText": "I went to the park yesterday.",
  "grammar": 8,
  "vocabulary": 7,
  "pronunciation": 6,
  "fluency": 7,
  "suggestions": ["Use the past tense for finished actions"],
  "practiceTips": [
    {"title": "Past tense verbs", "description": "Finished actions take the past tense.", "example": "I went", "focusArea": "grammar"}
  ]
}`

const parkReply = "Nice! What did you do at the park?"

func newTestServer(t *testing.T, llm inference.Provider, opts ...Option) *Server {
	t.Helper()
	s, err := NewServer(llm, opts...)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	return s
}

// listen serves the app on a free local port and returns its host:port.
func listen(t *testing.T, s *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go s.App().Listener(ln)
	return ln.Addr().String()
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, data
}

func TestNewServerRequiresProvider(t *testing.T) {
	if _, err := NewServer(nil); err == nil {
		t.Error("NewServer(nil) should fail")
	}
}

func TestHealthAndIndex(t *testing.T) {
	s := newTestServer(t, inference.NewMock(), WithVersion("1.2.3"))

	resp, body := doJSON(t, s.App(), "GET", "/health", "")
	if resp.StatusCode != 200 {
		t.Fatalf("Status = %d, want 200", resp.StatusCode)
	}
	var health map[string]any
	if err := json.Unmarshal(body, &health); err != nil {
		t.Fatal(err)
	}
	if health["status"] != "ok" || health["version"] != "1.2.3" || health["llm"] != "mock" || health["engine"] != EngineBrowser {
		t.Errorf("health = %v", health)
	}

	resp, body = doJSON(t, s.App(), "GET", "/", "")
	if resp.StatusCode != 200 {
		t.Fatalf("index Status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(string(body), "SpeakFluent") || !strings.Contains(string(body), "/ws/session") {
		t.Error("index should render the practice page")
	}
}

func TestWebSocketRouteRequiresUpgrade(t *testing.T) {
	s := newTestServer(t, inference.NewMock())

	resp, _ := doJSON(t, s.App(), "GET", "/ws/session", "")
	if resp.StatusCode != fiber.StatusUpgradeRequired {
		t.Errorf("Status = %d, want 426", resp.StatusCode)
	}
}

func TestSessionCRUD(t *testing.T) {
	s := newTestServer(t, inference.NewMock())
	app := s.App()

	resp, body := doJSON(t, app, "POST", "/api/sessions", "")
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("create Status = %d", resp.StatusCode)
	}
	var info SessionInfo
	if err := json.Unmarshal(body, &info); err != nil {
		t.Fatal(err)
	}
	if info.ID == "" || info.Engine != EngineBrowser || info.Level != progress.Beginner {
		t.Errorf("info = %+v", info)
	}

	_, body = doJSON(t, app, "GET", "/api/sessions", "")
	var list struct {
		Sessions []SessionInfo `json:"sessions"`
		Count    int           `json:"count"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatal(err)
	}
	if list.Count != 1 || list.Sessions[0].ID != info.ID {
		t.Errorf("list = %+v", list)
	}

	resp, body = doJSON(t, app, "GET", "/api/sessions/"+info.ID, "")
	if resp.StatusCode != 200 {
		t.Fatalf("get Status = %d", resp.StatusCode)
	}
	var detail SessionDetail
	if err := json.Unmarshal(body, &detail); err != nil {
		t.Fatal(err)
	}
	if detail.ID != info.ID || detail.State.RecordingState != "idle" {
		t.Errorf("detail = %+v", detail)
	}

	resp, _ = doJSON(t, app, "DELETE", "/api/sessions/"+info.ID, "")
	if resp.StatusCode != fiber.StatusNoContent {
		t.Errorf("delete Status = %d", resp.StatusCode)
	}

	tests := []struct {
		method, path string
	}{
		{"GET", "/api/sessions/" + info.ID},
		{"DELETE", "/api/sessions/" + info.ID},
		{"POST", "/api/sessions/missing/repeat"},
		{"GET", "/api/sessions/missing/progress"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp, body := doJSON(t, app, tt.method, tt.path, "")
			if resp.StatusCode != fiber.StatusNotFound {
				t.Errorf("Status = %d, want 404", resp.StatusCode)
			}
			if !strings.Contains(string(body), "error") {
				t.Errorf("body = %s, want JSON error", body)
			}
		})
	}
}

func TestTranscriptTurn(t *testing.T) {
	llm := inference.NewScripted(validFeedback, parkReply)
	s := newTestServer(t, llm)
	app := s.App()

	sess := s.Manager().Create()

	resp, body := doJSON(t, app, "POST", "/api/sessions/"+sess.ID+"/transcript", `{"text":"Yesterday I go to the park"}`)
	if resp.StatusCode != 200 {
		t.Fatalf("Status = %d body = %s", resp.StatusCode, body)
	}
	var turn tutor.Turn
	if err := json.Unmarshal(body, &turn); err != nil {
		t.Fatal(err)
	}
	if turn.Kind != tutor.KindPractice || turn.Reply != parkReply {
		t.Errorf("turn = %+v", turn)
	}
	if turn.Feedback == nil || turn.Feedback.Grammar != 8 {
		t.Errorf("feedback = %+v", turn.Feedback)
	}
	if turn.Spoken {
		t.Error("turn should not be spoken without a page")
	}

	_, body = doJSON(t, app, "GET", "/api/sessions/"+sess.ID+"/progress", "")
	var snap progress.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Level != progress.Intermediate {
		t.Errorf("Level = %v, want intermediate", snap.Level)
	}

	_, body = doJSON(t, app, "GET", "/metrics", "")
	if !strings.Contains(string(body), `speakfluent_turns{kind="practice"} 1`) {
		t.Errorf("metrics missing practice turn:\n%s", body)
	}
	if !strings.Contains(string(body), "speakfluent_sessions 1") {
		t.Errorf("metrics missing session gauge:\n%s", body)
	}

	resp, _ = doJSON(t, app, "POST", "/api/sessions/"+sess.ID+"/clear", "")
	if resp.StatusCode != fiber.StatusNoContent {
		t.Errorf("clear Status = %d", resp.StatusCode)
	}
	if n := len(sess.Detail().State.Messages); n != 0 {
		t.Errorf("messages after clear = %d", n)
	}
}

func TestTranscriptValidation(t *testing.T) {
	s := newTestServer(t, inference.NewMock())
	sess := s.Manager().Create()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"blank text", `{"text":"   "}`, fiber.StatusBadRequest},
		{"invalid json", `{"text":`, fiber.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := doJSON(t, s.App(), "POST", "/api/sessions/"+sess.ID+"/transcript", tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("Status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestControlRoutesWithoutPage(t *testing.T) {
	s := newTestServer(t, inference.NewMock())
	sess := s.Manager().Create()
	base := "/api/sessions/" + sess.ID

	tests := []struct {
		path string
		want int
	}{
		{"/capture/start", fiber.StatusConflict},
		{"/capture/stop", fiber.StatusNoContent},
		{"/speech/stop", fiber.StatusNoContent},
		{"/repeat", fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, _ := doJSON(t, s.App(), "POST", base+tt.path, "")
			if resp.StatusCode != tt.want {
				t.Errorf("Status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

// page is a gorilla websocket client standing in for the practice page.
type page struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialPage(t *testing.T, addr, path string) *page {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+path, nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &page{t: t, conn: conn}
}

func (p *page) send(msgType protocol.MessageType, data any) {
	p.t.Helper()
	msg, err := protocol.NewMessage(msgType, data)
	if err != nil {
		p.t.Fatal(err)
	}
	raw, _ := msg.Bytes()
	if err := p.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		p.t.Fatalf("write: %v", err)
	}
}

// collect reads until a message of every wanted type has arrived and
// returns the last one of each.
func (p *page) collect(types ...protocol.MessageType) map[protocol.MessageType]*protocol.Message {
	p.t.Helper()
	want := make(map[protocol.MessageType]bool, len(types))
	for _, tp := range types {
		want[tp] = true
	}
	got := make(map[protocol.MessageType]*protocol.Message)

	p.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for len(want) > 0 {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			p.t.Fatalf("waiting for %v: %v", types, err)
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			p.t.Fatalf("parse: %v", err)
		}
		got[msg.Type] = msg
		delete(want, msg.Type)
	}
	return got
}

func TestSessionSocketTurn(t *testing.T) {
	s := newTestServer(t, inference.NewScripted(validFeedback, parkReply))
	addr := listen(t, s)

	p := dialPage(t, addr, "/ws/session/learner-1")

	hello := p.collect(protocol.TypeSession, protocol.TypeState, protocol.TypeProgress)
	var sd protocol.SessionData
	if err := hello[protocol.TypeSession].ParseData(&sd); err != nil {
		t.Fatal(err)
	}
	if sd.ID != "learner-1" || sd.Engine != EngineBrowser {
		t.Errorf("session = %+v", sd)
	}

	p.send(protocol.TypeVoices, protocol.VoicesData{
		Supported: true,
		Voices:    []protocol.VoiceData{{ID: "samantha", Name: "Samantha Female", Lang: "en-US"}},
	})

	p.send(protocol.TypeCommand, protocol.CommandData{Action: protocol.ActionStartCapture})
	var rd protocol.RecognizeData
	if err := p.collect(protocol.TypeRecognize)[protocol.TypeRecognize].ParseData(&rd); err != nil {
		t.Fatal(err)
	}
	if rd.Action != protocol.RecognizeStart || rd.Lang != "en-US" || !rd.Interim {
		t.Errorf("recognize = %+v", rd)
	}

	p.send(protocol.TypeRecognition, protocol.RecognitionData{Event: protocol.RecognitionResult, Transcript: "Yesterday I go"})
	p.send(protocol.TypeRecognition, protocol.RecognitionData{Event: protocol.RecognitionResult, Transcript: "Yesterday I go to the park", Final: true})

	got := p.collect(protocol.TypeSpeak, protocol.TypeTurn)
	var speak protocol.SpeakData
	if err := got[protocol.TypeSpeak].ParseData(&speak); err != nil {
		t.Fatal(err)
	}
	if speak.Text != parkReply || speak.Voice != "samantha" || speak.Rate != 0.9 {
		t.Errorf("speak = %+v", speak)
	}

	p.send(protocol.TypeSynthesis, protocol.SynthesisData{Event: protocol.SynthesisStart, ID: speak.ID})
	p.send(protocol.TypeSynthesis, protocol.SynthesisData{Event: protocol.SynthesisEnd, ID: speak.ID})

	p.send(protocol.TypePing, protocol.PingData{ID: "p1", Timestamp: time.Now().UnixMilli()})
	var pong protocol.PongData
	if err := p.collect(protocol.TypePong)[protocol.TypePong].ParseData(&pong); err != nil {
		t.Fatal(err)
	}
	if pong.ID != "p1" {
		t.Errorf("pong = %+v", pong)
	}

	p.send("bogus", nil)
	var ed protocol.ErrorData
	if err := p.collect(protocol.TypeError)[protocol.TypeError].ParseData(&ed); err != nil {
		t.Fatal(err)
	}
	if ed.Code != "unknown_type" {
		t.Errorf("error code = %q, want unknown_type", ed.Code)
	}

	sess, err := s.Manager().Get("learner-1")
	if err != nil {
		t.Fatal(err)
	}
	detail := sess.Detail()
	if n := len(detail.State.Messages); n != 2 {
		t.Errorf("messages = %d, want 2", n)
	}
	// The learner line and the reply are both history entries.
	if detail.Progress.Interactions != 2 {
		t.Errorf("interactions = %d, want 2", detail.Progress.Interactions)
	}
}

func TestSessionSocketTypedTranscript(t *testing.T) {
	s := newTestServer(t, inference.NewScripted(validFeedback, parkReply))
	addr := listen(t, s)

	p := dialPage(t, addr, "/ws/session")
	hello := p.collect(protocol.TypeSession)
	var sd protocol.SessionData
	hello[protocol.TypeSession].ParseData(&sd)
	if sd.ID == "" {
		t.Fatal("session id should be assigned")
	}

	p.send(protocol.TypeTranscript, protocol.TranscriptData{Text: "Yesterday I go to the park"})
	var turn tutor.Turn
	if err := p.collect(protocol.TypeTurn)[protocol.TypeTurn].ParseData(&turn); err != nil {
		t.Fatal(err)
	}
	if turn.Reply != parkReply {
		t.Errorf("reply = %q", turn.Reply)
	}

	p.send(protocol.TypeTranscript, protocol.TranscriptData{Text: "  "})
	var ed protocol.ErrorData
	p.collect(protocol.TypeError)[protocol.TypeError].ParseData(&ed)
	if ed.Code != "bad_request" {
		t.Errorf("error code = %q, want bad_request", ed.Code)
	}
}

func TestSessionSocketDetachStopsCapture(t *testing.T) {
	s := newTestServer(t, inference.NewMock())
	addr := listen(t, s)

	p := dialPage(t, addr, "/ws/session/detach")
	p.collect(protocol.TypeSession)
	p.send(protocol.TypeCommand, protocol.CommandData{Action: protocol.ActionStartCapture})
	p.collect(protocol.TypeRecognize)

	sess, err := s.Manager().Get("detach")
	if err != nil {
		t.Fatal(err)
	}
	p.conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for sess.Connected() || sess.capture.State() != "idle" {
		if time.Now().After(deadline) {
			t.Fatalf("connected = %v capture = %v", sess.Connected(), sess.capture.State())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEventsSocket(t *testing.T) {
	s := newTestServer(t, inference.NewScripted(validFeedback, parkReply))
	addr := listen(t, s)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws/events", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.Events().ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("observer not registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	sess := s.Manager().Create()
	if _, err := sess.Transcript(context.Background(), "Yesterday I go to the park"); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	seen := map[string]int{}
	var order []string
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v (order so far %v)", err, order)
		}
		var ev struct {
			Session string `json:"session"`
			Kind    string `json:"kind"`
		}
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatal(err)
		}
		if ev.Session != sess.ID {
			t.Errorf("session = %q, want %q", ev.Session, sess.ID)
		}
		if _, ok := seen[ev.Kind]; !ok {
			seen[ev.Kind] = len(order)
		}
		order = append(order, ev.Kind)
		if ev.Kind == "turn" {
			break
		}
	}

	for _, kind := range []string{"message", "feedback"} {
		i, ok := seen[kind]
		if !ok {
			t.Errorf("order = %v, want %s before turn", order, kind)
			continue
		}
		if i > seen["turn"] {
			t.Errorf("order = %v, want %s before turn", order, kind)
		}
	}
}

func TestVoicePrefix(t *testing.T) {
	tests := []struct{ lang, want string }{
		{"en-US", "en-"},
		{"EN-gb", "en-"},
		{"fr", "fr-"},
	}
	for _, tt := range tests {
		if got := voicePrefix(tt.lang); got != tt.want {
			t.Errorf("voicePrefix(%q) = %q, want %q", tt.lang, got, tt.want)
		}
	}
}
