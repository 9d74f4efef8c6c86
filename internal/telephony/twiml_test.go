package telephony

import (
	"strings"
	"testing"
	"time"
)

func testRenderer() TwiMLRenderer {
	return TwiMLRenderer{
		SipDomain:            "agents.sip.twilio.com",
		MessageBaseURL:       "https://cdn.example.com/voice/",
		RecordingCallbackURL: "https://api.example.com/webhooks/voice/recording",
	}
}

func TestRenderDialRingsSipAndNumbers(t *testing.T) {
	res := NewResponse(Dial{
		CallerID:     "+15550001111",
		Timeout:      25 * time.Second,
		ActionURL:    "https://api.example.com/post-dial?commId=c1",
		CallbackURL:  "https://api.example.com/dial-callback?commId=c1",
		Headers:      map[string]string{"X-CommId": "c1"},
		SipUsernames: []string{"alice"},
		Numbers:      []string{"+15552223333"},
	})
	out, err := testRenderer().Render(res)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, want := range []string{
		`timeout="25"`,
		`callerId="+15550001111"`,
		"sip:alice@agents.sip.twilio.com?X-CommId=c1",
		"<Number",
		"+15552223333",
		`statusCallbackEvent="initiated ringing answered completed"`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in xml: %s", want, out)
		}
	}
}

func TestRenderDialRequiresTarget(t *testing.T) {
	if _, err := testRenderer().Render(NewResponse(Dial{Timeout: time.Second})); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRenderVoicemailRecordsWithCommID(t *testing.T) {
	out, err := testRenderer().Render(VoicemailResponse(MessageAfterHours, "c9"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(out, "https://cdn.example.com/voice/after_hours.mp3") {
		t.Fatalf("expected after hours prompt: %s", out)
	}
	if !strings.Contains(out, "recording?commId=c9") {
		t.Fatalf("expected recording callback with comm id: %s", out)
	}
	if !strings.Contains(out, "<Hangup") {
		t.Fatalf("expected hangup: %s", out)
	}
}

func TestRenderQueueHold(t *testing.T) {
	res := NewResponse(
		Gather{
			ActionURL: "https://api.example.com/digits",
			NumDigits: 1,
			Prompt:    []Action{Message{Kind: MessageCallQueueWelcome}, Play{Sound: SoundHoldMusic, Loop: 10}},
		},
		Play{Sound: SoundHoldMusic},
	)
	out, err := testRenderer().Render(res)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(out, `numDigits="1"`) || !strings.Contains(out, `loop="10"`) || !strings.Contains(out, `loop="0"`) {
		t.Fatalf("unexpected xml: %s", out)
	}
}

func TestRenderConference(t *testing.T) {
	out, err := testRenderer().Render(NewResponse(Conference{Room: "room_c1", EndOnExit: true, CallbackURL: "https://api.example.com/conf"}))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(out, "room_c1") || !strings.Contains(out, `endConferenceOnExit="true"`) {
		t.Fatalf("unexpected xml: %s", out)
	}
	if _, err := testRenderer().Render(NewResponse(Conference{})); err == nil {
		t.Fatalf("expected error for empty room")
	}
}

func TestRenderEmptyResponse(t *testing.T) {
	out, err := testRenderer().Render(Response{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(out, "<Response") {
		t.Fatalf("expected response element: %s", out)
	}
}

func TestSipURIHeadersSorted(t *testing.T) {
	got := SipURI("bob", "d.example", map[string]string{"X-B": "2", "X-A": "1"})
	if got != "sip:bob@d.example?X-A=1&X-B=2" {
		t.Fatalf("unexpected uri %q", got)
	}
	if got := SipURI("bob@other", "d.example", nil); got != "sip:bob@other" {
		t.Fatalf("unexpected uri %q", got)
	}
}
