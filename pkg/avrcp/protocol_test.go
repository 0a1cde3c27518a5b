package avrcp

import "testing"

func TestValidateEventEnvelope(t *testing.T) {
	ev, err := NewEvent(EventTrackChanged, "aa:bb:cc:dd:ee:ff", TrackChangedBody{})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	if err := ValidateEventEnvelope(ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ev.Address = ""
	if err := ValidateEventEnvelope(ev); err == nil {
		t.Fatalf("expected address error")
	}
	if err := ValidateEventEnvelope(EventEnvelope{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidateCtlEnvelope(t *testing.T) {
	cmd := CtlEnvelope{ID: "id", Type: CtlDevicesList, From: "tester"}
	if err := ValidateCtlEnvelope(cmd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cmd.From = ""
	if err := ValidateCtlEnvelope(cmd); err == nil {
		t.Fatalf("expected from error")
	}
	if err := ValidateCtlEnvelope(CtlEnvelope{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestTopics(t *testing.T) {
	if got := TopicStackEvents("avrcp/v1"); got != "avrcp/v1/stack/evt" {
		t.Fatalf("unexpected topic %s", got)
	}
	if got := TopicStackCommands("avrcp/v1", "aa:bb:cc:dd:ee:ff"); got != "avrcp/v1/stack/aa:bb:cc:dd:ee:ff/cmd" {
		t.Fatalf("unexpected topic %s", got)
	}
	if got := TopicReply("avrcp/v1", "cli-1"); got != "avrcp/v1/reply/cli-1" {
		t.Fatalf("unexpected topic %s", got)
	}
	if got := TopicNowPlaying("avrcp/v1"); got != "avrcp/v1/controller/nowplaying" {
		t.Fatalf("unexpected topic %s", got)
	}
}
