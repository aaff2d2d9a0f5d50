package notify

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"
)

// capturePublisher records published job bytes.
type capturePublisher struct {
	published [][]byte
}

func (p *capturePublisher) PublishPushJob(data []byte) error {
	p.published = append(p.published, data)
	return nil
}

func TestEnqueueMessage_JobShape(t *testing.T) {
	pub := &capturePublisher{}
	q := NewQueue(pub)

	if err := q.EnqueueMessage(context.Background(), "bob", "alice", "hello there"); err != nil {
		t.Fatalf("EnqueueMessage: %v", err)
	}
	if len(pub.published) != 1 {
		t.Fatalf("expected 1 job, got %d", len(pub.published))
	}

	var job Job
	if err := json.Unmarshal(pub.published[0], &job); err != nil {
		t.Fatalf("unmarshal job: %v", err)
	}
	if job.IDToSendTo != "bob" || job.OtherID != "alice" {
		t.Errorf("unexpected ids: %+v", job)
	}
	if job.Kind != KindMessage {
		t.Errorf("expected kind %q, got %q", KindMessage, job.Kind)
	}
	if job.Text != "hello there" {
		t.Errorf("expected full short text, got %q", job.Text)
	}
}

func TestEnqueueMatch_NoText(t *testing.T) {
	pub := &capturePublisher{}
	q := NewQueue(pub)

	if err := q.EnqueueMatch(context.Background(), "bob", "alice"); err != nil {
		t.Fatalf("EnqueueMatch: %v", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(pub.published[0], &raw); err != nil {
		t.Fatalf("unmarshal job: %v", err)
	}
	if raw["type"] != KindMatch {
		t.Errorf("expected type %q, got %v", KindMatch, raw["type"])
	}
	if _, ok := raw["text"]; ok {
		t.Error("match jobs must not carry a text field")
	}
}

func TestPreview_Bounded(t *testing.T) {
	long := strings.Repeat("héllo ", 40) // multi-byte runes on purpose

	got := Preview(long)
	if n := utf8.RuneCountInString(got); n > MaxPreviewRunes+1 {
		t.Errorf("preview too long: %d runes", n)
	}
	if !strings.HasSuffix(got, "…") {
		t.Error("expected ellipsis on truncated preview")
	}
	if !utf8.ValidString(got) {
		t.Error("preview broke UTF-8")
	}

	short := "short"
	if Preview(short) != short {
		t.Errorf("short text must pass through unchanged")
	}
}
