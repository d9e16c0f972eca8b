package bus

import "testing"

func TestInboundTopic(t *testing.T) {
	tests := []struct {
		tag  string
		want string
	}{
		{"login succeeded", "inbound.login_succeeded"},
		{"key event", TopicInboundKeys},
		{" file read ", "inbound.file_read"},
		{"file not image", "inbound.file_not_image"},
	}
	for _, tt := range tests {
		if got := InboundTopic(tt.tag); got != tt.want {
			t.Errorf("InboundTopic(%q) = %q, want %q", tt.tag, got, tt.want)
		}
	}
}

func TestInboundTopic_FilePrefixMatchesFileMessages(t *testing.T) {
	b := New()
	sub := b.Subscribe(TopicInboundFiles)
	defer b.Unsubscribe(sub)

	b.Publish(InboundTopic("file read"), 1)
	b.Publish(InboundTopic("file not image"), 2)
	b.Publish(InboundTopic("login failed"), 3)

	if got := len(sub.Ch()); got != 2 {
		t.Fatalf("buffered = %d, want 2", got)
	}
}

type tagged string

func (t tagged) Tag() string { return string(t) }

func TestPublishTagged(t *testing.T) {
	b := New()
	sub := b.Subscribe(TopicInbound)
	defer b.Unsubscribe(sub)

	if n := b.PublishTagged(tagged("logout succeeded")); n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}
	ev := <-sub.Ch()
	if ev.Topic != "inbound.logout_succeeded" {
		t.Fatalf("topic = %q", ev.Topic)
	}
	if ev.Payload.(tagged) != "logout succeeded" {
		t.Fatalf("payload = %v", ev.Payload)
	}
}
