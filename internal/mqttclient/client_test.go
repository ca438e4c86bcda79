package mqttclient

import (
	"errors"
	"slices"
	"testing"

	"github.com/rs/zerolog"
)

func TestSplitTopics(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"single", "scribe/jobs", []string{"scribe/jobs"}},
		{"multiple_trimmed", " scribe/jobs , scribe/recording/+ ", []string{"scribe/jobs", "scribe/recording/+"}},
		{"skips_empty", "a,,b,", []string{"a", "b"}},
		{"empty_defaults_to_jobs", "", []string{"scribe/jobs"}},
		{"only_commas", " , ", []string{"scribe/jobs"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := splitTopics(tt.raw); !slices.Equal(got, tt.want) {
				t.Errorf("splitTopics(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestPublishWhileDisconnected(t *testing.T) {
	c := &Client{log: zerolog.Nop()}
	if err := c.Publish("scribe/events/job_completed", []byte("{}")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish err = %v, want ErrNotConnected", err)
	}
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return qos }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestDeliver(t *testing.T) {
	t.Run("calls_handler", func(t *testing.T) {
		var topic, body string
		c := &Client{log: zerolog.Nop(), handler: func(tp string, p []byte) { topic, body = tp, string(p) }}
		c.deliver(nil, fakeMessage{topic: "scribe/recording/start", payload: []byte(`{}`)})
		if topic != "scribe/recording/start" || body != "{}" {
			t.Errorf("handler saw %q %q", topic, body)
		}
	})
	t.Run("no_handler_is_ignored", func(t *testing.T) {
		c := &Client{log: zerolog.Nop()}
		c.deliver(nil, fakeMessage{topic: "scribe/jobs"})
	})
}
