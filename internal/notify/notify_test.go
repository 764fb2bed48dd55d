package notify

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type recordingNotifier struct {
	events []Event
}

func (r *recordingNotifier) Notify(e Event) { r.events = append(r.events, e) }

func TestFanout(t *testing.T) {
	a, b := &recordingNotifier{}, &recordingNotifier{}
	var fromFunc []Kind
	f := NewFanout(a, nil, Func(func(e Event) { fromFunc = append(fromFunc, e.Kind) }))
	f.Add(b)
	f.Add(nil)

	f.Notify(NewEvent(KindSaved, "Saved: pic.jpg"))
	f.Notify(NewEvent(KindFailed, "Failed"))

	for name, r := range map[string]*recordingNotifier{"a": a, "b": b} {
		if len(r.events) != 2 {
			t.Errorf("%s got %d events, want 2", name, len(r.events))
		}
	}
	if len(fromFunc) != 2 || fromFunc[0] != KindSaved || fromFunc[1] != KindFailed {
		t.Errorf("Func notifier got %v", fromFunc)
	}
}

func TestLog_DoesNotPanic(t *testing.T) {
	var l Log
	for _, k := range []Kind{KindSaved, KindFailed, KindState, KindCamera, KindFatal} {
		l.Notify(NewEvent(k, "message"))
	}
}

// fakeToken is a completed mqtt.Token.
type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	payload []byte
}

// fakePublisher records publications.
type fakePublisher struct {
	mu           sync.Mutex
	connected    bool
	err          error
	published    []published
	disconnected bool
}

func (p *fakePublisher) IsConnected() bool { return p.connected }

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, published{topic: topic, payload: payload.([]byte)})
	return newFakeToken(p.err)
}

func (p *fakePublisher) Disconnect(uint) { p.disconnected = true }

func TestMQTT_PublishesJSON(t *testing.T) {
	pub := &fakePublisher{connected: true}
	m := newMQTT(pub, "stillcam")

	e := NewEvent(KindSaved, "Saved: /tmp/pic.jpg")
	e.ID = "0b7c"
	e.Path = "/tmp/pic.jpg"
	m.Notify(e)

	if len(pub.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.published))
	}
	msg := pub.published[0]
	if msg.topic != "stillcam/saved" {
		t.Errorf("topic = %q, want stillcam/saved", msg.topic)
	}
	var got Event
	if err := json.Unmarshal(msg.payload, &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got.Kind != KindSaved || got.ID != "0b7c" || got.Path != "/tmp/pic.jpg" {
		t.Errorf("payload = %+v", got)
	}
}

func TestMQTT_SkipsWhenDisconnected(t *testing.T) {
	pub := &fakePublisher{}
	m := newMQTT(pub, "stillcam")
	m.Notify(NewEvent(KindSaved, "x"))
	if len(pub.published) != 0 {
		t.Errorf("published %d messages while disconnected", len(pub.published))
	}
}

func TestMQTT_PublishErrorIsLogged(t *testing.T) {
	pub := &fakePublisher{connected: true, err: errors.New("broker gone")}
	m := newMQTT(pub, "cam")
	m.Notify(NewEvent(KindFailed, "Failed"))
	if len(pub.published) != 1 || pub.published[0].topic != "cam/failed" {
		t.Errorf("published = %+v", pub.published)
	}
}

func TestMQTT_Close(t *testing.T) {
	pub := &fakePublisher{}
	newMQTT(pub, "cam").Close()
	if !pub.disconnected {
		t.Error("Close did not disconnect")
	}
}
