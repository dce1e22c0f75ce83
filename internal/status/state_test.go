package status

import (
	"testing"

	"github.com/matheus3301/socialchat/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine("c1", nil)
	if m.Current() != Loading {
		t.Errorf("initial state = %s, want LOADING", m.Current())
	}
}

// walkTo drives a fresh machine into state s along valid transitions.
func walkTo(t *testing.T, m *Machine, s State) {
	t.Helper()
	paths := map[State][]State{
		Loading: {},
		Ready:   {Ready},
		Sending: {Ready, Sending},
		Closed:  {Closed},
	}
	for _, step := range paths[s] {
		if err := m.Transition(step); err != nil {
			t.Fatalf("walkTo(%s): %v", s, err)
		}
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Loading, Ready},
		{Loading, Closed},
		{Ready, Sending},
		{Ready, Loading},
		{Ready, Closed},
		{Sending, Ready},
		{Sending, Loading},
		{Sending, Closed},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine("c1", nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Loading, Sending},
		{Closed, Loading},
		{Closed, Ready},
		{Closed, Closed},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine("c1", nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err == nil {
				t.Errorf("Transition(%s -> %s) should fail", tt.from, tt.to)
			}
			if m.Current() != tt.from {
				t.Errorf("state changed to %s on a rejected transition", m.Current())
			}
		})
	}
}

func TestSameStateIsNoop(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("thread.", 10)
	defer unsub()

	m := NewMachine("c1", b)
	walkTo(t, m, Sending)
	<-ch
	<-ch

	if err := m.Transition(Sending); err != nil {
		t.Fatalf("Sending -> Sending: %v", err)
	}
	select {
	case evt := <-ch:
		t.Errorf("unexpected event %+v", evt)
	default:
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("thread.", 10)
	defer unsub()

	m := NewMachine("c42", b)
	if err := m.Transition(Ready); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindThreadState {
		t.Errorf("event kind = %q, want %q", evt.Kind, bus.KindThreadState)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.ConversationID != "c42" || change.From != Loading || change.To != Ready {
		t.Errorf("change = %+v, want c42 LOADING -> READY", change)
	}
}

// TestRetryWhileSending covers a user retrying the history fetch while a
// send is still in flight: the thread goes back to Loading, then Ready, then
// Sending again until the send settles.
func TestRetryWhileSending(t *testing.T) {
	m := NewMachine("c1", nil)
	for _, s := range []State{Ready, Sending, Loading, Ready, Sending, Ready} {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition(%s): %v", s, err)
		}
	}
}
