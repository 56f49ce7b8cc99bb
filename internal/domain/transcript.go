package domain

import "sync"

// ChangeKind identifies a transcript mutation.
type ChangeKind string

const (
	ChangeAppended ChangeKind = "turn_appended"
	ChangeReplaced ChangeKind = "turn_replaced"
	ChangeRemoved  ChangeKind = "turn_removed"
)

// TranscriptChange describes one committed mutation.
// Turn is a copy of the committed turn; for removals it is the removed turn.
// Version is the transcript version after the change; it increases by one
// per committed change.
type TranscriptChange struct {
	Kind    ChangeKind       `json:"kind"`
	Index   int              `json:"index"`
	Turn    ConversationTurn `json:"turn"`
	Version uint64           `json:"version"`
}

// Observer is notified after every committed transcript mutation.
type Observer interface {
	OnTranscriptChange(change TranscriptChange)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(change TranscriptChange)

// OnTranscriptChange calls f(change).
func (f ObserverFunc) OnTranscriptChange(change TranscriptChange) {
	f(change)
}

type subscription struct {
	id       int
	observer Observer
}

// Transcript is the ordered turn list of one conversation.
// It is append-only except for the content of the open assistant turn,
// which may be replaced while a stream is in flight, and the removal of
// that turn when the stream fails.
type Transcript struct {
	mu     sync.Mutex
	turns  []ConversationTurn
	open   bool
	subs   []subscription
	nextID int

	version uint64
}

// NewTranscript creates a transcript seeded with the given turns.
func NewTranscript(turns ...ConversationTurn) *Transcript {
	t := &Transcript{}
	t.turns = append(t.turns, turns...)
	return t
}

// Append adds a closed turn and returns its index.
func (t *Transcript) Append(turn ConversationTurn) int {
	t.mu.Lock()
	t.turns = append(t.turns, turn)
	idx := len(t.turns) - 1
	t.version++
	change := TranscriptChange{Kind: ChangeAppended, Index: idx, Turn: turn, Version: t.version}
	subs := t.observers()
	t.mu.Unlock()

	notify(subs, change)
	return idx
}

// OpenAssistant appends an empty assistant turn and marks it open.
func (t *Transcript) OpenAssistant() (int, error) {
	t.mu.Lock()
	if t.open {
		t.mu.Unlock()
		return 0, ErrStreamInFlight
	}
	turn := ConversationTurn{Role: RoleAssistant}
	t.turns = append(t.turns, turn)
	t.open = true
	idx := len(t.turns) - 1
	t.version++
	change := TranscriptChange{Kind: ChangeAppended, Index: idx, Turn: turn, Version: t.version}
	subs := t.observers()
	t.mu.Unlock()

	notify(subs, change)
	return idx, nil
}

// ReplaceLast replaces the content of the open assistant turn.
func (t *Transcript) ReplaceLast(content string) error {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return ErrNoOpenTurn
	}
	idx := len(t.turns) - 1
	t.turns[idx].Content = content
	turn := t.turns[idx]
	t.version++
	change := TranscriptChange{Kind: ChangeReplaced, Index: idx, Turn: turn, Version: t.version}
	subs := t.observers()
	t.mu.Unlock()

	notify(subs, change)
	return nil
}

// RemoveLast drops the last turn and closes the open turn if there was one.
func (t *Transcript) RemoveLast() error {
	t.mu.Lock()
	if len(t.turns) == 0 {
		t.mu.Unlock()
		return ErrTranscriptEmpty
	}
	idx := len(t.turns) - 1
	turn := t.turns[idx]
	t.turns = t.turns[:idx]
	t.open = false
	t.version++
	change := TranscriptChange{Kind: ChangeRemoved, Index: idx, Turn: turn, Version: t.version}
	subs := t.observers()
	t.mu.Unlock()

	notify(subs, change)
	return nil
}

// Close finalizes the open assistant turn. It is a no-op when none is open.
func (t *Transcript) Close() {
	t.mu.Lock()
	t.open = false
	t.mu.Unlock()
}

// IsOpen reports whether an assistant turn is being filled.
func (t *Transcript) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

// Len returns the number of turns.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.turns)
}

// Last returns the last turn, if any.
func (t *Transcript) Last() (ConversationTurn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.turns) == 0 {
		return ConversationTurn{}, false
	}
	return t.turns[len(t.turns)-1], true
}

// Snapshot returns a copy of all turns in order.
func (t *Transcript) Snapshot() []ConversationTurn {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ConversationTurn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Versioned returns a copy of all turns together with the version they
// reflect. Changes with a greater version are not part of the copy.
func (t *Transcript) Versioned() ([]ConversationTurn, uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ConversationTurn, len(t.turns))
	copy(out, t.turns)
	return out, t.version
}

// Subscribe registers an observer and returns a function that removes it.
func (t *Transcript) Subscribe(o Observer) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs = append(t.subs, subscription{id: id, observer: o})
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, s := range t.subs {
			if s.id == id {
				t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
				return
			}
		}
	}
}

// observers copies the subscriber list. Callers must hold t.mu.
func (t *Transcript) observers() []Observer {
	if len(t.subs) == 0 {
		return nil
	}
	out := make([]Observer, len(t.subs))
	for i, s := range t.subs {
		out[i] = s.observer
	}
	return out
}

func notify(observers []Observer, change TranscriptChange) {
	for _, o := range observers {
		o.OnTranscriptChange(change)
	}
}
