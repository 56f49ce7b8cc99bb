package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscriptOpenReplaceClose(t *testing.T) {
	tr := NewTranscript(ConversationTurn{Role: RoleAssistant, Content: "hello"})

	var changes []TranscriptChange
	unsubscribe := tr.Subscribe(ObserverFunc(func(c TranscriptChange) {
		changes = append(changes, c)
	}))
	defer unsubscribe()

	tr.Append(ConversationTurn{Role: RoleUser, Content: "hi"})
	idx, err := tr.OpenAssistant()
	require.NoError(t, err)
	assert.Equal(t, 2, idx)
	assert.True(t, tr.IsOpen())

	require.NoError(t, tr.ReplaceLast("Hel"))
	require.NoError(t, tr.ReplaceLast("Hello"))
	tr.Close()

	assert.False(t, tr.IsOpen())
	assert.ErrorIs(t, tr.ReplaceLast("late"), ErrNoOpenTurn)

	last, ok := tr.Last()
	require.True(t, ok)
	assert.Equal(t, "Hello", last.Content)

	kinds := make([]ChangeKind, 0, len(changes))
	for _, c := range changes {
		kinds = append(kinds, c.Kind)
	}
	assert.Equal(t, []ChangeKind{ChangeAppended, ChangeAppended, ChangeReplaced, ChangeReplaced}, kinds)
	assert.Equal(t, "Hel", changes[2].Turn.Content)
}

func TestTranscriptSingleOpenTurn(t *testing.T) {
	tr := NewTranscript()
	_, err := tr.OpenAssistant()
	require.NoError(t, err)

	_, err = tr.OpenAssistant()
	assert.True(t, errors.Is(err, ErrStreamInFlight))
	assert.Equal(t, 1, tr.Len())
}

func TestTranscriptRemoveLastClosesTurn(t *testing.T) {
	tr := NewTranscript()
	tr.Append(ConversationTurn{Role: RoleUser, Content: "q"})
	_, err := tr.OpenAssistant()
	require.NoError(t, err)
	require.NoError(t, tr.ReplaceLast("partial"))

	require.NoError(t, tr.RemoveLast())
	assert.False(t, tr.IsOpen())
	assert.Equal(t, []ConversationTurn{{Role: RoleUser, Content: "q"}}, tr.Snapshot())

	require.NoError(t, tr.RemoveLast())
	assert.ErrorIs(t, tr.RemoveLast(), ErrTranscriptEmpty)
}

func TestTranscriptSnapshotIsCopy(t *testing.T) {
	tr := NewTranscript(ConversationTurn{Role: RoleUser, Content: "a"})
	snap := tr.Snapshot()
	snap[0].Content = "changed"

	last, _ := tr.Last()
	assert.Equal(t, "a", last.Content)
}

func TestTranscriptUnsubscribe(t *testing.T) {
	tr := NewTranscript()
	calls := 0
	unsubscribe := tr.Subscribe(ObserverFunc(func(TranscriptChange) { calls++ }))

	tr.Append(ConversationTurn{Role: RoleUser, Content: "a"})
	unsubscribe()
	tr.Append(ConversationTurn{Role: RoleUser, Content: "b"})

	assert.Equal(t, 1, calls)
}

func TestTranscriptObserverSeesCommittedState(t *testing.T) {
	tr := NewTranscript()
	_, err := tr.OpenAssistant()
	require.NoError(t, err)

	tr.Subscribe(ObserverFunc(func(c TranscriptChange) {
		last, ok := tr.Last()
		require.True(t, ok)
		assert.Equal(t, c.Turn.Content, last.Content)
	}))

	require.NoError(t, tr.ReplaceLast("ISO "))
	require.NoError(t, tr.ReplaceLast("ISO 14001"))
}

func TestTranscriptVersions(t *testing.T) {
	tr := NewTranscript(ConversationTurn{Role: RoleAssistant, Content: "Hello!"})
	turns, version := tr.Versioned()
	assert.Len(t, turns, 1)
	assert.Equal(t, uint64(0), version)

	var versions []uint64
	tr.Subscribe(ObserverFunc(func(c TranscriptChange) { versions = append(versions, c.Version) }))

	tr.Append(ConversationTurn{Role: RoleUser, Content: "hi"})
	_, err := tr.OpenAssistant()
	require.NoError(t, err)
	require.NoError(t, tr.ReplaceLast("Hel"))

	turns, version = tr.Versioned()
	assert.Len(t, turns, 3)
	assert.Equal(t, uint64(3), version)

	require.NoError(t, tr.RemoveLast())
	tr.Close()

	assert.Equal(t, []uint64{1, 2, 3, 4}, versions)
	_, version = tr.Versioned()
	assert.Equal(t, uint64(4), version)
}
