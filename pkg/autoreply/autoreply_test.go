package autoreply

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagate/wagate/pkg/engine"
	"github.com/wagate/wagate/pkg/engine/enginetest"
)

func inbound(from, body string, known bool) engine.Event {
	return engine.Event{
		Kind:         engine.EventMessage,
		From:         from,
		Body:         body,
		KnownContact: known,
	}
}

func TestTableDefaults(t *testing.T) {
	table := NewTable()

	for trigger := range DefaultResponses {
		_, ok := table.Get(trigger)
		assert.True(t, ok, "default trigger %q missing", trigger)
	}
}

func TestTableMatchingIsCaseInsensitive(t *testing.T) {
	table := NewTable()
	table.Set("Horario", "Abrimos de 9 a 18")

	for _, trigger := range []string{"horario", "HORARIO", "  Horario  ", "hOrArIo"} {
		resp, ok := table.Get(trigger)
		require.True(t, ok, "trigger %q", trigger)
		assert.Equal(t, "Abrimos de 9 a 18", resp)
	}
}

func TestTableSetReplaces(t *testing.T) {
	table := NewTable()
	table.Set("hola", "Buenas")

	resp, ok := table.Get("hola")
	require.True(t, ok)
	assert.Equal(t, "Buenas", resp)
}

func TestTableSnapshotIsACopy(t *testing.T) {
	table := NewTable()

	snap := table.Snapshot()
	snap["hola"] = "mutated"

	resp, _ := table.Get("hola")
	assert.NotEqual(t, "mutated", resp)
}

func TestHandleMessageRepliesToUnknownContact(t *testing.T) {
	eng := enginetest.New()
	r := NewResponder(Config{})

	r.HandleMessage(context.Background(), "s1", eng, inbound("5551@c.us", "hola", false))

	require.Len(t, eng.Sends, 1)
	assert.Equal(t, "5551@c.us", eng.Sends[0].Target)
	assert.Equal(t, DefaultResponses["hola"], eng.Sends[0].Content.Text)
}

func TestHandleMessageSkipsKnownContactByDefault(t *testing.T) {
	eng := enginetest.New()
	r := NewResponder(Config{})

	r.HandleMessage(context.Background(), "s1", eng, inbound("5551@c.us", "hola", true))

	assert.Empty(t, eng.Sends)
}

func TestHandleMessageRepliesToKnownWhenOptedIn(t *testing.T) {
	eng := enginetest.New()
	r := NewResponder(Config{ReplyToKnown: true})

	r.HandleMessage(context.Background(), "s1", eng, inbound("5551@c.us", "gracias", true))

	require.Len(t, eng.Sends, 1)
	assert.Equal(t, DefaultResponses["gracias"], eng.Sends[0].Content.Text)
}

func TestHandleMessageFallback(t *testing.T) {
	eng := enginetest.New()
	r := NewResponder(Config{Fallback: "Un agente te responderá pronto"})

	r.HandleMessage(context.Background(), "s1", eng, inbound("5551@c.us", "necesito ayuda", false))

	require.Len(t, eng.Sends, 1)
	assert.Equal(t, "Un agente te responderá pronto", eng.Sends[0].Content.Text)
}

func TestHandleMessageNoFallbackStaysSilent(t *testing.T) {
	eng := enginetest.New()
	r := NewResponder(Config{})

	r.HandleMessage(context.Background(), "s1", eng, inbound("5551@c.us", "necesito ayuda", false))

	assert.Empty(t, eng.Sends)
}

func TestHandleMessageIgnoresNonMessageEvents(t *testing.T) {
	eng := enginetest.New()
	r := NewResponder(Config{})

	r.HandleMessage(context.Background(), "s1", eng, engine.Event{Kind: engine.EventReady})
	r.HandleMessage(context.Background(), "s1", eng, inbound("", "hola", false))

	assert.Empty(t, eng.Sends)
}

func TestHandleMessageSendFailureIsNotFatal(t *testing.T) {
	eng := enginetest.New()
	eng.FailSend(errors.New("connection reset"))
	r := NewResponder(Config{})

	// Must not panic or propagate.
	r.HandleMessage(context.Background(), "s1", eng, inbound("5551@c.us", "hola", false))
}
