package tcp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commlink/internal/protocol"
)

func TestDispatcher_RoutesBySenderAndType(t *testing.T) {
	d := NewDispatcher(discardLogger(), nil)

	var gotSender int64
	var gotContent string
	d.Register(protocol.TypeChat, func(senderID int64, content string) error {
		gotSender, gotContent = senderID, content
		return nil
	})

	require.NoError(t, d.Dispatch(7, protocol.Chat("hello")))
	assert.Equal(t, int64(7), gotSender)
	assert.Equal(t, "hello", gotContent)
}

func TestDispatcher_LastRegistrationWins(t *testing.T) {
	d := NewDispatcher(discardLogger(), nil)

	var calls []string
	d.Register(protocol.TypeChat, func(int64, string) error { calls = append(calls, "first"); return nil })
	d.Register(protocol.TypeChat, func(int64, string) error { calls = append(calls, "second"); return nil })

	d.Dispatch(1, protocol.Chat("x"))
	assert.Equal(t, []string{"second"}, calls)
}

func TestDispatcher_UnknownTypeIsSoft(t *testing.T) {
	d := NewDispatcher(discardLogger(), nil)

	var err error
	assert.NotPanics(t, func() {
		err = d.Dispatch(1, protocol.NewMessage("telemetry", "{}"))
	})
	assert.ErrorIs(t, err, ErrUnknownMessageType)
	assert.False(t, d.Handles("telemetry"))
}

func TestDispatcher_HandlerErrorIsWrapped(t *testing.T) {
	d := NewDispatcher(discardLogger(), nil)
	boom := errors.New("boom")
	d.Register(protocol.TypeResponse, func(int64, string) error { return boom })

	err := d.Dispatch(1, protocol.Response("x"))
	assert.ErrorIs(t, err, ErrHandlerFailure)
	assert.ErrorIs(t, err, boom)
}

func TestDispatcher_HandlerPanicIsRecovered(t *testing.T) {
	d := NewDispatcher(discardLogger(), nil)
	d.Register(protocol.TypeScreenshot, func(int64, string) error { panic("bad image") })

	var err error
	assert.NotPanics(t, func() {
		err = d.Dispatch(1, protocol.Screenshot("x"))
	})
	assert.ErrorIs(t, err, ErrHandlerFailure)
	assert.Contains(t, err.Error(), "bad image")
}
