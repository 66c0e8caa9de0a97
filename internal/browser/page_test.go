package browser

import (
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/court-sniper/internal/domain/booking"
)

func TestLeftClickEvents(t *testing.T) {
	evs := leftClick(booking.Point{X: 320, Y: 260})
	require.Len(t, evs, 3)

	assert.Equal(t, proto.InputDispatchMouseEventTypeMouseMoved, evs[0].Type)
	assert.Equal(t, proto.InputDispatchMouseEventTypeMousePressed, evs[1].Type)
	assert.Equal(t, proto.InputDispatchMouseEventTypeMouseReleased, evs[2].Type)
	for _, ev := range evs {
		assert.Equal(t, 320.0, ev.X)
		assert.Equal(t, 260.0, ev.Y)
	}
	assert.Equal(t, proto.InputMouseButtonLeft, evs[1].Button)
	assert.Equal(t, 1, evs[1].ClickCount)
	assert.Equal(t, 1, evs[2].ClickCount)
}

func TestEscapeKeyEvents(t *testing.T) {
	evs := escapeKey()
	require.Len(t, evs, 2)
	assert.Equal(t, proto.InputDispatchKeyEventTypeKeyDown, evs[0].Type)
	assert.Equal(t, proto.InputDispatchKeyEventTypeKeyUp, evs[1].Type)
	for _, ev := range evs {
		assert.Equal(t, "Escape", ev.Key)
		assert.Equal(t, 27, ev.WindowsVirtualKeyCode)
	}
}
