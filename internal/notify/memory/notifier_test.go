package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/linkmend/linkmend/internal/check"
)

func TestNotifier_RecordsEventsInOrder(t *testing.T) {
	t.Parallel()

	n := New()
	require.NoError(t, n.Notify(context.Background(), check.SessionEvent{SessionID: "s-1"}))
	require.NoError(t, n.Notify(context.Background(), check.SessionEvent{SessionID: "s-2"}))

	events := n.Events()
	require.Len(t, events, 2)
	require.Equal(t, "s-1", events[0].SessionID)
	require.Equal(t, "s-2", events[1].SessionID)

	// The returned slice is a copy.
	events[0].SessionID = "mutated"
	require.Equal(t, "s-1", n.Events()[0].SessionID)
}
