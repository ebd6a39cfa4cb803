package audiosource

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTranslateRunningNode(t *testing.T) {
	n := node{Type: nodeType}
	n.Info.State = "running"
	n.Info.Props = map[string]any{
		"client.api":             pipewirePulseAPI,
		"application.process.id": float64(4242),
	}

	ev, ok := translate(n)
	require.True(t, ok)
	require.Equal(t, 4242, ev.PID)
	require.True(t, ev.Running)
}

func TestTranslateIdleNodeClearsRunning(t *testing.T) {
	n := node{Type: nodeType}
	n.Info.State = "idle"
	n.Info.Props = map[string]any{
		"client.api":             pipewirePulseAPI,
		"application.process.id": "100",
	}

	ev, ok := translate(n)
	require.True(t, ok)
	require.Equal(t, 100, ev.PID)
	require.False(t, ev.Running)
}

func TestTranslateIgnoresNonPipewirePulseClient(t *testing.T) {
	n := node{Type: nodeType}
	n.Info.State = "running"
	n.Info.Props = map[string]any{
		"client.api":             "pipewire-jack",
		"application.process.id": float64(1),
	}

	_, ok := translate(n)
	require.False(t, ok)
}

func TestTranslateIgnoresNonNodeType(t *testing.T) {
	n := node{Type: "PipeWire:Interface:Port"}

	_, ok := translate(n)
	require.False(t, ok)
}

func TestTranslateIgnoresUnknownState(t *testing.T) {
	n := node{Type: nodeType}
	n.Info.State = "creating"
	n.Info.Props = map[string]any{
		"client.api":             pipewirePulseAPI,
		"application.process.id": float64(1),
	}

	_, ok := translate(n)
	require.False(t, ok)
}

func TestTranslateRejectsMissingPID(t *testing.T) {
	n := node{Type: nodeType}
	n.Info.State = "running"
	n.Info.Props = map[string]any{"client.api": pipewirePulseAPI}

	_, ok := translate(n)
	require.False(t, ok)
}
