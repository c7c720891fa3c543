package violationlog

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAppendRendersSessionAndProperties(t *testing.T) {
	var buf strings.Builder
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	w := New(&buf, func() time.Time { return fixed })

	err := w.Append(Record{
		SessionCounter: 3,
		EventCounter:   7,
		Properties:     []Property{{Index: 0, Source: "H(a -> O(b))"}},
		Trace:          []string{"a=true b=false", "a=true b=true"},
		PacketWindow:   []string{"blake2b:aaaaaaaaaaaaaaaaaaaaaaaa"},
	})
	require.NoError(t, err)

	out := buf.String()
	require.Contains(t, out, "session=3 event=7")
	require.Contains(t, out, "property[0]: H(a -> O(b))")
	require.Contains(t, out, "0: a=true b=false")
	require.Contains(t, out, "1: a=true b=true")
	require.Contains(t, out, "--- recent packets ---")
	require.Contains(t, out, "blake2b:aaaaaaaaaaaaaaaaaaaaaaaa")
}

func TestAppendOmitsPacketWindowSectionWhenEmpty(t *testing.T) {
	var buf strings.Builder
	w := New(&buf, nil)

	err := w.Append(Record{SessionCounter: 0, EventCounter: 1})
	require.NoError(t, err)
	require.NotContains(t, buf.String(), "--- recent packets ---")
}
