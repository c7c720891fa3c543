package common

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLineString(t *testing.T) {
	var l Line
	l.Set("message_type", "query")
	l.SetBool("is_query", true)
	l.SetInt("qdcount", 1)
	require.Equal(t, "message_type=query is_query=true qdcount=1", l.String())
}

func TestAppendTraceUntruncated(t *testing.T) {
	buf := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	out := AppendTrace("k=v", 7, C2S, buf)
	require.Equal(t, "k=v msg_id=7 dir=C2S trace=deadbeef", out)
}

func TestAppendTraceTruncatedMarksValueNotKey(t *testing.T) {
	buf := make([]byte, TracePacketCap+10)
	for i := range buf {
		buf[i] = byte(i)
	}
	out := AppendTrace("k=v", 1, S2C, buf)

	require.True(t, strings.HasSuffix(out, "+"), "truncated trace value must end with a + marker")

	// Exactly three reserved keys must appear: msg_id, dir, trace. A
	// fourth key (e.g. trace_truncated) would leak past the driver's
	// reserved-key strip into evaluated state.
	fields := strings.Split(out, " ")
	reserved := 0
	for _, f := range fields {
		if strings.HasPrefix(f, "msg_id=") || strings.HasPrefix(f, "dir=") || strings.HasPrefix(f, "trace=") {
			reserved++
		}
	}
	require.Equal(t, 3, reserved)
}

func TestDirectionString(t *testing.T) {
	require.Equal(t, "C2S", C2S.String())
	require.Equal(t, "S2C", S2C.String())
}
