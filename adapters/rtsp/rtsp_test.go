package rtsp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func kv(line, key string) string {
	for _, tok := range strings.Split(line, " ") {
		if strings.HasPrefix(tok, key+"=") {
			return strings.TrimPrefix(tok, key+"=")
		}
	}
	return ""
}

func crlf(lines ...string) []byte {
	return []byte(strings.Join(lines, "\r\n") + "\r\n\r\n")
}

func TestSetupSuccessIncrementsCounterOnTaggedMatch(t *testing.T) {
	a := New()
	a.BuildRequestPredLine(crlf("SETUP rtsp://host/track1 RTSP/1.0", "CSeq: 2"))
	line := a.BuildResponsePredLine(crlf("RTSP/1.0 200 OK", "CSeq: 2", "Session: ABC123", "Transport: RTP/AVP;unicast;client_port=8000-8001;server_port=9000-9001"))

	require.Equal(t, "1", kv(line, "setup_success_count"), "tagged mSETUP/scSUCCESS comparison must actually increment the counter")
	require.Equal(t, "true", kv(line, "session_established"))
	require.Equal(t, "scSUCCESS", kv(line, "status_class"))
}

func TestPlaySuccessIncrementsCounter(t *testing.T) {
	a := New()
	a.BuildRequestPredLine(crlf("SETUP rtsp://host/track1 RTSP/1.0", "CSeq: 1"))
	a.BuildResponsePredLine(crlf("RTSP/1.0 200 OK", "CSeq: 1", "Session: ABC123"))

	a.BuildRequestPredLine(crlf("PLAY rtsp://host/track1 RTSP/1.0", "CSeq: 2", "Session: ABC123"))
	line := a.BuildResponsePredLine(crlf("RTSP/1.0 200 OK", "CSeq: 2", "Session: ABC123"))

	require.Equal(t, "1", kv(line, "play_success_count"))
}

func TestCSeqMismatchDetected(t *testing.T) {
	a := New()
	a.BuildRequestPredLine(crlf("OPTIONS rtsp://host/ RTSP/1.0", "CSeq: 5"))
	line := a.BuildResponsePredLine(crlf("RTSP/1.0 200 OK", "CSeq: 6"))
	require.Equal(t, "false", kv(line, "cseq_match"))
}

func TestTeardownWithoutSessionFlagged(t *testing.T) {
	a := New()
	line := a.BuildRequestPredLine(crlf("TEARDOWN rtsp://host/track1 RTSP/1.0", "CSeq: 1"))
	require.Equal(t, "true", kv(line, "teardown_without_session"))
}

func TestMalformedRequestDetected(t *testing.T) {
	a := New()
	line := a.BuildRequestPredLine([]byte("garbage\x00\x01"))
	require.Equal(t, "true", kv(line, "req_malformed"))
	require.Equal(t, "mNotSet", kv(line, "rtsp_method"))
}

func TestKeepaliveFailureOnHighStatus(t *testing.T) {
	a := New()
	a.BuildRequestPredLine(crlf("SETUP rtsp://host/track1 RTSP/1.0", "CSeq: 1"))
	a.BuildResponsePredLine(crlf("RTSP/1.0 200 OK", "CSeq: 1", "Session: XYZ"))

	a.BuildRequestPredLine(crlf("GET_PARAMETER rtsp://host/track1 RTSP/1.0", "CSeq: 2", "Session: XYZ"))
	line := a.BuildResponsePredLine(crlf("RTSP/1.0 454 Session Not Found", "CSeq: 2"))
	require.Equal(t, "true", kv(line, "keepalive_failed"))
}

func TestURIInSessionAggregateParent(t *testing.T) {
	a := New()
	a.BuildRequestPredLine(crlf("SETUP rtsp://host/movie/track1 RTSP/1.0", "CSeq: 1"))
	a.BuildResponsePredLine(crlf("RTSP/1.0 200 OK", "CSeq: 1", "Session: S1"))

	line := a.BuildRequestPredLine(crlf("PLAY rtsp://host/movie RTSP/1.0", "CSeq: 2", "Session: S1"))
	require.Equal(t, "true", kv(line, "req_uri_in_session"))
}

func TestResetSessionClearsState(t *testing.T) {
	a := New()
	a.BuildRequestPredLine(crlf("SETUP rtsp://host/track1 RTSP/1.0", "CSeq: 1"))
	a.BuildResponsePredLine(crlf("RTSP/1.0 200 OK", "CSeq: 1", "Session: S1"))
	a.ResetSession()
	require.False(t, a.sessionEstablished)
	require.Equal(t, 0, a.setupSuccessCount)
}
