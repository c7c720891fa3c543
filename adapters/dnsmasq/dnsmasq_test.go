package dnsmasq

import (
	"encoding/binary"
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

func encodeName(name string) []byte {
	var out []byte
	for _, label := range strings.Split(name, ".") {
		out = append(out, byte(len(label)))
		out = append(out, label...)
	}
	return append(out, 0x00)
}

func buildQuery(id uint16, name string, qtype uint16) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint16(buf[0:2], id)
	binary.BigEndian.PutUint16(buf[2:4], flagRD)
	binary.BigEndian.PutUint16(buf[4:6], 1)
	buf = append(buf, encodeName(name)...)
	buf = append(buf, byte(qtype>>8), byte(qtype))
	buf = append(buf, 0x00, 0x01)
	return buf
}

func buildResponse(id uint16, name string, qtype uint16, rcode uint16, ancount uint16) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint16(buf[0:2], id)
	binary.BigEndian.PutUint16(buf[2:4], 0x8000|flagRD|flagRA|rcode)
	binary.BigEndian.PutUint16(buf[4:6], 1)
	binary.BigEndian.PutUint16(buf[6:8], ancount)
	buf = append(buf, encodeName(name)...)
	buf = append(buf, byte(qtype>>8), byte(qtype))
	buf = append(buf, 0x00, 0x01)
	return buf
}

func TestQueryLineMarksIsQuery(t *testing.T) {
	a := New()
	line := a.BuildRequestPredLine(buildQuery(1, "example.test", qtypeA))
	require.Equal(t, "true", kv(line, "is_query"))
	require.Equal(t, "false", kv(line, "is_response"))
	require.Equal(t, "query", kv(line, "message_type"))
	require.Equal(t, "A", kv(line, "qtype"))
	require.Equal(t, "true", kv(line, "upstream_queried"))
}

func TestResponseIDMatchAndValidity(t *testing.T) {
	a := New()
	a.BuildRequestPredLine(buildQuery(42, "example.test", qtypeA))
	line := a.BuildResponsePredLine(buildResponse(42, "example.test", qtypeA, rcodeNoError, 1))
	require.Equal(t, "true", kv(line, "id_match"))
	require.Equal(t, "true", kv(line, "response_valid"))
	require.Equal(t, "false", kv(line, "cache_hit"), "first answer is never a cache hit")
	require.Equal(t, "true", kv(line, "upstream_queried"))
}

func TestReplayIsCacheHit(t *testing.T) {
	a := New()
	a.BuildRequestPredLine(buildQuery(1, "example.test", qtypeA))
	a.BuildResponsePredLine(buildResponse(1, "example.test", qtypeA, rcodeNoError, 1))

	a.BuildRequestPredLine(buildQuery(2, "example.test", qtypeA))
	line := a.BuildResponsePredLine(buildResponse(2, "example.test", qtypeA, rcodeNoError, 1))

	require.Equal(t, "true", kv(line, "cache_hit"), "same qtype answered earlier in the ring should replay as a cache hit")
	require.Equal(t, "false", kv(line, "upstream_queried"))
}

func TestUnmatchedResponseIDMismatch(t *testing.T) {
	a := New()
	line := a.BuildResponsePredLine(buildResponse(99, "example.test", qtypeA, rcodeNoError, 1))
	require.Equal(t, "false", kv(line, "id_match"))
	require.Equal(t, "false", kv(line, "cache_hit"))
}

func TestSkipNameCapsAtFiveSteps(t *testing.T) {
	// A chain of six 1-byte labels plus the terminator: skipName must
	// stop at maxNameJumps steps and report failure (0), not walk the
	// whole chain, since the jump-counter bug this fixes would otherwise
	// let an attacker build an arbitrarily long label chain.
	buf := make([]byte, 12)
	for i := 0; i < 6; i++ {
		buf = append(buf, 0x01, 'a')
	}
	buf = append(buf, 0x00)
	require.Equal(t, 0, skipName(buf, 12))
}

func TestSkipNameWithinCapSucceeds(t *testing.T) {
	buf := make([]byte, 12)
	buf = append(buf, encodeName("a.b.c")...)
	pos := skipName(buf, 12)
	require.Equal(t, len(buf), pos)
}

func TestResetSessionClearsRing(t *testing.T) {
	a := New()
	a.BuildRequestPredLine(buildQuery(1, "example.test", qtypeA))
	a.ResetSession()
	line := a.BuildResponsePredLine(buildResponse(1, "example.test", qtypeA, rcodeNoError, 1))
	require.Equal(t, "false", kv(line, "id_match"))
}

func TestMalformedPacketProducesErrorLine(t *testing.T) {
	a := New()
	line := a.BuildRequestPredLine([]byte{0x01, 0x02})
	require.Equal(t, "messageNotSet", kv(line, "message_type"))
	require.Equal(t, "-1", kv(line, "qdcount"))
}
