// Package rtsp implements the direction-aware RTSP (RFC 2326) predicate
// adapter. Grounded bit-exact on
// original_source/.../rtsp_predicate_adapter.c, including its
// documented session-tracking fix: the original compared
// get_status_class's "scSUCCESS" output against the bare string
// "SUCCESS", and the "mSETUP" method tag against "SETUP", so SETUP/PLAY
// accounting never actually fired; this port compares the method's
// tagged form directly and judges success by a numeric 2xx check on the
// status code.
package rtsp

import (
	"strconv"
	"strings"

	"github.com/ptltl/monitor/adapters/common"
)

const defaultSetupURIBound = 32

// Adapter owns one RTSP session's reconstructed state: the established
// session ID, SETUP/PLAY counters, and the last request (correlated
// against the next response).
type Adapter struct {
	// SetupURIBound caps how many distinct SETUPed URIs are tracked per
	// session; zero means defaultSetupURIBound.
	SetupURIBound int

	sessionID          string
	sessionEstablished bool
	setupSuccessCount  int
	playSuccessCount   int
	totalTracks        int

	lastReqCSeq           int
	lastReqMethod         string
	lastReqHasSession     bool
	lastReqSessionID      string
	lastReqTransportUDP   bool
	lastReqTransportTCP   bool
	lastReqClientPorts    bool
	lastReqMalformed      bool
	lastReqURI            string

	setupURIs []string

	msgID uint64
}

// New returns a fresh Adapter ready for a new session.
func New() *Adapter {
	return &Adapter{lastReqCSeq: -1, lastReqMethod: "mNotSet"}
}

// ResetSession clears all per-session state.
func (a *Adapter) ResetSession() {
	bound := a.SetupURIBound
	*a = Adapter{SetupURIBound: bound, lastReqCSeq: -1, lastReqMethod: "mNotSet"}
}

func (a *Adapter) uriBound() int {
	if a.SetupURIBound > 0 {
		return a.SetupURIBound
	}
	return defaultSetupURIBound
}

func extractLines(buf []byte) []string {
	text := strings.ReplaceAll(string(buf), "\r\n", "\n")
	return strings.Split(text, "\n")
}

func parseRequestMethod(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "mNotSet"
	}
	switch strings.ToUpper(fields[0]) {
	case "OPTIONS":
		return "mOPTIONS"
	case "DESCRIBE":
		return "mDESCRIBE"
	case "SETUP":
		return "mSETUP"
	case "PLAY":
		return "mPLAY"
	case "PAUSE":
		return "mPAUSE"
	case "TEARDOWN":
		return "mTEARDOWN"
	case "ANNOUNCE":
		return "mANNOUNCE"
	case "GET_PARAMETER":
		return "mGET_PARAMETER"
	case "SET_PARAMETER":
		return "mSET_PARAMETER"
	case "REDIRECT":
		return "mREDIRECT"
	case "RECORD":
		return "mRECORD"
	default:
		return "mNotSet"
	}
}

func parseRequestURI(line string) string {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}

func headerValue(line string) (string, bool) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", false
	}
	return strings.TrimSpace(line[idx+1:]), true
}

func parseCSeq(line string) int {
	v, ok := headerValue(line)
	if !ok {
		return -1
	}
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return -1
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return -1
	}
	return n
}

// checkCSeqValid reports whether the first token after "CSeq:" consists
// only of ASCII decimal digits (RFC 2326 s12.17); "0" is accepted.
func checkCSeqValid(line string) bool {
	v, ok := headerValue(line)
	if !ok {
		return false
	}
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return false
	}
	token := fields[0]
	if token == "" {
		return false
	}
	for _, r := range token {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func parseSession(line string) string {
	v, ok := headerValue(line)
	if !ok {
		return ""
	}
	end := len(v)
	for i, r := range v {
		if r == ';' || r == ' ' || r == '\t' {
			end = i
			break
		}
	}
	return v[:end]
}

type transportInfo struct {
	udp, tcp                   bool
	clientPorts, serverPorts   bool
	portZero                   bool
}

func parseTransport(line string) transportInfo {
	var t transportInfo
	v, ok := headerValue(line)
	if !ok {
		return t
	}
	switch {
	case strings.Contains(v, "RTP/AVP/TCP"), strings.Contains(v, "interleaved"):
		t.tcp = true
	case strings.Contains(v, "RTP/AVP"):
		t.udp = true
	}

	if idx := strings.Index(v, "client_port="); idx >= 0 {
		t.clientPorts = true
		if portAtoi(v[idx+len("client_port="):]) == 0 {
			t.portZero = true
		}
	}
	if idx := strings.Index(v, "server_port="); idx >= 0 {
		t.serverPorts = true
		if portAtoi(v[idx+len("server_port="):]) == 0 {
			t.portZero = true
		}
	}
	if idx := strings.Index(v, ";port="); idx >= 0 {
		if portAtoi(v[idx+len(";port="):]) == 0 {
			t.portZero = true
		}
	}
	return t
}

func portAtoi(s string) int {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, _ := strconv.Atoi(s[:end])
	return n
}

func parseResponseStatus(line string) int {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0
	}
	return n
}

func statusClass(code int) string {
	switch {
	case code == 0:
		return "scNotSet"
	case code >= 100 && code < 200:
		return "scINFO"
	case code >= 200 && code < 300:
		return "scSUCCESS"
	case code >= 300 && code < 400:
		return "scREDIRECT"
	case code >= 400 && code < 500:
		return "scCLIENT_ERR"
	case code >= 500 && code < 600:
		return "scSERVER_ERR"
	default:
		return "scNotSet"
	}
}

func isSuccess(code int) bool { return code >= 200 && code < 300 }

func isMalformedRequest(buf []byte) bool {
	if len(buf) < 4 {
		return true
	}
	if buf[0] < 'A' || buf[0] > 'Z' {
		return true
	}
	return !strings_Contains(buf, "RTSP/1.0")
}

func isMalformedResponse(buf []byte) bool {
	if len(buf) < 12 {
		return true
	}
	return string(buf[:9]) != "RTSP/1.0 "
}

func strings_Contains(buf []byte, s string) bool {
	return strings.Contains(string(buf), s)
}

func (a *Adapter) recordSetupURI(uri string) {
	if uri == "" {
		return
	}
	if len(a.setupURIs) >= a.uriBound() {
		return
	}
	for _, existing := range a.setupURIs {
		if existing == uri {
			return
		}
	}
	a.setupURIs = append(a.setupURIs, uri)
}

// checkURIInSession reports whether uri belongs to the session's
// SETUPed streams: exact match, a SETUPed URI that is an aggregate
// parent of uri, or uri being an aggregate parent of a SETUPed track.
func (a *Adapter) checkURIInSession(uri string) bool {
	if uri == "" || len(a.setupURIs) == 0 {
		return false
	}
	for _, setup := range a.setupURIs {
		if setup == uri {
			return true
		}
		if strings.HasPrefix(setup, uri) {
			return true
		}
		if strings.HasPrefix(uri, setup) {
			return true
		}
	}
	return false
}

// BuildRequestPredLine builds the predicate line for a client->server
// request.
func (a *Adapter) BuildRequestPredLine(buf []byte) string {
	method := "mNotSet"
	reqURI := ""
	reqCSeq := -1
	reqHasSession := false
	reqSessionID := ""
	reqMalformed := isMalformedRequest(buf)
	transport := transportInfo{}
	keepaliveGetparam := false

	if !reqMalformed && len(buf) > 0 {
		lines := extractLines(buf)
		if len(lines) > 0 {
			method = parseRequestMethod(lines[0])
			reqURI = parseRequestURI(lines[0])
		}
		for _, line := range lines[1:] {
			if line == "" {
				break
			}
			switch {
			case hasPrefixFold(line, "CSeq:"):
				reqCSeq = parseCSeq(line)
			case hasPrefixFold(line, "Session:"):
				reqHasSession = true
				reqSessionID = parseSession(line)
			case hasPrefixFold(line, "Transport:"):
				t := parseTransport(line)
				transport.udp, transport.tcp, transport.clientPorts = t.udp, t.tcp, t.clientPorts
			}
		}
		if method == "mGET_PARAMETER" && reqHasSession {
			keepaliveGetparam = true
		}
	}

	a.lastReqCSeq = reqCSeq
	a.lastReqMethod = method
	a.lastReqHasSession = reqHasSession
	a.lastReqSessionID = reqSessionID
	a.lastReqTransportUDP = transport.udp
	a.lastReqTransportTCP = transport.tcp
	a.lastReqClientPorts = transport.clientPorts
	a.lastReqMalformed = reqMalformed
	a.lastReqURI = reqURI

	sessionIDMatch := false
	if a.sessionEstablished && reqHasSession {
		sessionIDMatch = reqSessionID == a.sessionID
	}

	teardownForExisting, teardownWithoutSession := false, false
	if method == "mTEARDOWN" {
		if reqHasSession && a.sessionEstablished && sessionIDMatch {
			teardownForExisting = true
		}
		if !reqHasSession {
			teardownWithoutSession = true
		}
	}

	uriInSession := false
	if a.sessionEstablished && reqURI != "" {
		uriInSession = a.checkURIInSession(reqURI)
	}

	l := &common.Line{}
	l.Set("rtsp_method", method)
	l.Set("status_class", "scNotSet")
	l.SetInt("req_cseq", reqCSeq)
	l.SetInt("resp_cseq", -1)
	l.SetInt("resp_status_code", 0)
	l.SetBool("req_malformed", reqMalformed)
	l.SetBool("resp_malformed", false)
	l.SetBool("cseq_match", false)
	l.SetBool("req_has_session", reqHasSession)
	l.SetBool("resp_has_session", false)
	l.SetBool("session_established", a.sessionEstablished)
	l.SetBool("session_id_match", sessionIDMatch)
	l.SetBool("session_id_changed", false)
	l.SetBool("teardown_for_existing_session", teardownForExisting)
	l.SetBool("teardown_without_session", teardownWithoutSession)
	l.SetBool("transport_req_udp", transport.udp)
	l.SetBool("transport_req_tcp", transport.tcp)
	l.SetBool("transport_resp_udp", false)
	l.SetBool("transport_resp_tcp", false)
	l.SetBool("transport_client_ports_present", transport.clientPorts)
	l.SetBool("transport_server_ports_present", false)
	l.SetInt("setup_success_count", a.setupSuccessCount)
	l.SetInt("play_success_count", a.playSuccessCount)
	l.SetBool("all_tracks_setup", a.totalTracks > 0 && a.setupSuccessCount >= a.totalTracks)
	l.SetBool("keepalive_getparam", keepaliveGetparam)
	l.SetBool("keepalive_failed", false)
	l.SetBool("timeout", false)
	l.SetBool("transport_resp_port_zero", false)
	l.SetBool("resp_cseq_valid", true)
	l.SetBool("req_uri_in_session", uriInSession)
	l.SetBool("resp_empty", false)

	a.msgID++
	return common.AppendTrace(l.String(), a.msgID, common.C2S, buf)
}

// BuildResponsePredLine builds the predicate line for a server->client
// response, correlated against the most recent request.
func (a *Adapter) BuildResponsePredLine(buf []byte) string {
	respStatusCode := 0
	respCSeq := -1
	respHasSession := false
	respSessionID := ""
	respMalformed := false
	respTransport := transportInfo{}
	respCSeqValid := true
	respEmpty := len(buf) == 0
	timeout := len(buf) == 0

	if len(buf) > 0 {
		respMalformed = isMalformedResponse(buf)
	}

	if !respMalformed && len(buf) > 0 {
		lines := extractLines(buf)
		foundCSeq := false
		if len(lines) > 0 {
			respStatusCode = parseResponseStatus(lines[0])
		}
		for _, line := range lines[1:] {
			if line == "" {
				break
			}
			switch {
			case hasPrefixFold(line, "CSeq:"):
				respCSeq = parseCSeq(line)
				respCSeqValid = checkCSeqValid(line)
				foundCSeq = true
			case hasPrefixFold(line, "Session:"):
				respHasSession = true
				respSessionID = parseSession(line)
			case hasPrefixFold(line, "Transport:"):
				t := parseTransport(line)
				respTransport.udp, respTransport.tcp = t.udp, t.tcp
				respTransport.serverPorts, respTransport.portZero = t.serverPorts, t.portZero
			}
		}
		if !foundCSeq {
			respCSeqValid = false
		}
	} else if len(buf) == 0 {
		respCSeqValid = false
	}

	class := statusClass(respStatusCode)
	cseqMatch := a.lastReqCSeq > 0 && respCSeq > 0 && a.lastReqCSeq == respCSeq

	sessionIDChanged := false
	if a.lastReqMethod == "mSETUP" && isSuccess(respStatusCode) && respHasSession {
		if !a.sessionEstablished {
			a.sessionID = respSessionID
			a.sessionEstablished = true
			a.totalTracks = 1
		} else if a.sessionID != respSessionID {
			sessionIDChanged = true
		}
		a.setupSuccessCount++
		a.recordSetupURI(a.lastReqURI)
	}

	if a.lastReqMethod == "mPLAY" && isSuccess(respStatusCode) {
		a.playSuccessCount++
	}

	sessionIDMatch := false
	if a.lastReqHasSession && a.sessionEstablished {
		sessionIDMatch = a.lastReqSessionID == a.sessionID
	}

	teardownForExisting, teardownWithoutSession := false, false
	if a.lastReqMethod == "mTEARDOWN" {
		if a.lastReqHasSession && a.sessionEstablished && sessionIDMatch {
			teardownForExisting = true
		}
		if !a.lastReqHasSession {
			teardownWithoutSession = true
		}
		if isSuccess(respStatusCode) {
			a.sessionEstablished = false
		}
	}

	keepaliveFailed := false
	if a.lastReqMethod == "mGET_PARAMETER" && a.lastReqHasSession {
		if timeout || respStatusCode >= 400 {
			keepaliveFailed = true
		}
	}

	uriInSession := false
	if a.sessionEstablished && a.lastReqURI != "" {
		uriInSession = a.checkURIInSession(a.lastReqURI)
	}

	l := &common.Line{}
	l.Set("rtsp_method", a.lastReqMethod)
	l.Set("status_class", class)
	l.SetInt("req_cseq", a.lastReqCSeq)
	l.SetInt("resp_cseq", respCSeq)
	l.SetInt("resp_status_code", respStatusCode)
	l.SetBool("req_malformed", a.lastReqMalformed)
	l.SetBool("resp_malformed", respMalformed)
	l.SetBool("cseq_match", cseqMatch)
	l.SetBool("req_has_session", a.lastReqHasSession)
	l.SetBool("resp_has_session", respHasSession)
	l.SetBool("session_established", a.sessionEstablished)
	l.SetBool("session_id_match", sessionIDMatch)
	l.SetBool("session_id_changed", sessionIDChanged)
	l.SetBool("teardown_for_existing_session", teardownForExisting)
	l.SetBool("teardown_without_session", teardownWithoutSession)
	l.SetBool("transport_req_udp", a.lastReqTransportUDP)
	l.SetBool("transport_req_tcp", a.lastReqTransportTCP)
	l.SetBool("transport_resp_udp", respTransport.udp)
	l.SetBool("transport_resp_tcp", respTransport.tcp)
	l.SetBool("transport_client_ports_present", a.lastReqClientPorts)
	l.SetBool("transport_server_ports_present", respTransport.serverPorts)
	l.SetInt("setup_success_count", a.setupSuccessCount)
	l.SetInt("play_success_count", a.playSuccessCount)
	l.SetBool("all_tracks_setup", a.totalTracks > 0 && a.setupSuccessCount >= a.totalTracks)
	l.SetBool("keepalive_getparam", false)
	l.SetBool("keepalive_failed", keepaliveFailed)
	l.SetBool("timeout", timeout)
	l.SetBool("transport_resp_port_zero", respTransport.portZero)
	l.SetBool("resp_cseq_valid", respCSeqValid)
	l.SetBool("req_uri_in_session", uriInSession)
	l.SetBool("resp_empty", respEmpty)

	a.msgID++
	return common.AppendTrace(l.String(), a.msgID, common.S2C, buf)
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
