// Package sip implements the direction-aware SIP (RFC 3261) predicate
// adapter. No original C source survived retrieval for this protocol
// (only header/stub bodies exist in original_source/), so the field
// vocabulary and enum spellings are built directly from the prose
// contract, following the naming conventions the grounded adapters
// (DTLS, RTSP) establish: snake_case fields, short-prefixed enums.
package sip

import (
	"strconv"
	"strings"

	"github.com/ptltl/monitor/adapters/common"
)

// Dialog, transaction, and registration states, per RFC 3261's state
// machines.
const (
	dialogNone       = "dsNone"
	dialogEarly      = "dsEarly"
	dialogConfirmed  = "dsConfirmed"
	dialogTerminated = "dsTerminated"

	transactionNone       = "tsNone"
	transactionProceeding = "tsProceeding"
	transactionCompleted  = "tsCompleted"

	regNotRegistered = "rsNotRegistered"
	regRegistering   = "rsRegistering"
	regRegistered    = "rsRegistered"
)

// Adapter owns one SIP dialog's reconstructed state.
type Adapter struct {
	dialogState      string
	transactionState string
	registrationState string
	authRequired     bool
	inviteInProgress bool

	lastReqMethod string
	lastReqCSeq   int

	msgID uint64
}

// New returns a fresh Adapter ready for a new dialog.
func New() *Adapter {
	return &Adapter{
		dialogState:       dialogNone,
		transactionState:  transactionNone,
		registrationState: regNotRegistered,
		lastReqCSeq:       -1,
		lastReqMethod:     "mNotSet",
	}
}

// ResetSession clears all per-session state.
func (a *Adapter) ResetSession() { *a = *New() }

func sipMethodEnum(verb string) string {
	switch strings.ToUpper(verb) {
	case "INVITE":
		return "mINVITE"
	case "ACK":
		return "mACK"
	case "BYE":
		return "mBYE"
	case "CANCEL":
		return "mCANCEL"
	case "REGISTER":
		return "mREGISTER"
	case "OPTIONS":
		return "mOPTIONS"
	case "INFO":
		return "mINFO"
	case "PRACK":
		return "mPRACK"
	case "UPDATE":
		return "mUPDATE"
	case "SUBSCRIBE":
		return "mSUBSCRIBE"
	case "NOTIFY":
		return "mNOTIFY"
	case "MESSAGE":
		return "mMESSAGE"
	default:
		return "mNotSet"
	}
}

func statusClassFor(code int) string {
	switch {
	case code == 0:
		return "scNotSet"
	case code >= 100 && code < 200:
		return "sc1xx"
	case code >= 200 && code < 300:
		return "sc2xx"
	case code >= 300 && code < 400:
		return "sc3xx"
	case code >= 400 && code < 500:
		return "sc4xx"
	case code >= 500 && code < 600:
		return "sc5xx"
	default:
		return "scNotSet"
	}
}

func extractLines(buf []byte) []string {
	text := strings.ReplaceAll(string(buf), "\r\n", "\n")
	return strings.Split(text, "\n")
}

func headerValue(line string) (string, bool) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", false
	}
	return strings.TrimSpace(line[idx+1:]), true
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func parseCSeq(v string) (int, string) {
	fields := strings.Fields(v)
	if len(fields) < 2 {
		return -1, ""
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return -1, ""
	}
	return n, strings.ToUpper(fields[1])
}

func hasToTag(v string) bool {
	return strings.Contains(v, ";tag=")
}

type parsed struct {
	isRequest   bool
	method      string
	statusCode  int
	hasToTag    bool
	cseqNum     int
	cseqMethod  string
	maxForwards int
	contentLen  int
	authHeader  bool
	malformed   bool
}

func parseMessage(buf []byte, wantRequest bool) parsed {
	p := parsed{cseqNum: -1, maxForwards: -1, contentLen: -1}
	if len(buf) == 0 {
		p.malformed = true
		return p
	}
	lines := extractLines(buf)
	if len(lines) == 0 || lines[0] == "" {
		p.malformed = true
		return p
	}

	first := lines[0]
	if wantRequest {
		fields := strings.Fields(first)
		if len(fields) < 3 || !strings.HasPrefix(fields[2], "SIP/") {
			p.malformed = true
			return p
		}
		p.isRequest = true
		p.method = sipMethodEnum(fields[0])
	} else {
		fields := strings.Fields(first)
		if len(fields) < 2 || !strings.HasPrefix(fields[0], "SIP/") {
			p.malformed = true
			return p
		}
		code, err := strconv.Atoi(fields[1])
		if err != nil {
			p.malformed = true
			return p
		}
		p.statusCode = code
	}

	for _, line := range lines[1:] {
		if line == "" {
			break
		}
		switch {
		case hasPrefixFold(line, "To:"):
			if v, ok := headerValue(line); ok {
				p.hasToTag = hasToTag(v)
			}
		case hasPrefixFold(line, "CSeq:"):
			if v, ok := headerValue(line); ok {
				p.cseqNum, p.cseqMethod = parseCSeq(v)
			}
		case hasPrefixFold(line, "Max-Forwards:"):
			if v, ok := headerValue(line); ok {
				if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
					p.maxForwards = n
				}
			}
		case hasPrefixFold(line, "Content-Length:"):
			if v, ok := headerValue(line); ok {
				if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
					p.contentLen = n
				}
			}
		case hasPrefixFold(line, "Authorization:"), hasPrefixFold(line, "Proxy-Authorization:"):
			p.authHeader = true
		}
	}
	return p
}

func (a *Adapter) applyTransition(method string, statusCode int, hasToTag bool) {
	class := statusClassFor(statusCode)

	if method == "mINVITE" {
		if class == "sc1xx" && hasToTag {
			a.dialogState = dialogEarly
		}
		if class == "sc2xx" {
			a.dialogState = dialogConfirmed
		}
	}
	if method == "mBYE" && class == "sc2xx" {
		a.dialogState = dialogTerminated
	}
	if statusCode == 401 || statusCode == 407 {
		a.authRequired = true
	}
	if method == "mREGISTER" && class == "sc2xx" {
		a.registrationState = regRegistered
	}
}

func (a *Adapter) build(buf []byte, dir common.Direction) string {
	isRequest := dir == common.C2S
	p := parseMessage(buf, isRequest)

	if isRequest {
		a.lastReqMethod = p.method
		a.lastReqCSeq = p.cseqNum
		if p.method == "mINVITE" {
			a.inviteInProgress = true
			a.transactionState = transactionProceeding
		}
		if p.method == "mREGISTER" {
			a.registrationState = regRegistering
		}
	} else {
		a.applyTransition(a.lastReqMethod, p.statusCode, p.hasToTag)
		if statusClassFor(p.statusCode) != "sc1xx" && p.statusCode != 0 {
			a.transactionState = transactionCompleted
			if a.lastReqMethod == "mINVITE" {
				a.inviteInProgress = false
			}
		}
	}

	sipMsgType := "response"
	if isRequest {
		sipMsgType = "request"
	}
	method := p.method
	if !isRequest {
		method = a.lastReqMethod
	}

	l := &common.Line{}
	l.Set("sip_msg_type", sipMsgType)
	l.Set("sip_method", method)
	l.SetInt("status_code", p.statusCode)
	l.Set("status_class", statusClassFor(p.statusCode))
	l.Set("dialog_state", a.dialogState)
	l.Set("transaction_state", a.transactionState)
	l.Set("registration_state", a.registrationState)
	l.SetBool("auth_required", a.authRequired)
	l.SetBool("auth_provided", p.authHeader)
	l.SetBool("invite_in_progress", a.inviteInProgress)
	l.SetBool("has_to_tag", p.hasToTag)
	l.SetInt("cseq_num", p.cseqNum)
	l.Set("cseq_method", orNotSet(p.cseqMethod))
	l.SetBool("cseq_match", p.cseqNum >= 0 && p.cseqNum == a.lastReqCSeq)
	l.SetInt("max_forwards", p.maxForwards)
	l.SetInt("content_length", p.contentLen)
	l.SetBool("malformed", p.malformed)
	l.SetBool("timeout", len(buf) == 0)

	a.msgID++
	return common.AppendTrace(l.String(), a.msgID, dir, buf)
}

func orNotSet(s string) string {
	if s == "" {
		return "methodNotSet"
	}
	return s
}

// BuildRequestPredLine builds the predicate line for a client->server
// request.
func (a *Adapter) BuildRequestPredLine(buf []byte) string {
	return a.build(buf, common.C2S)
}

// BuildResponsePredLine builds the predicate line for a server->client
// response.
func (a *Adapter) BuildResponsePredLine(buf []byte) string {
	return a.build(buf, common.S2C)
}
