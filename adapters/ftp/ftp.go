// Package ftp implements the direction-aware FTP (RFC 959) predicate
// adapter. Like sip, no original C source survived retrieval (only
// header/stub bodies exist in original_source/), so the field
// vocabulary is built from the prose contract, following the naming
// conventions the grounded adapters establish.
package ftp

import (
	"strconv"
	"strings"

	"github.com/ptltl/monitor/adapters/common"
)

const (
	authNone          = "asNone"
	authUserSent      = "asUserSent"
	authAuthenticated = "asAuthenticated"

	dataModeNone = "dmNone"
	dataModePORT = "dmPORT"
	dataModePASV = "dmPASV"

	transferNone       = "xsNone"
	transferInProgress = "xsInProgress"
	transferComplete   = "xsComplete"
	transferAborted    = "xsAborted"

	defaultSequenceCap = 256
)

// Adapter owns one FTP control-connection session's reconstructed
// state. SequenceCap bounds the sequence_num counter (wrapping instead
// of growing unboundedly across a long fuzzing run); zero means
// defaultSequenceCap.
type Adapter struct {
	SequenceCap int

	authState    string
	dataMode     string
	transferState string
	renamePending bool
	loginSuccessful bool
	passSent      bool

	lastCommand string
	sequenceNum int

	msgID uint64
}

// New returns a fresh Adapter ready for a new session.
func New() *Adapter {
	return &Adapter{
		authState:     authNone,
		dataMode:      dataModeNone,
		transferState: transferNone,
		lastCommand:   "cmdNotSet",
	}
}

// ResetSession clears all per-session state, per RFC 959's REIN
// command: a fresh session as if just connected.
func (a *Adapter) ResetSession() {
	cap := a.SequenceCap
	*a = Adapter{SequenceCap: cap, authState: authNone, dataMode: dataModeNone,
		transferState: transferNone, lastCommand: "cmdNotSet"}
}

func (a *Adapter) sequenceCap() int {
	if a.SequenceCap > 0 {
		return a.SequenceCap
	}
	return defaultSequenceCap
}

func (a *Adapter) bumpSequence() {
	a.sequenceNum = (a.sequenceNum + 1) % a.sequenceCap()
}

func commandEnum(verb string) string {
	switch strings.ToUpper(verb) {
	case "USER":
		return "cmdUSER"
	case "PASS":
		return "cmdPASS"
	case "PORT":
		return "cmdPORT"
	case "PASV":
		return "cmdPASV"
	case "RETR":
		return "cmdRETR"
	case "STOR":
		return "cmdSTOR"
	case "RNFR":
		return "cmdRNFR"
	case "RNTO":
		return "cmdRNTO"
	case "REIN":
		return "cmdREIN"
	case "QUIT":
		return "cmdQUIT"
	case "TYPE":
		return "cmdTYPE"
	case "LIST":
		return "cmdLIST"
	case "CWD":
		return "cmdCWD"
	case "ABOR":
		return "cmdABOR"
	default:
		return "cmdNotSet"
	}
}

func statusClassFor(code int) string {
	switch {
	case code == 0:
		return "scNotSet"
	case code >= 100 && code < 200:
		return "scPreliminary"
	case code >= 200 && code < 300:
		return "scSuccess"
	case code >= 300 && code < 400:
		return "scIntermediate"
	case code >= 400 && code < 500:
		return "scTransientError"
	case code >= 500 && code < 600:
		return "scPermanentError"
	default:
		return "scNotSet"
	}
}

func firstLine(buf []byte) string {
	text := strings.ReplaceAll(string(buf), "\r\n", "\n")
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		return text[:idx]
	}
	return text
}

// parseCommand splits "VERB arg" into (verb, arg); a malformed line (no
// uppercase-ish leading token) returns ok=false.
func parseCommand(line string) (verb, arg string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", "", false
	}
	fields := strings.SplitN(line, " ", 2)
	verb = fields[0]
	if len(fields) == 2 {
		arg = fields[1]
	}
	for _, r := range verb {
		if r < 'A' || r > 'Z' {
			if r < 'a' || r > 'z' {
				return verb, arg, false
			}
		}
	}
	return verb, arg, true
}

// parseResponseCode extracts the leading 3-digit code from a response
// line; 0 if absent/unparseable.
func parseResponseCode(line string) int {
	if len(line) < 3 {
		return 0
	}
	code, err := strconv.Atoi(line[:3])
	if err != nil {
		return 0
	}
	return code
}

// BuildRequestPredLine builds the predicate line for a client->server
// command.
func (a *Adapter) BuildRequestPredLine(buf []byte) string {
	malformed := len(buf) == 0
	var verb string
	if !malformed {
		var ok bool
		verb, _, ok = parseCommand(firstLine(buf))
		malformed = !ok
	}

	cmd := "cmdNotSet"
	if !malformed {
		cmd = commandEnum(verb)
	}
	a.lastCommand = cmd
	a.bumpSequence()

	if cmd == "cmdUSER" {
		a.authState = authUserSent
	}
	if cmd == "cmdPASS" {
		a.passSent = true
	}
	if cmd == "cmdPORT" {
		a.dataMode = dataModePORT
	}
	if cmd == "cmdPASV" {
		a.dataMode = dataModePASV
	}
	if cmd == "cmdRETR" || cmd == "cmdSTOR" {
		a.transferState = transferInProgress
	}
	if cmd == "cmdABOR" {
		a.transferState = transferAborted
	}
	if cmd == "cmdRNFR" {
		a.renamePending = true
	}
	if cmd == "cmdREIN" {
		a.ResetSession()
		cmd = "cmdREIN"
		a.lastCommand = cmd
	}

	l := &common.Line{}
	l.Set("ftp_command", cmd)
	l.Set("ftp_status_class", "scNotSet")
	l.SetInt("ftp_status_code", 0)
	l.Set("auth_state", a.authState)
	l.Set("data_mode", a.dataMode)
	l.Set("transfer_state", a.transferState)
	l.SetBool("rename_pending", a.renamePending)
	l.SetBool("login_successful", a.loginSuccessful)
	l.SetBool("pass_sent", a.passSent)
	l.SetInt("sequence_num", a.sequenceNum)
	l.SetBool("malformed", malformed)
	l.SetBool("timeout", false)

	a.msgID++
	return common.AppendTrace(l.String(), a.msgID, common.C2S, buf)
}

// BuildResponsePredLine builds the predicate line for a server->client
// response, interpreted against the most recently sent command.
// Code-to-command inference never happens here: an unsolicited response
// (lastCommand == cmdNotSet) cannot promote login_successful or
// rename_pending no matter what code arrives.
func (a *Adapter) BuildResponsePredLine(buf []byte) string {
	timeout := len(buf) == 0
	code := 0
	malformed := timeout
	if !timeout {
		line := firstLine(buf)
		code = parseResponseCode(line)
		malformed = code == 0
	}

	a.bumpSequence()

	class := statusClassFor(code)
	if class == "scSuccess" {
		switch a.lastCommand {
		case "cmdPASS":
			a.authState = authAuthenticated
			a.loginSuccessful = true
		case "cmdRETR", "cmdSTOR":
			a.transferState = transferComplete
		case "cmdRNTO":
			if a.renamePending {
				a.renamePending = false
			}
		}
	}
	if code >= 400 {
		switch a.lastCommand {
		case "cmdRETR", "cmdSTOR":
			a.transferState = transferAborted
		case "cmdRNFR", "cmdRNTO":
			a.renamePending = false
		}
	}

	l := &common.Line{}
	l.Set("ftp_command", a.lastCommand)
	l.Set("ftp_status_class", class)
	l.SetInt("ftp_status_code", code)
	l.Set("auth_state", a.authState)
	l.Set("data_mode", a.dataMode)
	l.Set("transfer_state", a.transferState)
	l.SetBool("rename_pending", a.renamePending)
	l.SetBool("login_successful", a.loginSuccessful)
	l.SetBool("pass_sent", a.passSent)
	l.SetInt("sequence_num", a.sequenceNum)
	l.SetBool("malformed", malformed)
	l.SetBool("timeout", timeout)

	a.msgID++
	return common.AppendTrace(l.String(), a.msgID, common.S2C, buf)
}
