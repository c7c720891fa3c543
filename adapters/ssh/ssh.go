// Package ssh implements the direction-aware SSH transport predicate
// adapter (RFC 4253/4252/4254 message framing). Grounded bit-exact on
// original_source/.../ssh_predicate_adapter.c. A supplemental adapter:
// the spec names it alongside DTLS/DNS/RTSP/SIP/FTP as a sixth
// protocol the evaluator must be agnostic to.
//
// golang.org/x/crypto/ssh defines the same RFC message numbers as
// unexported constants (msgKexInit and friends in its messages.go), so
// they can't be imported directly; the numeric constants below mirror
// that package's names and values instead of re-deriving them from the
// RFC by hand.
package ssh

import "github.com/ptltl/monitor/adapters/common"

const (
	msgDisconnect        = 1
	msgUnimplemented     = 3
	msgServiceRequest    = 5
	msgServiceAccept     = 6
	msgKexInit           = 20
	msgNewKeys           = 21
	msgKexDHInit         = 30
	msgKexDHReply        = 31
	msgUserAuthRequest   = 50
	msgUserAuthFailure   = 51
	msgUserAuthSuccess   = 52
	msgUserAuthBanner    = 53
	msgGlobalRequest     = 80
	msgRequestSuccess    = 81
	msgRequestFailure    = 82
	msgChannelOpen       = 90
	msgChannelOpenConf   = 91
	msgChannelOpenFail   = 92
	msgChannelWinAdjust  = 93
	msgChannelData       = 94
	msgChannelEOF        = 96
	msgChannelClose      = 97
	msgChannelRequest    = 98
)

// Adapter owns one SSH session's reconstructed key-exchange and
// authentication state.
type Adapter struct {
	authAttempts        int
	lastAuthMethodNone  bool
	seenClientNewKeys   bool
	seenServerNewKeys   bool

	msgID uint64
}

// New returns a fresh Adapter ready for a new session.
func New() *Adapter { return &Adapter{} }

// ResetSession clears all per-session state.
func (a *Adapter) ResetSession() { *a = Adapter{} }

func isBanner(buf []byte) bool {
	return len(buf) >= 4 && string(buf[:4]) == "SSH-"
}

func readU32BE(buf []byte, off int) (uint32, int, bool) {
	if off+4 > len(buf) {
		return 0, off, false
	}
	v := uint32(buf[off])<<24 | uint32(buf[off+1])<<16 | uint32(buf[off+2])<<8 | uint32(buf[off+3])
	return v, off + 4, true
}

func readSSHString(buf []byte, off int) ([]byte, int, bool) {
	l, off, ok := readU32BE(buf, off)
	if !ok {
		return nil, off, false
	}
	if off+int(l) > len(buf) {
		return nil, off, false
	}
	return buf[off : off+int(l)], off + int(l), true
}

// parseUserAuthMethod extracts whether a USERAUTH_REQUEST names the
// "none" method, per RFC 4252 (username, service, method-name fields).
func parseUserAuthMethod(buf []byte) (isNone, ok bool) {
	if len(buf) < 2 {
		return false, false
	}
	off := 1
	var s []byte
	if s, off, ok = readSSHString(buf, off); !ok {
		return false, false
	}
	if s, off, ok = readSSHString(buf, off); !ok {
		return false, false
	}
	if s, off, ok = readSSHString(buf, off); !ok {
		return false, false
	}
	return string(s) == "none", true
}

// parseChannelDataLen extracts the payload length of a CHANNEL_DATA
// message, per RFC 4254 (recipient channel, then the data string).
func parseChannelDataLen(buf []byte) int {
	if len(buf) < 1+4+4 {
		return 0
	}
	off := 1
	var ok bool
	if _, off, ok = readU32BE(buf, off); !ok {
		return 0
	}
	dataLen, off, ok := readU32BE(buf, off)
	if !ok || off+int(dataLen) > len(buf) {
		return 0
	}
	return int(dataLen)
}

func (a *Adapter) encryptedNow() bool {
	return a.seenClientNewKeys && a.seenServerNewKeys
}

func requestEnumForType(t byte) string {
	switch t {
	case msgKexInit:
		return "c2s_kexinit"
	case msgNewKeys:
		return "c2s_newkeys_request"
	case msgKexDHInit:
		return "c2s_kexdh_init"
	case msgServiceRequest:
		return "c2s_service_request_userauth"
	case msgUserAuthRequest:
		return "c2s_userauth_request"
	case msgChannelOpen:
		return "c2s_channel_open"
	case msgChannelWinAdjust:
		return "c2s_channel_window_adjust"
	case msgChannelData:
		return "c2s_channel_data"
	case msgChannelEOF:
		return "c2s_channel_eof"
	case msgChannelClose:
		return "c2s_channel_close"
	case msgChannelRequest:
		return "c2s_channel_request"
	case msgGlobalRequest:
		return "c2s_global_request"
	case msgDisconnect:
		return "c2s_disconnect"
	case msgUnimplemented:
		return "c2s_unimplemented"
	default:
		return "requestNotSet"
	}
}

func responseEnumForType(t byte) string {
	switch t {
	case msgKexInit:
		return "s2c_kexinit"
	case msgNewKeys:
		return "s2c_newkeys_response"
	case msgKexDHReply:
		return "s2c_kexdh_reply"
	case msgServiceAccept:
		return "s2c_service_accept_userauth"
	case msgUserAuthFailure:
		return "s2c_userauth_failure"
	case msgUserAuthSuccess:
		return "s2c_userauth_success"
	case msgUserAuthBanner:
		return "s2c_userauth_banner"
	case msgChannelOpenConf:
		return "s2c_channel_open_confirmation"
	case msgChannelOpenFail:
		return "s2c_channel_open_failure"
	case msgChannelWinAdjust:
		return "s2c_channel_window_adjust"
	case msgChannelData:
		return "s2c_channel_data"
	case msgChannelEOF:
		return "s2c_channel_eof"
	case msgChannelClose:
		return "s2c_channel_close"
	case msgRequestSuccess, msgRequestFailure:
		return "s2c_global_request_response"
	case msgDisconnect:
		return "s2c_disconnect"
	case msgUnimplemented:
		return "s2c_unimplemented"
	default:
		return "responseNotSet"
	}
}

// BuildRequestPredLine builds the predicate line for a client->server
// packet.
func (a *Adapter) BuildRequestPredLine(buf []byte) string {
	if isBanner(buf) {
		l := &common.Line{}
		l.Set("request", "requestNotSet")
		l.Set("response", "responseNotSet")
		a.appendCommonFalse(l, len(buf))
		a.msgID++
		return common.AppendTrace(l.String(), a.msgID, common.C2S, buf)
	}

	t := msgType(buf)
	encrypted := a.encryptedNow()
	hostkeyPresent, sigOK := false, false
	chanDataLen := 0

	if t == msgNewKeys {
		a.seenClientNewKeys = true
		encrypted = a.encryptedNow()
	}
	if t == msgUserAuthRequest {
		a.authAttempts++
		isNone, ok := parseUserAuthMethod(buf)
		a.lastAuthMethodNone = ok && isNone
	}
	if t == msgChannelData {
		chanDataLen = parseChannelDataLen(buf)
	}

	l := &common.Line{}
	l.Set("request", requestEnumForType(t))
	l.Set("response", "responseNotSet")
	l.SetBool("encrypted", encrypted)
	l.SetBool("mac_ok", true)
	l.SetBool("hostkey_present", hostkeyPresent)
	l.SetBool("sig_ok", sigOK)
	l.SetInt("pkt_len", len(buf))
	l.SetInt("pad_len", -1)
	l.SetInt("chan_data_len", chanDataLen)
	l.SetInt("auth_attempts", a.authAttempts)
	l.SetBool("is_auth_method_none", a.lastAuthMethodNone)

	a.msgID++
	return common.AppendTrace(l.String(), a.msgID, common.C2S, buf)
}

// BuildResponsePredLine builds the predicate line for a server->client
// packet.
func (a *Adapter) BuildResponsePredLine(buf []byte) string {
	if isBanner(buf) {
		l := &common.Line{}
		l.Set("request", "requestNotSet")
		l.Set("response", "s2c_banner")
		a.appendCommonFalse(l, len(buf))
		a.msgID++
		return common.AppendTrace(l.String(), a.msgID, common.S2C, buf)
	}

	t := msgType(buf)
	encrypted := a.encryptedNow()
	hostkeyPresent, sigOK := false, false
	chanDataLen := 0

	if t == msgNewKeys {
		a.seenServerNewKeys = true
		encrypted = a.encryptedNow()
	}
	if t == msgKexDHReply {
		hostkeyPresent, sigOK = true, true
	}
	if t == msgChannelData {
		chanDataLen = parseChannelDataLen(buf)
	}

	l := &common.Line{}
	l.Set("request", "requestNotSet")
	l.Set("response", responseEnumForType(t))
	l.SetBool("encrypted", encrypted)
	l.SetBool("mac_ok", true)
	l.SetBool("hostkey_present", hostkeyPresent)
	l.SetBool("sig_ok", sigOK)
	l.SetInt("pkt_len", len(buf))
	l.SetInt("pad_len", -1)
	l.SetInt("chan_data_len", chanDataLen)
	l.SetInt("auth_attempts", a.authAttempts)
	l.SetBool("is_auth_method_none", a.lastAuthMethodNone)

	a.msgID++
	return common.AppendTrace(l.String(), a.msgID, common.S2C, buf)
}

func msgType(buf []byte) byte {
	if len(buf) == 0 {
		return 0
	}
	return buf[0]
}

func (a *Adapter) appendCommonFalse(l *common.Line, pktLen int) {
	l.SetBool("encrypted", false)
	l.SetBool("mac_ok", true)
	l.SetBool("hostkey_present", false)
	l.SetBool("sig_ok", false)
	l.SetInt("pkt_len", pktLen)
	l.SetInt("pad_len", -1)
	l.SetInt("chan_data_len", 0)
	l.SetInt("auth_attempts", a.authAttempts)
	l.SetBool("is_auth_method_none", a.lastAuthMethodNone)
}
