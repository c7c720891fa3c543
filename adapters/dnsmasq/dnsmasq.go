// Package dnsmasq implements the direction-aware DNS predicate adapter
// (RFC 1035 header/question parsing). Grounded bit-exact on
// original_source/.../dnsmasq_predicate_adapter.c, including its
// documented direction-split fix: direction comes from which builder
// method is called, never from the packet's QR bit, since a fuzzed
// C2S packet can have QR=1 set.
package dnsmasq

import "github.com/ptltl/monitor/adapters/common"

const (
	opcodeQuery  = 0
	opcodeIQuery = 1
	opcodeStatus = 2

	rcodeNoError  = 0
	rcodeFormErr  = 1
	rcodeServFail = 2
	rcodeNXDomain = 3
	rcodeNotImp   = 4
	rcodeRefused  = 5

	qtypeA     = 1
	qtypeNS    = 2
	qtypeCNAME = 5
	qtypeSOA   = 6
	qtypePTR   = 12
	qtypeMX    = 15
	qtypeTXT   = 16
	qtypeAAAA  = 28
	qtypeANY   = 255

	flagAA = 0x0400
	flagTC = 0x0200
	flagRD = 0x0100
	flagRA = 0x0080
	flagAD = 0x0020
	flagCD = 0x0010

	defaultRingCapacity = 64
	maxNameJumps        = 5
)

type queryRecord struct {
	queryID  uint16
	qtype    uint16
	answered bool
}

// Adapter owns one session's query ring. RingCapacity configures how
// many in-flight/recently-answered queries are tracked before the
// oldest is evicted; zero means defaultRingCapacity.
type Adapter struct {
	RingCapacity int

	ring  []queryRecord
	msgID uint64
}

// New returns a fresh Adapter with the default ring capacity.
func New() *Adapter { return &Adapter{} }

// ResetSession clears the query ring.
func (a *Adapter) ResetSession() {
	a.ring = nil
}

func (a *Adapter) capacity() int {
	if a.RingCapacity > 0 {
		return a.RingCapacity
	}
	return defaultRingCapacity
}

func readU16BE(p []byte) uint16 { return uint16(p[0])<<8 | uint16(p[1]) }

func parseHeader(buf []byte) (id, flags, qdcount, ancount, nscount, arcount uint16, ok bool) {
	if len(buf) < 12 {
		return 0, 0, 0, 0, 0, 0, false
	}
	return readU16BE(buf[0:2]), readU16BE(buf[2:4]), readU16BE(buf[4:6]),
		readU16BE(buf[6:8]), readU16BE(buf[8:10]), readU16BE(buf[10:12]), true
}

// skipName walks a DNS name starting at offset, returning the offset
// just past it. Unlike the original C (whose jump counter was declared
// but never incremented, so its "5 jump" pointer-compression cap never
// actually fired), this counts every step through the label chain and
// enforces the cap for real.
func skipName(buf []byte, offset int) int {
	pos := offset
	steps := 0
	for pos < len(buf) && steps < maxNameJumps {
		steps++
		labelLen := buf[pos]
		switch {
		case labelLen == 0:
			return pos + 1
		case labelLen&0xC0 == 0xC0:
			if pos+1 >= len(buf) {
				return 0
			}
			return pos + 2
		case labelLen&0xC0 == 0:
			pos += 1 + int(labelLen)
		default:
			return 0
		}
	}
	return 0
}

func parseFirstQuestionQtype(buf []byte, qdcount uint16) uint16 {
	if qdcount == 0 {
		return 0
	}
	pos := skipName(buf, 12)
	if pos == 0 || pos+4 > len(buf) {
		return 0
	}
	return readU16BE(buf[pos : pos+2])
}

func qtypeToString(qtype uint16) string {
	switch qtype {
	case qtypeA:
		return "A"
	case qtypeAAAA:
		return "AAAA"
	case qtypeMX:
		return "MX"
	case qtypeNS:
		return "NS"
	case qtypeCNAME:
		return "CNAME"
	case qtypePTR:
		return "PTR"
	case qtypeSOA:
		return "SOA"
	case qtypeTXT:
		return "TXT"
	case qtypeANY:
		return "ANY"
	default:
		return "QTYPE_UNKNOWN"
	}
}

func opcodeToString(opcode uint16) string {
	switch opcode {
	case opcodeQuery:
		return "QUERY"
	case opcodeIQuery:
		return "IQUERY"
	case opcodeStatus:
		return "STATUS"
	default:
		return "OPCODE_UNKNOWN"
	}
}

func rcodeToString(rcode uint16) string {
	switch rcode {
	case rcodeNoError:
		return "NOERROR"
	case rcodeFormErr:
		return "FORMERR"
	case rcodeServFail:
		return "SERVFAIL"
	case rcodeNXDomain:
		return "NXDOMAIN"
	case rcodeNotImp:
		return "NOTIMP"
	case rcodeRefused:
		return "REFUSED"
	default:
		return "RCODE_UNKNOWN"
	}
}

func (a *Adapter) trackQuery(id, qtype uint16) {
	if len(a.ring) >= a.capacity() {
		a.ring = a.ring[1:]
	}
	a.ring = append(a.ring, queryRecord{queryID: id, qtype: qtype})
}

// findMatch returns the index of the oldest untracked-as-answered entry
// matching id and qtype, mirroring the original's linear id+qtype scan.
func (a *Adapter) findMatch(id, qtype uint16) int {
	for i := range a.ring {
		if !a.ring[i].answered && a.ring[i].queryID == id && a.ring[i].qtype == qtype {
			return i
		}
	}
	return -1
}

// replayHit reports whether qtype was already answered earlier in the
// ring, and how many ring slots separate this match from that earlier
// answer (the "replay distance"). A small distance means the same
// question was asked again shortly after being answered, the case a
// resolver's cache would actually serve without going upstream.
func (a *Adapter) replayHit(matchIdx int, qtype uint16) (bool, int) {
	for i := matchIdx - 1; i >= 0; i-- {
		if a.ring[i].answered && a.ring[i].qtype == qtype {
			return true, matchIdx - i
		}
	}
	return false, 0
}

func errorLine(forceQuery, forceResponse bool) string {
	l := &common.Line{}
	l.Set("message_type", "messageNotSet")
	l.Set("opcode", "OPCODE_UNKNOWN")
	l.Set("rcode", "RCODE_UNKNOWN")
	l.Set("qtype", "QTYPE_UNKNOWN")
	l.SetBool("is_query", forceQuery)
	l.SetBool("is_response", forceResponse)
	l.SetBool("aa", false)
	l.SetBool("tc", false)
	l.SetBool("rd", false)
	l.SetBool("ra", false)
	l.SetBool("ad", false)
	l.SetBool("cd", false)
	l.SetInt("qdcount", -1)
	l.SetInt("ancount", -1)
	l.SetInt("nscount", -1)
	l.SetInt("arcount", -1)
	l.SetBool("response_valid", false)
	l.SetBool("dnssec_ok", false)
	l.SetInt("query_id", -1)
	l.SetBool("id_match", false)
	l.SetBool("cache_hit", false)
	l.SetBool("upstream_queried", false)
	return l.String()
}

// BuildRequestPredLine builds the predicate line for a client->dnsmasq
// query.
func (a *Adapter) BuildRequestPredLine(buf []byte) string {
	return a.build(buf, common.C2S)
}

// BuildResponsePredLine builds the predicate line for a dnsmasq->client
// response.
func (a *Adapter) BuildResponsePredLine(buf []byte) string {
	return a.build(buf, common.S2C)
}

func (a *Adapter) build(buf []byte, dir common.Direction) string {
	isQuery := dir == common.C2S
	isResponse := dir == common.S2C

	id, flags, qdcount, ancount, nscount, arcount, ok := parseHeader(buf)
	if !ok {
		line := errorLine(isQuery, isResponse)
		a.msgID++
		return common.AppendTrace(line, a.msgID, dir, buf)
	}

	opcode := (flags >> 11) & 0x0F
	aa := flags&flagAA != 0
	tc := flags&flagTC != 0
	rd := flags&flagRD != 0
	ra := flags&flagRA != 0
	ad := flags&flagAD != 0
	cd := flags&flagCD != 0
	rcode := flags & 0x0F

	msgType := "response"
	if isQuery {
		msgType = "query"
	}

	qtype := parseFirstQuestionQtype(buf, qdcount)

	idMatch := false
	cacheHit := false
	upstreamQueried := false

	if isQuery {
		a.trackQuery(id, qtype)
		upstreamQueried = true
	} else {
		matchIdx := a.findMatch(id, qtype)
		idMatch = matchIdx >= 0
		if idMatch && ancount > 0 && rcode == rcodeNoError {
			if hit, _ := a.replayHit(matchIdx, qtype); hit {
				cacheHit = true
			} else {
				upstreamQueried = true
			}
			a.ring[matchIdx].answered = true
		}
	}

	responseValid := isResponse && (rcode == rcodeNoError || rcode == rcodeNXDomain)
	dnssecOK := ad

	l := &common.Line{}
	l.Set("message_type", msgType)
	l.Set("opcode", opcodeToString(opcode))
	l.Set("rcode", rcodeToString(rcode))
	l.Set("qtype", qtypeToString(qtype))
	l.SetBool("is_query", isQuery)
	l.SetBool("is_response", isResponse)
	l.SetBool("aa", aa)
	l.SetBool("tc", tc)
	l.SetBool("rd", rd)
	l.SetBool("ra", ra)
	l.SetBool("ad", ad)
	l.SetBool("cd", cd)
	l.SetInt("qdcount", int(qdcount))
	l.SetInt("ancount", int(ancount))
	l.SetInt("nscount", int(nscount))
	l.SetInt("arcount", int(arcount))
	l.SetBool("response_valid", responseValid)
	l.SetBool("dnssec_ok", dnssecOK)
	l.SetInt("query_id", int(id))
	l.SetBool("id_match", idMatch)
	l.SetBool("cache_hit", cacheHit)
	l.SetBool("upstream_queried", upstreamQueried)

	a.msgID++
	return common.AppendTrace(l.String(), a.msgID, dir, buf)
}
