// Package driver implements the event-stream driver loop (spec §4.7):
// reads event lines and control markers from a byte stream, feeds the
// evaluator, and reports violations subject to a per-protocol filter.
package driver

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ptltl/monitor/internal/evaluator"
	"github.com/ptltl/monitor/internal/specast"
	"github.com/ptltl/monitor/internal/spectypes"
	"github.com/ptltl/monitor/internal/state"
	"github.com/ptltl/monitor/internal/tracescrub"
	"github.com/ptltl/monitor/internal/violationlog"
)

// reserved meta keys an adapter may append for debugging; stripped
// before the remaining kv pairs become a State.
var reservedKeys = map[string]bool{
	"msg_id": true,
	"dir":    true,
	"trace":  true,
}

// MalformedEventLine is a non-fatal warning: an event line didn't parse
// as whitespace-separated key=value tokens.
type MalformedEventLine struct {
	Line   string
	Reason string
}

func (e *MalformedEventLine) Error() string {
	return fmt.Sprintf("malformed event line %q: %s", e.Line, e.Reason)
}

// DroppedEventError is fatal: the driver must not reorder or silently
// drop events (spec §5), so a read failure mid-stream surfaces here
// rather than being swallowed.
type DroppedEventError struct {
	Cause error
}

func (e *DroppedEventError) Error() string {
	return fmt.Sprintf("driver: event dropped: %v", e.Cause)
}

// Logf is a minimal logging hook so the driver stays decoupled from any
// particular logging library; cmd/monitor wires this to slog.
type Logf func(format string, args ...any)

// Driver owns one evaluator instance, the per-session trace/packet
// buffers, and the counters snapshot save/restore rides along with.
type Driver struct {
	spec *specast.Spec
	ctx  *spectypes.Context
	eval *evaluator.Evaluator
	tag  string

	out   io.Writer
	vlog  *violationlog.Writer
	scrub *tracescrub.Scrubber
	log   Logf

	sessionCounter int
	eventCounter   int
	trace          []string
	packetWindow   []string
}

const packetWindowCap = 16

// New builds a Driver. tag selects the violation filter (spec §4.7);
// unknown tags report every false verdict unconditionally.
func New(spec *specast.Spec, ctx *spectypes.Context, eval *evaluator.Evaluator, tag string, out io.Writer, vlog *violationlog.Writer, scrub *tracescrub.Scrubber, log Logf) *Driver {
	if log == nil {
		log = func(string, ...any) {}
	}
	return &Driver{spec: spec, ctx: ctx, eval: eval, tag: tag, out: out, vlog: vlog, scrub: scrub, log: log}
}

// FatalError wraps an error that should terminate the run with the
// evaluator-state exit code (spec §6 exit code 3).
type FatalError struct{ Cause error }

func (e *FatalError) Error() string { return e.Cause.Error() }
func (e *FatalError) Unwrap() error { return e.Cause }

// Run processes r line by line until EOF, returning nil on a clean EOF
// or a *FatalError / *DroppedEventError on an unrecoverable condition.
func (d *Driver) Run(r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := d.handleLine(line); err != nil {
			if fe, ok := err.(*FatalError); ok {
				return fe
			}
			d.log("driver: %v", err)
		}
	}
	if err := sc.Err(); err != nil {
		return &DroppedEventError{Cause: err}
	}
	return nil
}

func (d *Driver) handleLine(line string) error {
	switch {
	case line == "__END_SESSION__":
		d.eval.Reset()
		d.trace = nil
		d.packetWindow = nil
		d.sessionCounter++
		return nil

	case strings.HasPrefix(line, "__SAVE_STATE__"):
		id, err := parseControlID(line, "__SAVE_STATE__")
		if err != nil {
			return &MalformedEventLine{Line: line, Reason: err.Error()}
		}
		d.eval.Save(id, evaluator.DriverCounters{SessionCounter: d.sessionCounter, EventCounter: d.eventCounter})
		d.writeReply("STATE_SAVED:%d", id)
		return nil

	case strings.HasPrefix(line, "__RESTORE_STATE__"):
		id, err := parseControlID(line, "__RESTORE_STATE__")
		if err != nil {
			return &MalformedEventLine{Line: line, Reason: err.Error()}
		}
		counters, ok := d.eval.Restore(id)
		if !ok {
			d.writeReply("STATE_RESTORE_FAILED:%d", id)
			return nil
		}
		d.sessionCounter = counters.SessionCounter
		d.eventCounter = counters.EventCounter
		if counters.EventCounter <= len(d.trace) {
			d.trace = d.trace[:counters.EventCounter]
		}
		d.writeReply("STATE_RESTORED:%d", id)
		return nil
	}

	return d.handleEvent(line)
}

func parseControlID(line, marker string) (int64, error) {
	rest := strings.TrimSpace(strings.TrimPrefix(line, marker))
	if rest == "" {
		return 0, fmt.Errorf("missing id")
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad id %q", rest)
	}
	return id, nil
}

func (d *Driver) handleEvent(line string) error {
	kv, err := parseKV(line)
	if err != nil {
		return &MalformedEventLine{Line: line, Reason: err.Error()}
	}

	if tr, ok := kv["trace"]; ok && d.scrub != nil {
		d.packetWindow = append(d.packetWindow, d.scrub.RedactHex(tr))
		if len(d.packetWindow) > packetWindowCap {
			d.packetWindow = d.packetWindow[len(d.packetWindow)-packetWindowCap:]
		}
	}

	st := state.New(d.ctx)
	for k, v := range kv {
		if reservedKeys[k] {
			continue
		}
		if err := st.AddLabel(k, v); err != nil {
			return &MalformedEventLine{Line: line, Reason: err.Error()}
		}
	}

	if !st.IsSane(d.ctx) {
		return &MalformedEventLine{Line: line, Reason: "event labels are not type-sane against the spec's type context"}
	}

	d.trace = append(d.trace, line)
	d.eventCounter++

	verdicts, err := d.eval.EvaluateOneStep(st)
	if err != nil {
		return &FatalError{Cause: err}
	}

	var violated []violationlog.Property
	for i, v := range verdicts {
		if v {
			continue
		}
		if !d.filterAllows(kv) {
			d.log("filtered violation: formula %d (tag=%s)", i, d.tag)
			continue
		}
		violated = append(violated, violationlog.Property{Index: i, Source: d.spec.FormulaString(i)})
	}

	if len(violated) == 0 {
		return nil
	}

	d.writeReply("VIOLATION_DETECTED:%d", d.eventCounter)
	if d.vlog != nil {
		_ = d.vlog.Append(violationlog.Record{
			SessionCounter: d.sessionCounter,
			EventCounter:   d.eventCounter,
			Properties:     violated,
			Trace:          append([]string(nil), d.trace...),
			PacketWindow:   append([]string(nil), d.packetWindow...),
		})
	}
	return nil
}

func (d *Driver) writeReply(format string, args ...any) {
	fmt.Fprintf(d.out, format+"\n", args...)
	if f, ok := d.out.(interface{ Flush() error }); ok {
		_ = f.Flush()
	}
}

func parseKV(line string) (map[string]string, error) {
	out := make(map[string]string)
	for _, tok := range strings.Fields(line) {
		eq := strings.IndexByte(tok, '=')
		if eq <= 0 {
			return nil, fmt.Errorf("token %q is not key=value", tok)
		}
		key, val := tok[:eq], tok[eq+1:]
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("duplicate key %q", key)
		}
		out[key] = val
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no key=value tokens")
	}
	return out, nil
}

// filterAllows applies the protocol-specific violation filter (spec
// §4.7): a filtered verdict is one whose event carries evidence the
// event itself is garbled or incomplete, not a genuine property
// violation. Missing fields are treated as failing the filter's
// requirement, since an adapter that didn't emit the field can't attest
// to it.
func (d *Driver) filterAllows(kv map[string]string) bool {
	switch d.tag {
	case "dns", "dnsmasq":
		return kv["response_valid"] == "true"
	case "ssh":
		return kv["encrypted"] == "true" && kv["mac_ok"] == "true"
	case "rtsp":
		sc, ok := kv["status_class"]
		return kv["timeout"] == "false" && ok && sc != "scNotSet"
	case "dtls":
		resp, ok := kv["response"]
		return ok && resp != "responseNotSet"
	case "sip":
		return kv["sip_msg_type"] == "response" && kv["timeout"] == "false"
	case "ftp":
		sc, ok := kv["ftp_status_class"]
		return kv["timeout"] == "false" && ok && sc != "scNotSet"
	default:
		return true
	}
}
