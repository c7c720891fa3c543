package driver

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ptltl/monitor/internal/evaluator"
	"github.com/ptltl/monitor/internal/parser"
	"github.com/ptltl/monitor/internal/preprocess"
	"github.com/ptltl/monitor/internal/specast"
	"github.com/ptltl/monitor/internal/spectypes"
	"github.com/ptltl/monitor/internal/typecheck"
)

func mustBuild(t *testing.T, src string) (*specast.Spec, *spectypes.Context, *evaluator.Evaluator) {
	t.Helper()
	spec, err := parser.Parse(src)
	require.NoError(t, err)
	ctx, err := typecheck.Check(spec)
	require.NoError(t, err)
	preprocess.Run(spec)
	return spec, ctx, evaluator.New(spec, ctx)
}

func newDriver(t *testing.T, src, tag string, out *strings.Builder) *Driver {
	t.Helper()
	spec, ctx, eval := mustBuild(t, src)
	return New(spec, ctx, eval, tag, out, nil, nil, nil)
}

func TestRunEvaluatesEventsAndSkipsBlankAndCommentLines(t *testing.T) {
	var out strings.Builder
	d := newDriver(t, `bool_type a; bool_type b; (a S b);`, "", &out)

	in := strings.NewReader("\n# comment\nb=true a=true\na=true b=false\na=false b=false\n")
	require.NoError(t, d.Run(in))
	require.Contains(t, out.String(), "VIOLATION_DETECTED:3")
}

func TestEndSessionResetsEvaluatorAndCounters(t *testing.T) {
	var out strings.Builder
	d := newDriver(t, `bool_type a; bool_type b; (a S b);`, "", &out)

	in := strings.NewReader("b=true a=true\na=false b=false\n__END_SESSION__\na=false b=false\n")
	require.NoError(t, d.Run(in))
	require.Equal(t, 1, d.sessionCounter)
	require.Equal(t, 0, len(d.trace))
}

func TestSaveAndRestoreStateRoundTrip(t *testing.T) {
	var out strings.Builder
	d := newDriver(t, `bool_type a; bool_type b; (a S b);`, "", &out)

	in := strings.NewReader("b=true a=true\n__SAVE_STATE__ 7\na=false b=false\n__RESTORE_STATE__ 7\n")
	require.NoError(t, d.Run(in))
	require.Contains(t, out.String(), "STATE_SAVED:7")
	require.Contains(t, out.String(), "STATE_RESTORED:7")
}

func TestRestoreUnknownIDFails(t *testing.T) {
	var out strings.Builder
	d := newDriver(t, `bool_type a; bool_type b; (a S b);`, "", &out)

	in := strings.NewReader("__RESTORE_STATE__ 99\n")
	require.NoError(t, d.Run(in))
	require.Contains(t, out.String(), "STATE_RESTORE_FAILED:99")
}

func TestMalformedLineIsNonFatalAndLogged(t *testing.T) {
	var out strings.Builder
	var logged []string
	spec, ctx, eval := mustBuild(t, `bool_type a; a;`)
	d := New(spec, ctx, eval, "", &out, nil, nil, func(format string, args ...any) {
		logged = append(logged, format)
	})

	in := strings.NewReader("not-a-kv-token\na=true\n")
	require.NoError(t, d.Run(in))
	require.NotEmpty(t, logged)
}

func TestTypeInsaneEventIsMalformedNotFatal(t *testing.T) {
	var out strings.Builder
	var logged []string
	// int_type n paired with a non-decimal value is KV-parseable but
	// type-insane; it must be warned-and-skipped, not crash the run
	// with a FatalError the way resolveInt's generic parse error would.
	spec, ctx, eval := mustBuild(t, `int_type n; bool_type a; a;`)
	d := New(spec, ctx, eval, "", &out, nil, nil, func(format string, args ...any) {
		logged = append(logged, format)
	})

	in := strings.NewReader("n=not-a-number a=true\na=true\n")
	err := d.Run(in)
	require.NoError(t, err)
	require.NotEmpty(t, logged)
}

func TestDuplicateKeyIsMalformed(t *testing.T) {
	_, err := parseKV("a=true a=false")
	require.Error(t, err)
}

func TestEmptyLineHasNoTokens(t *testing.T) {
	_, err := parseKV("")
	require.Error(t, err)
}

func TestReservedKeysAreStrippedBeforeStateConstruction(t *testing.T) {
	var out strings.Builder
	d := newDriver(t, `bool_type a; a;`, "", &out)

	// msg_id/dir/trace must not be interpreted as a or forwarded to the
	// state, which requires only a== true/false to resolve a.
	in := strings.NewReader("a=true msg_id=1 dir=c2s trace=deadbeef\n")
	require.NoError(t, d.Run(in))
	require.Empty(t, out.String())
}

func TestUnknownTagReportsUnconditionally(t *testing.T) {
	var out strings.Builder
	d := newDriver(t, `bool_type a; a;`, "unknown-protocol", &out)

	in := strings.NewReader("a=false\n")
	require.NoError(t, d.Run(in))
	require.Contains(t, out.String(), "VIOLATION_DETECTED:1")
}

func TestDNSFilterRequiresResponseValid(t *testing.T) {
	var out strings.Builder
	d := newDriver(t, `bool_type flag; bool_type response_valid; flag;`, "dnsmasq", &out)

	in := strings.NewReader("flag=false response_valid=false\n")
	require.NoError(t, d.Run(in))
	require.Empty(t, out.String(), "filtered: response_valid=false means the adapter itself flagged the packet as invalid")
}

func TestDNSFilterAllowsWhenResponseValid(t *testing.T) {
	var out strings.Builder
	d := newDriver(t, `bool_type flag; bool_type response_valid; flag;`, "dnsmasq", &out)

	in := strings.NewReader("flag=false response_valid=true\n")
	require.NoError(t, d.Run(in))
	require.Contains(t, out.String(), "VIOLATION_DETECTED:1")
}

func TestSSHFilterRequiresEncryptedAndMacOK(t *testing.T) {
	var out strings.Builder
	d := newDriver(t, `bool_type flag; bool_type encrypted; bool_type mac_ok; flag;`, "ssh", &out)

	in := strings.NewReader("flag=false encrypted=false mac_ok=true\n")
	require.NoError(t, d.Run(in))
	require.Empty(t, out.String())
}

func TestRTSPFilterRejectsTimeoutOrUnsetStatusClass(t *testing.T) {
	var out strings.Builder
	d := newDriver(t, `bool_type flag; enum status_class { scNotSet, scSuccess }; bool_type timeout; flag;`, "rtsp", &out)

	in := strings.NewReader("flag=false status_class=scNotSet timeout=false\n")
	require.NoError(t, d.Run(in))
	require.Empty(t, out.String())
}

func TestDTLSFilterRejectsResponseNotSet(t *testing.T) {
	var out strings.Builder
	d := newDriver(t, `bool_type flag; enum response { responseNotSet, responseAlert }; flag;`, "dtls", &out)

	in := strings.NewReader("flag=false response=responseNotSet\n")
	require.NoError(t, d.Run(in))
	require.Empty(t, out.String())
}

func TestSIPFilterRequiresResponseMessageTypeAndNoTimeout(t *testing.T) {
	var out strings.Builder
	d := newDriver(t, `bool_type flag; enum sip_msg_type { request, response }; bool_type timeout; flag;`, "sip", &out)

	in := strings.NewReader("flag=false sip_msg_type=request timeout=false\n")
	require.NoError(t, d.Run(in))
	require.Empty(t, out.String())
}

func TestFTPFilterRejectsTimeoutOrUnsetStatusClass(t *testing.T) {
	var out strings.Builder
	d := newDriver(t, `bool_type flag; enum ftp_status_class { scNotSet, scSuccess }; bool_type timeout; flag;`, "ftp", &out)

	in := strings.NewReader("flag=false ftp_status_class=scNotSet timeout=false\n")
	require.NoError(t, d.Run(in))
	require.Empty(t, out.String())
}

func TestUnknownVariableIsFatalAndStopsTheRun(t *testing.T) {
	var out strings.Builder
	// a and b are both declared (so the second line's b=true is
	// type-sane on its own and must not be caught by the IsSane gate);
	// the formula references only a, and the second event omits it.
	d := newDriver(t, `bool_type a; bool_type b; a;`, "", &out)

	in := strings.NewReader("a=true b=true\nb=true\n")
	err := d.Run(in)
	require.Error(t, err)
	var fe *FatalError
	require.ErrorAs(t, err, &fe)
}
