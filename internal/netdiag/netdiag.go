// Package netdiag probes RTMP server reachability: ICMP ping, TCP
// connect, and an ffprobe stream check.
package netdiag

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/streamcap/internal/logger"
)

const (
	component   = "network_diagnostics"
	defaultPort = 1935

	pingCount   = 4
	pingTimeout = 5 * time.Second
	portTimeout = 5 * time.Second
	rtmpTimeout = 20 * time.Second
)

// Endpoint is the dissected form of an RTMP URL.
type Endpoint struct {
	Scheme string `json:"scheme"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Path   string `json:"path"`
}

// ParseRTMPURL extracts host and port from an RTMP URL, defaulting to
// the standard RTMP port when none is given.
func ParseRTMPURL(raw string) (Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("netdiag: parse %q: %w", raw, err)
	}
	if u.Hostname() == "" {
		return Endpoint{}, fmt.Errorf("netdiag: no host in %q", raw)
	}
	port := defaultPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return Endpoint{}, fmt.Errorf("netdiag: bad port in %q: %w", raw, err)
		}
	}
	return Endpoint{Scheme: u.Scheme, Host: u.Hostname(), Port: port, Path: u.Path}, nil
}

// PingResult reports one ICMP reachability test.
type PingResult struct {
	Success           bool    `json:"success"`
	Host              string  `json:"host"`
	PacketLossPercent int     `json:"packet_loss_percent"`
	AvgLatencyMs      float64 `json:"avg_latency_ms"`
	Error             string  `json:"error,omitempty"`
}

// PortResult reports one TCP connect test.
type PortResult struct {
	Success       bool    `json:"success"`
	Host          string  `json:"host"`
	Port          int     `json:"port"`
	ConnectTimeMs float64 `json:"connect_time_ms"`
	Error         string  `json:"error,omitempty"`
}

// RTMPResult reports one ffprobe stream test.
type RTMPResult struct {
	Success       bool     `json:"success"`
	URL           string   `json:"url"`
	TestDurationS float64  `json:"test_duration_s"`
	Errors        []string `json:"errors,omitempty"`
	Output        string   `json:"output,omitempty"`
}

// Report aggregates a full diagnostic run.
type Report struct {
	URL            string     `json:"rtmp_url"`
	Timestamp      time.Time  `json:"timestamp"`
	Ping           PingResult `json:"ping"`
	Port           PortResult `json:"port"`
	RTMP           RTMPResult `json:"rtmp"`
	OverallSuccess bool       `json:"overall_success"`
	Summary        string     `json:"summary"`
}

// Diagnostics runs the probes. The logger may be nil for one-shot CLI
// use.
type Diagnostics struct {
	lg *logger.Logger

	// runPing and runProbe are swapped in tests.
	runPing  func(ctx context.Context, host string) (string, error)
	runProbe func(ctx context.Context, url string) (string, error)
}

func New(lg *logger.Logger) *Diagnostics {
	return &Diagnostics{lg: lg, runPing: runSystemPing, runProbe: runFFprobe}
}

func runSystemPing(ctx context.Context, host string) (string, error) {
	cmd := exec.CommandContext(ctx, "ping",
		"-c", strconv.Itoa(pingCount),
		"-W", strconv.Itoa(int(pingTimeout.Seconds())),
		host,
	) // #nosec G204 -- host parsed from validated URL
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func runFFprobe(ctx context.Context, url string) (string, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-rtmp_live", "live",
		"-i", url,
		"-show_streams",
	) // #nosec G204 -- url comes from validated config
	out, err := cmd.CombinedOutput()
	return string(out), err
}

var (
	lossRe = regexp.MustCompile(`(\d+(?:\.\d+)?)% packet loss`)
	rttRe  = regexp.MustCompile(`rtt [^=]*= [\d.]+/([\d.]+)/`)
)

func (d *Diagnostics) log(level logger.Level, event string, ctx map[string]any, msg string) {
	if d.lg != nil {
		d.lg.Log(level, component, event, ctx, msg)
	}
}

// PingTest checks basic reachability with the system ping utility.
func (d *Diagnostics) PingTest(ctx context.Context, host string) PingResult {
	d.log(logger.LevelInfo, "ping_test_start", map[string]any{
		"host": host, "count": pingCount,
	}, fmt.Sprintf("Starting ping test to %s", host))

	ctx, cancel := context.WithTimeout(ctx, pingTimeout*pingCount+5*time.Second)
	defer cancel()

	out, err := d.runPing(ctx, host)
	res := PingResult{Host: host, PacketLossPercent: 100}

	if m := lossRe.FindStringSubmatch(out); m != nil {
		if loss, perr := strconv.ParseFloat(m[1], 64); perr == nil {
			res.PacketLossPercent = int(loss)
		}
	}
	if m := rttRe.FindStringSubmatch(out); m != nil {
		res.AvgLatencyMs, _ = strconv.ParseFloat(m[1], 64)
	}
	res.Success = err == nil && res.PacketLossPercent < 100
	if err != nil {
		res.Error = err.Error()
	}

	level := logger.LevelService
	if !res.Success {
		level = logger.LevelError
	}
	d.log(level, "ping_test_complete", map[string]any{
		"host": host, "packet_loss_percent": res.PacketLossPercent, "avg_latency_ms": res.AvgLatencyMs,
	}, fmt.Sprintf("Ping test to %s: loss %d%%, avg %.1fms", host, res.PacketLossPercent, res.AvgLatencyMs))
	return res
}

// TCPPortTest checks whether the RTMP port accepts connections.
func (d *Diagnostics) TCPPortTest(host string, port int) PortResult {
	d.log(logger.LevelInfo, "port_test_start", map[string]any{
		"host": host, "port": port,
	}, fmt.Sprintf("Testing TCP port %s:%d", host, port))

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	start := time.Now()
	conn, err := net.DialTimeout("tcp", addr, portTimeout)
	elapsed := float64(time.Since(start).Microseconds()) / 1000

	res := PortResult{Host: host, Port: port, ConnectTimeMs: elapsed}
	if err != nil {
		res.Error = err.Error()
		d.log(logger.LevelError, "port_test_complete", map[string]any{
			"host": host, "port": port, "error": res.Error,
		}, fmt.Sprintf("Port test %s: closed/unreachable", addr))
		return res
	}
	_ = conn.Close()
	res.Success = true

	d.log(logger.LevelService, "port_test_complete", map[string]any{
		"host": host, "port": port, "connect_time_ms": elapsed,
	}, fmt.Sprintf("Port test %s: open (%.1fms)", addr, elapsed))
	return res
}

// RTMPTest asks ffprobe whether the stream actually serves media.
func (d *Diagnostics) RTMPTest(ctx context.Context, rtmpURL string) RTMPResult {
	d.log(logger.LevelInfo, "rtmp_test_start", map[string]any{
		"url": rtmpURL,
	}, fmt.Sprintf("Testing RTMP server: %s", rtmpURL))

	ctx, cancel := context.WithTimeout(ctx, rtmpTimeout)
	defer cancel()

	start := time.Now()
	out, err := d.runProbe(ctx, rtmpURL)
	res := RTMPResult{URL: rtmpURL, TestDurationS: time.Since(start).Seconds()}

	res.Success = strings.Contains(out, "[STREAM]") ||
		strings.Contains(out, "codec_name=") ||
		strings.Contains(out, "Stream #0")

	for _, probe := range []struct{ needle, reason string }{
		{"Connection refused", "Connection refused - RTMP server not running"},
		{"No route to host", "No route to host - Network unreachable"},
		{"Connection timed out", "Connection timed out"},
		{"Invalid data found", "Invalid stream data"},
	} {
		if strings.Contains(out, probe.needle) {
			res.Errors = append(res.Errors, probe.reason)
		}
	}
	if ctx.Err() == context.DeadlineExceeded {
		res.Success = false
		res.Errors = append(res.Errors, "Test timeout - server may be slow or unresponsive")
	} else if err != nil && !res.Success && len(res.Errors) == 0 {
		res.Errors = append(res.Errors, err.Error())
	}
	if len(out) > 1000 {
		out = out[len(out)-1000:]
	}
	res.Output = out

	level := logger.LevelService
	if !res.Success {
		level = logger.LevelError
	}
	d.log(level, "rtmp_test_complete", map[string]any{
		"url": rtmpURL, "success": res.Success, "errors": res.Errors,
	}, fmt.Sprintf("RTMP test %s: success=%v", rtmpURL, res.Success))
	return res
}

// RunFull runs every probe against the URL and renders a summary.
func (d *Diagnostics) RunFull(ctx context.Context, rtmpURL string) (Report, error) {
	ep, err := ParseRTMPURL(rtmpURL)
	if err != nil {
		return Report{}, err
	}

	d.log(logger.LevelService, "diagnostics_start", map[string]any{
		"url": rtmpURL,
	}, fmt.Sprintf("Starting full diagnostics for %s", rtmpURL))

	r := Report{URL: rtmpURL, Timestamp: time.Now().UTC()}
	r.Ping = d.PingTest(ctx, ep.Host)
	r.Port = d.TCPPortTest(ep.Host, ep.Port)
	r.RTMP = d.RTMPTest(ctx, rtmpURL)
	r.OverallSuccess = r.Ping.Success && r.Port.Success && r.RTMP.Success
	r.Summary = summarize(r)

	level := logger.LevelService
	if !r.OverallSuccess {
		level = logger.LevelError
	}
	d.log(level, "diagnostics_complete", map[string]any{
		"success": r.OverallSuccess,
	}, fmt.Sprintf("Diagnostics complete: success=%v", r.OverallSuccess))
	return r, nil
}

func summarize(r Report) string {
	rule := strings.Repeat("=", 60)
	lines := []string{"", rule, "NETWORK DIAGNOSTICS SUMMARY", rule}

	if r.Ping.Success {
		lines = append(lines, fmt.Sprintf("[PASS] Ping: Success (%d%% loss, %.1fms avg)",
			r.Ping.PacketLossPercent, r.Ping.AvgLatencyMs))
	} else {
		lines = append(lines, fmt.Sprintf("[FAIL] Ping: Failed - %s", orUnknown(r.Ping.Error)))
	}

	if r.Port.Success {
		lines = append(lines, fmt.Sprintf("[PASS] Port: Open (%.1fms)", r.Port.ConnectTimeMs))
	} else {
		lines = append(lines, fmt.Sprintf("[FAIL] Port: Closed/Unreachable - %s", orUnknown(r.Port.Error)))
	}

	if r.RTMP.Success {
		lines = append(lines, fmt.Sprintf("[PASS] RTMP: Connected (%.1fs)", r.RTMP.TestDurationS))
	} else {
		reason := "Connection failed"
		if len(r.RTMP.Errors) > 0 {
			reason = r.RTMP.Errors[0]
		}
		lines = append(lines, fmt.Sprintf("[FAIL] RTMP: Failed - %s", reason))
	}

	lines = append(lines, rule)
	if r.OverallSuccess {
		lines = append(lines, "RESULT: All tests passed", "The RTMP server is reachable and streaming.")
	} else {
		lines = append(lines, "RESULT: Some tests failed", "Please check network connection and RTMP server status.")
	}
	lines = append(lines, rule, "")

	return strings.Join(lines, "\n")
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown error"
	}
	return s
}
