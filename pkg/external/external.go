// Package external implements the external-processor driver: one
// subprocess spawned per message, communicating via temp-file JSON and a
// curated environment, with SIGTERM-then-SIGKILL process-group escalation
// on timeout.
package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/flowctl/flowctl/pkg/config"
	"github.com/flowctl/flowctl/pkg/ferrors"
	"github.com/flowctl/flowctl/pkg/message"
)

const defaultTimeout = 60 * time.Second
const killGrace = 2 * time.Second

// Driver runs one external processor declaration: a command, its
// arguments, a config block injected as CONFIG_<UPPER_KEY> environment
// variables, and a per-invocation timeout.
type Driver struct {
	route        string
	command      string
	args         []string
	cfg          map[string]any
	timeout      time.Duration
	env          []string
	inputFormat  string
	outputFormat string
}

// New builds a Driver from a route's "external" processor spec. spec.Raw
// carries command, args, config, and timeout; env is the engine's
// immutable startup environment snapshot.
func New(route string, spec config.ProcessorSpec, env map[string]string) (*Driver, error) {
	command, _ := spec.Raw["command"].(string)
	if command == "" {
		return nil, ferrors.Configf("external.new", "route %q: external processor requires a command", route)
	}

	var args []string
	switch a := spec.Raw["args"].(type) {
	case []string:
		args = a
	case []any:
		for _, v := range a {
			if s, ok := v.(string); ok {
				args = append(args, s)
			}
		}
	}

	cfg, _ := spec.Raw["config"].(map[string]any)

	timeout := defaultTimeout
	if cfg != nil {
		if t, ok := cfg["timeout"]; ok {
			if d, err := toDuration(t); err == nil && d > 0 {
				timeout = d
			}
		}
	}

	base := make([]string, 0, len(env))
	for k, v := range env {
		base = append(base, k+"="+v)
	}

	inputFormat, _ := spec.Raw["input_format"].(string)
	if inputFormat == "" {
		inputFormat = "json"
	}
	outputFormat, _ := spec.Raw["output_format"].(string)
	if outputFormat == "" {
		outputFormat = "json"
	}

	return &Driver{
		route: route, command: command, args: args, cfg: cfg, timeout: timeout, env: base,
		inputFormat: inputFormat, outputFormat: outputFormat,
	}, nil
}

func toDuration(v any) (time.Duration, error) {
	switch t := v.(type) {
	case string:
		return time.ParseDuration(t)
	case int:
		return time.Duration(t) * time.Second, nil
	case int64:
		return time.Duration(t) * time.Second, nil
	case float64:
		return time.Duration(t * float64(time.Second)), nil
	default:
		return 0, fmt.Errorf("unsupported timeout type %T", v)
	}
}

// Run spawns the subprocess for one message and returns the replacement
// message produced by its output.
func (d *Driver) Run(ctx context.Context, msg message.Message) (message.Message, error) {
	inputFile, err := os.CreateTemp("", "flowctl-ext-in-*.json")
	if err != nil {
		return message.Message{}, ferrors.ExternalProcess(d.route, "external.run", err)
	}
	defer os.Remove(inputFile.Name())

	outputFile, err := os.CreateTemp("", "flowctl-ext-out-*.json")
	if err != nil {
		inputFile.Close()
		return message.Message{}, ferrors.ExternalProcess(d.route, "external.run", err)
	}
	outputPath := outputFile.Name()
	outputFile.Close()
	defer os.Remove(outputPath)

	var payload []byte
	if d.inputFormat == "text" {
		payload = msg.Bytes("body")
	} else {
		payload, err = json.Marshal(msg)
		if err != nil {
			inputFile.Close()
			return message.Message{}, ferrors.ExternalProcess(d.route, "external.run", err)
		}
	}
	if _, err := inputFile.Write(payload); err != nil {
		inputFile.Close()
		return message.Message{}, ferrors.ExternalProcess(d.route, "external.run", err)
	}
	inputFile.Close()

	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	args := append(append([]string{}, d.args...), "--input="+inputFile.Name(), "--output="+outputPath)
	cmd := exec.CommandContext(runCtx, d.command, args...)
	cmd.Env = append(append([]string{}, d.env...), d.configEnv()...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stderr bytes.Buffer
	var stdout bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = &stdout

	err = cmd.Run()

	if runCtx.Err() != nil {
		d.killGroup(cmd)
		return message.Message{}, ferrors.ExternalTimeout(d.route, "external.run", fmt.Errorf("timed out after %s", d.timeout)).WithStderr(stderr.String())
	}
	if err != nil {
		return message.Message{}, ferrors.ExternalProcess(d.route, "external.run", err).WithStderr(stderr.String())
	}

	out, err := os.ReadFile(outputPath)
	if err != nil || len(bytes.TrimSpace(out)) == 0 {
		out = stdout.Bytes()
	}

	if d.outputFormat == "text" {
		return msg.With("body", string(bytes.TrimRight(out, "\n"))), nil
	}

	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		return message.Message{}, ferrors.ExternalProcess(d.route, "external.run", fmt.Errorf("parse output: %w", err)).WithStderr(stderr.String())
	}
	return message.FromMap(decoded), nil
}

// configEnv stringifies the processor's config block as CONFIG_<UPPER_KEY>
// entries.
func (d *Driver) configEnv() []string {
	out := make([]string, 0, len(d.cfg))
	for k, v := range d.cfg {
		out = append(out, "CONFIG_"+strings.ToUpper(k)+"="+stringifyScalar(v))
	}
	return out
}

func stringifyScalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

// killGroup sends SIGTERM to the subprocess's process group, then SIGKILL
// after a grace period if it is still alive.
func (d *Driver) killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid := cmd.Process.Pid
	_ = syscall.Kill(-pgid, syscall.SIGTERM)

	// The group leader has already been reaped by cmd.Run, so liveness is
	// probed with signal 0 against the group rather than by waiting on it.
	deadline := time.Now().Add(killGrace)
	for time.Now().Before(deadline) {
		if err := syscall.Kill(-pgid, 0); err != nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
}
