package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
)

// CLIRunner runs the claude CLI as a subprocess per invocation. The CLI
// emits one JSON event per line; an init event carries the session handle
// the backend issued, a result event carries the final text.
type CLIRunner struct {
	command string
	model   string
}

func NewCLIRunner(command, model string) *CLIRunner {
	if command == "" {
		command = "claude"
	}
	return &CLIRunner{command: command, model: model}
}

// streamEvent is the subset of the CLI's stream-json output the router
// cares about. Unknown event types pass through unused.
type streamEvent struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`
	Result    string `json:"result"`
}

func (r *CLIRunner) Invoke(ctx context.Context, req Request) (*Outcome, error) {
	if err := os.MkdirAll(req.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create group dir: %w", err)
	}

	args := []string{"-p", req.Prompt, "--output-format", "stream-json", "--verbose"}
	if r.model != "" {
		args = append(args, "--model", r.model)
	}
	if req.Resume != "" {
		args = append(args, "--resume", req.Resume)
	}

	cmd := exec.CommandContext(ctx, r.command, args...)
	cmd.Dir = req.Dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("agent stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start agent: %w", err)
	}

	outcome, scanErr := collectOutcome(stdout)

	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("agent exited: %w", err)
	}
	if scanErr != nil {
		return nil, scanErr
	}
	return outcome, nil
}

func (r *CLIRunner) Close() {}

// collectOutcome reads the event stream and, if scanning aborts early,
// drains whatever the child still writes. Without the drain a blocked
// pipe would keep the process from exiting and wedge Wait.
func collectOutcome(r io.Reader) (*Outcome, error) {
	outcome, err := consumeEvents(r)
	if err != nil {
		_, _ = io.Copy(io.Discard, r)
	}
	return outcome, err
}

// consumeEvents drains the event stream to completion, keeping the last
// session handle and last result seen.
func consumeEvents(r io.Reader) (*Outcome, error) {
	outcome := &Outcome{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var evt streamEvent
		if err := json.Unmarshal(line, &evt); err != nil {
			log.Printf("[agent] skipping malformed event: %v", err)
			continue
		}
		if evt.Type == "system" && evt.Subtype == "init" && evt.SessionID != "" {
			outcome.SessionID = evt.SessionID
		}
		if evt.Type == "result" && evt.Result != "" {
			outcome.Result = evt.Result
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read agent events: %w", err)
	}
	return outcome, nil
}
