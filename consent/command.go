package consent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/b0bbywan/go-portal-backend/logger"
)

// CommandPrompter delegates the consent decision to an external dialog
// helper. The query is written to the helper's stdin as JSON; the helper
// prints a Result as JSON on stdout. Exit status 1 means explicit decline,
// any other failure or a timeout counts as a dismissal.
type CommandPrompter struct {
	Command string
	Timeout time.Duration
}

func NewCommandPrompter(command string, timeout time.Duration) *CommandPrompter {
	return &CommandPrompter{Command: command, Timeout: timeout}
}

func (p *CommandPrompter) Prompt(ctx context.Context, q Query) (Result, error) {
	if p.Command == "" {
		return Result{}, fmt.Errorf("consent: no command configured")
	}

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	input, err := json.Marshal(q)
	if err != nil {
		return Result{}, fmt.Errorf("consent: encode query: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.Command)
	cmd.Stdin = bytes.NewReader(input)
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			logger.Info("[consent] helper timed out for %s, treating as dismissal", q.AppID)
			return Declined(2), nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if exitErr.ExitCode() == 1 {
				return Declined(1), nil
			}
			logger.Warn("[consent] helper exited %d for %s", exitErr.ExitCode(), q.AppID)
			return Declined(2), nil
		}
		return Result{}, fmt.Errorf("consent: run %s: %w", p.Command, err)
	}

	var res Result
	if err := json.Unmarshal(out, &res); err != nil {
		return Result{}, fmt.Errorf("consent: decode helper output: %w", err)
	}
	if res.Response > 2 {
		return Result{}, fmt.Errorf("consent: helper returned invalid response code %d", res.Response)
	}
	return res, nil
}
