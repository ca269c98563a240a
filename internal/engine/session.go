package engine

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/agentlens/agentlens/internal/shared/id"
)

// gitTimeout bounds the one-off git invocation at session start.
const gitTimeout = 500 * time.Millisecond

// NewSession builds the session record for this process lifetime.
func NewSession() *Session {
	hostname, _ := os.Hostname()
	return &Session{
		ID:        id.NewSessionID(),
		StartedAt: time.Now(),
		Hostname:  hostname,
		PID:       os.Getpid(),
		GitSHA:    gitSHA(),
		Runtime:   runtime.Version(),
		Meta:      map[string]any{},
	}
}

// gitSHA captures the commit the instrumented program runs from, so traces
// can be tied back to a code version. Best effort: empty outside a work
// tree or when git is unavailable.
func gitSHA() string {
	ctx, cancel := context.WithTimeout(context.Background(), gitTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "git", "rev-parse", "HEAD").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
