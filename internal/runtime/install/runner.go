package install

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// runCommand executes a subprocess and streams every stdout/stderr line into
// the activity log under the given phase.
func (i *Installer) runCommand(ctx context.Context, phase, dir, name string, args ...string) error {
	i.activity.Infof(phase, fmt.Sprintf("$ %s %s", name, strings.Join(args, " ")))

	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", name, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go i.captureLines(&wg, phase, "stdout", stdout)
	go i.captureLines(&wg, phase, "stderr", stderr)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("%s failed: %w", name, err)
	}
	return nil
}

func (i *Installer) captureLines(wg *sync.WaitGroup, phase, stream string, r io.Reader) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	// cargo emits long single-line progress output
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		i.activity.Append(phase, stream, scanner.Text())
	}
}
