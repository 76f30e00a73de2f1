package thumbnails

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ShoshinNikita/thumbnailer/pkg/rlog"
)

// runCommand runs the command and returns its stdout. Stderr is included in the error.
func runCommand(ctx context.Context, bin string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)

	stdout := bytes.NewBuffer(nil)
	stderr := bytes.NewBuffer(nil)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w, stderr: %q", bin, err, strings.TrimSpace(stderr.String()))
	}
	if stderr.Len() > 0 {
		rlog.Debugf("%s stderr: %q", bin, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
