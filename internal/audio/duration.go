package audio

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ProbeDuration asks ffprobe for the container duration.
func ProbeDuration(ctx context.Context, ffprobe, path string) (time.Duration, error) {
	out, err := exec.CommandContext(ctx, ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		return 0, err
	}

	sec, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(sec * float64(time.Second)), nil
}
