package install

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// downloadSource fetches the release source archive into dest, reporting
// progress into the activity log every few megabytes.
func (i *Installer) downloadSource(ctx context.Context, url, dest string) (int64, error) {
	i.activity.Infof(PhaseDownloadSource, "downloading "+url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := i.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer f.Close()

	const reportEvery = 8 << 20

	buf := make([]byte, 256*1024)
	var total, lastReport int64
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return total, fmt.Errorf("failed to write archive: %w", werr)
			}
			total += int64(n)
			if total-lastReport >= reportEvery {
				i.activity.Infof(PhaseDownloadSource, fmt.Sprintf("downloaded %d MB", total>>20))
				lastReport = total
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return total, fmt.Errorf("download interrupted: %w", rerr)
		}
	}

	i.activity.Infof(PhaseDownloadSource, fmt.Sprintf("download complete (%d bytes)", total))
	return total, nil
}

// extractSource unpacks the archive under destDir and returns the directory
// holding the source tree. GitHub-style tarballs wrap everything in a single
// top-level directory; when present that directory is the tree root.
func (i *Installer) extractSource(ctx context.Context, archive, destDir string) (string, error) {
	i.activity.SetPhase(PhaseExtractSource)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create extract dir: %w", err)
	}

	if err := i.runCommand(ctx, PhaseExtractSource, "", "tar", "-xzf", archive, "-C", destDir); err != nil {
		return "", err
	}

	entries, err := os.ReadDir(destDir)
	if err != nil {
		return "", fmt.Errorf("failed to read extract dir: %w", err)
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(destDir, entries[0].Name()), nil
	}
	return destDir, nil
}
