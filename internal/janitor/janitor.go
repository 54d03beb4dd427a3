// Package janitor sweeps the graphics namespace for leftovers of dead
// clients: named buffer files and input channel sockets survive a client
// that crashed before the service could unlink them.
package janitor

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Janitor periodically reconciles the on-disk namespace against live
// processes.
type Janitor struct {
	graphicsDir string
	interval    time.Duration

	// alive is swappable for tests.
	alive func(pid int) bool
}

// New creates a janitor for graphicsDir. interval <= 0 disables Run.
func New(graphicsDir string, interval time.Duration) *Janitor {
	return &Janitor{
		graphicsDir: graphicsDir,
		interval:    interval,
		alive:       pidAlive,
	}
}

func pidAlive(pid int) bool {
	// Signal 0 probes existence without delivering anything.
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}

// Run sweeps until ctx is cancelled. Blocks.
func (j *Janitor) Run(ctx context.Context) {
	if j.interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	logrus.WithField("interval", j.interval).Info("janitor started")
	for {
		select {
		case <-ctx.Done():
			logrus.Info("janitor stopped")
			return
		case <-ticker.C:
			j.Sweep()
		}
	}
}

// Sweep removes per-pid namespaces whose owner is gone. One pass.
func (j *Janitor) Sweep() {
	defer func() {
		if err := recover(); err != nil {
			logrus.WithField("error", err).Error("janitor panic recovered")
		}
	}()

	j.sweepDir(j.graphicsDir)
	j.sweepDir(filepath.Join(j.graphicsDir, "monitor"))
}

func (j *Janitor) sweepDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		if j.alive(pid) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			logrus.WithError(err).WithField("path", path).Warn("janitor: failed to remove orphan")
			continue
		}
		logrus.WithFields(logrus.Fields{"pid": pid, "path": path}).Info("janitor: removed orphaned namespace")
	}
}
