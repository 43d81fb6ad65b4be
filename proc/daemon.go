package proc

import (
	"context"
	"time"

	"github.com/ingkoon/sing-bot/sys"
)

const selectionSweepInterval = 10 * time.Minute

func init() {
	sys.RegisterDaemon(sys.LogVoice, startSelectionSweeper)
}

// startSelectionSweeper periodically drops expired search prompts so a busy
// guild cannot grow the registry without bound.
func startSelectionSweeper(ctx context.Context) (bool, func(), func()) {
	pm := GetPlayerSystem()
	if pm == nil {
		return false, nil, nil
	}

	stopped := make(chan struct{})
	run := func() {
		ticker := time.NewTicker(selectionSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := pm.Selections().Sweep(); n > 0 {
					sys.LogVoice("Swept %d expired search prompts", n)
				}
			case <-ctx.Done():
				return
			case <-stopped:
				return
			}
		}
	}
	shutdown := func() { close(stopped) }
	return true, run, shutdown
}
