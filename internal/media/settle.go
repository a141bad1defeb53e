package media

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
)

// maxSettleWindows caps how long settle keeps extending while files change.
const maxSettleWindows = 4

// settle waits for the segment directory to go quiet after ffmpeg exits.
// Each window lasts settleDelay; a window that saw create or write events
// is followed by another, up to maxSettleWindows. Without a usable watcher it
// degrades to a single fixed wait.
func (s *Segmenter) settle(ctx context.Context, dir string) error {
	if s.settleDelay <= 0 {
		return ctx.Err()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.Debug().Err(err).Msg("fsnotify unavailable, using fixed settle delay")
		return sleep(ctx, s.settleDelay)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		s.log.Debug().Err(err).Str("dir", dir).Msg("cannot watch segment dir, using fixed settle delay")
		return sleep(ctx, s.settleDelay)
	}

	events, errs := w.Events, w.Errors
	for window := 1; window <= maxSettleWindows; window++ {
		timer := time.NewTimer(s.settleDelay)
		changed := false
	wait:
		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case ev, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
					changed = true
				}
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				s.log.Debug().Err(err).Msg("fsnotify error during settle")
			case <-timer.C:
				break wait
			}
		}
		if !changed {
			return nil
		}
		s.log.Debug().Int("window", window).Msg("segment dir still changing, extending settle wait")
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
