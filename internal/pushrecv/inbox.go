package pushrecv

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agentworkforce/courierlink/internal/intent"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	clickPrefix    = "click-"
	rejectedSuffix = ".rejected"
)

// InboxWatcher delivers payload files dropped into Dir. Files named
// click-*.json are foreground clicks; every other *.json file is a background
// wake. Producers should write atomically (write then rename) so a file is
// complete when it appears. Delivered files are removed; unparseable ones are
// renamed with a .rejected suffix.
type InboxWatcher struct {
	Dir     string
	Handler Handler
	Limiter *rate.Limiter
	Logger  logrus.FieldLogger
}

func (w *InboxWatcher) Run(ctx context.Context) error {
	if strings.TrimSpace(w.Dir) == "" || w.Handler == nil {
		return errors.New("push inbox: dir and handler are required")
	}
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()
	if err := fsw.Add(w.Dir); err != nil {
		return err
	}
	if err := w.drainExisting(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if err := w.process(ctx, event.Name); err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger().WithError(err).Warn("push inbox watcher error")
		}
	}
}

func (w *InboxWatcher) drainExisting(ctx context.Context) error {
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if err := w.process(ctx, filepath.Join(w.Dir, name)); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (w *InboxWatcher) process(ctx context.Context, path string) error {
	name := filepath.Base(path)
	if !isInboxFile(name) {
		return nil
	}
	log := w.logger().WithField("file", name)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		log.WithError(err).Warn("read push inbox file failed")
		return err
	}
	var payload intent.Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		log.WithError(err).Warn("rejecting malformed push inbox file")
		_ = os.Rename(path, path+rejectedSuffix)
		return nil
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Another event already claimed it.
			return nil
		}
		return err
	}
	if w.Limiter != nil {
		if err := w.Limiter.Wait(ctx); err != nil {
			return err
		}
	}
	event := EventBackground
	if strings.HasPrefix(name, clickPrefix) {
		event = EventClick
	}
	result, err := Deliver(ctx, w.Handler, Message{Event: event, Payload: payload})
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"event":     string(event),
		"outcome":   string(result.Outcome),
		"target_id": result.TargetID,
	}).Info("push inbox file delivered")
	return nil
}

func isInboxFile(name string) bool {
	return strings.HasSuffix(name, ".json") && !strings.HasPrefix(name, ".")
}

func (w *InboxWatcher) logger() logrus.FieldLogger {
	if w.Logger != nil {
		return w.Logger
	}
	return logrus.StandardLogger()
}
