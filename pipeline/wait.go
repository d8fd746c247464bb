package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/badespider/videoeditor-sub000/clients"
	"github.com/badespider/videoeditor-sub000/errors"
	"github.com/badespider/videoeditor-sub000/log"
	"github.com/badespider/videoeditor-sub000/state"
)

const webhookCheckInterval = 5 * time.Second

// waitForParsing blocks until the understanding service reports the video
// parsed. With a webhook callback registered it races the pub/sub channel
// against a slow status-key poll, so a callback that landed before the
// subscription is never missed. Without one it polls the remote API.
func (w *Worker) waitForParsing(ctx context.Context, jobID, videoNo string, webhook bool) error {
	if !webhook {
		return w.memories.WaitForProcessing(ctx, jobID, videoNo, w.parseProgressTick(ctx, jobID))
	}

	msgs, cancel, err := w.manager.Store().Subscribe(ctx, state.WebhookChannel(jobID))
	if err != nil {
		log.LogError(jobID, "webhook subscription failed, falling back to polling", err)
		return w.memories.WaitForProcessing(ctx, jobID, videoNo, w.parseProgressTick(ctx, jobID))
	}
	defer cancel()

	start := time.Now()
	deadline := time.NewTimer(clients.MaxProcessingWait)
	defer deadline.Stop()
	poll := time.NewTicker(webhookCheckInterval)
	defer poll.Stop()
	tick := w.parseProgressTick(ctx, jobID)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return errors.NewFatalExternalError("memories", "", fmt.Sprintf("no parse callback within %s", clients.MaxProcessingWait))
		case payload, ok := <-msgs:
			if !ok {
				// subscription dropped; the status key poll keeps us covered
				msgs = nil
				continue
			}
			if done, err := w.handleParseNotification(jobID, payload); done {
				return err
			}
		case <-poll.C:
			tick(time.Since(start))
			raw, found, err := w.manager.Store().Get(ctx, state.WebhookStatusKey(jobID))
			if err != nil {
				log.LogError(jobID, "failed to read webhook status key", err)
				continue
			}
			if !found {
				continue
			}
			if done, err := w.handleParseNotification(jobID, raw); done {
				return err
			}
		}
	}
}

// handleParseNotification returns done=true when the notification is
// terminal for the wait.
func (w *Worker) handleParseNotification(jobID, payload string) (bool, error) {
	n, err := state.ParseWebhookNotification(payload)
	if err != nil {
		log.LogError(jobID, "unreadable webhook notification", err)
		return false, nil
	}
	switch clients.NormalizeVideoStatus(n.Status) {
	case clients.VideoStatusParsed:
		log.Log(jobID, "parse callback received", "video_no", n.VideoNo)
		return true, nil
	case clients.VideoStatusParseError:
		msg := firstNonBlank(n.Msg, "video parsing failed on the understanding service")
		return true, errors.NewFatalExternalError("memories", n.Code, msg)
	default:
		log.Log(jobID, "parse callback still pending", "status", n.Status)
		return false, nil
	}
}

// parseProgressTick ratchets job progress across the waiting band as the
// wait drags on.
func (w *Worker) parseProgressTick(ctx context.Context, jobID string) func(elapsed time.Duration) {
	lastProgress := 0
	return func(elapsed time.Duration) {
		frac := elapsed.Seconds() / clients.MaxProcessingWait.Seconds()
		if frac > 1 {
			frac = 1
		}
		progress := 15 + int(frac*5)
		if progress <= lastProgress {
			return
		}
		lastProgress = progress
		w.setProgress(ctx, jobID, progress, "Waiting for video analysis")
	}
}
