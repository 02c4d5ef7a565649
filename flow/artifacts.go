package flow

import (
	"context"

	"github.com/m3rciful/splitbot/core/logger"
	"log/slog"
)

// record appends a produced message id to the session's artifact list.
func record(s *Session, messageID int) {
	if messageID == 0 {
		return
	}
	s.Artifacts = append(s.Artifacts, messageID)
}

// flushArtifacts deletes every recorded artifact in recorded order. Per-item
// failures are logged and skipped: a message may already be gone, and a
// deletion failure must never abort the remaining cleanup. It is the last
// step before the session record is removed on every termination path.
func (e *Engine) flushArtifacts(ctx context.Context, conversation int64, s *Session) {
	for _, id := range s.Artifacts {
		if err := e.tr.Delete(ctx, conversation, id); err != nil {
			logger.Warn(ctx, "flow", "artifact.delete.skip",
				slog.String("status", "skip"),
				slog.Int64("chat_id", conversation),
				slog.Int("message_id", id),
				slog.String("err", err.Error()),
			)
		}
	}
	s.Artifacts = nil
}
