package telemetry

import (
	"fmt"

	"github.com/rs/zerolog"
)

// LogReporter はフレームごとに1行のログを出力する
type LogReporter struct {
	logger zerolog.Logger
	every  uint64
}

// NewLogReporter は新しいLogReporterを作成する。every フレームごとに1行出力する（0以下は毎フレーム）
func NewLogReporter(logger zerolog.Logger, every int) *LogReporter {
	if every < 1 {
		every = 1
	}
	return &LogReporter{
		logger: logger.With().Str("component", "stream").Logger(),
		every:  uint64(every),
	}
}

// FrameSent はサイズ・間隔・FPSをログに出力する
func (r *LogReporter) FrameSent(stats FrameStats) {
	if stats.Seq%r.every != 0 && stats.Seq != 1 {
		return
	}

	r.logger.Info().
		Str("session", stats.SessionID).
		Uint64("seq", stats.Seq).
		Msg(FormatFrameLine(stats))
}

// SessionClosed はセッションの終了を出力する
func (r *LogReporter) SessionClosed(summary SessionSummary) {
	ev := r.logger.Info()
	if summary.Err != "" {
		ev = r.logger.Warn().Str("reason", summary.Err)
	}
	ev.Str("session", summary.SessionID).
		Uint64("frames", summary.Frames).
		Uint64("bytes", summary.Bytes).
		Dur("duration", summary.Duration).
		Msg("ストリームを終了しました")
}

// FormatFrameLine はフレームの計測値を "MJPG: 12KB 66ms (15.2fps)" 形式にする
func FormatFrameLine(stats FrameStats) string {
	return fmt.Sprintf("MJPG: %dKB %dms (%.1ffps)",
		stats.Bytes/1024, stats.Interval.Milliseconds(), stats.FPS)
}
