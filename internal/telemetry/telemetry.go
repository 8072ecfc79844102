// Package telemetry はストリーム配信の計測値を報告する
package telemetry

import (
	"time"
)

// FrameStats は配信に成功した1フレームの計測値
type FrameStats struct {
	SessionID string        `json:"session_id"`
	Seq       uint64        `json:"seq"`      // セッション内のフレーム番号
	Bytes     int           `json:"bytes"`    // JPEGペイロードのサイズ
	Interval  time.Duration `json:"interval"` // 前フレームからの経過時間。最初のフレームは0
	FPS       float64       `json:"fps"`      // 瞬間フレームレート。経過時間0の場合は0
}

// SessionSummary は終了したセッションの集計
type SessionSummary struct {
	SessionID string        `json:"session_id"`
	Frames    uint64        `json:"frames"`
	Bytes     uint64        `json:"bytes"`
	Duration  time.Duration `json:"duration"`
	Err       string        `json:"error,omitempty"`
}

// Reporter は計測値の送り先
//
// ストリームループから同期的に呼ばれるため、実装は長くブロックしてはならない。
type Reporter interface {
	FrameSent(stats FrameStats)
	SessionClosed(summary SessionSummary)
}

// Nop は何もしないReporter
type Nop struct{}

// FrameSent は何もしない
func (Nop) FrameSent(FrameStats) {}

// SessionClosed は何もしない
func (Nop) SessionClosed(SessionSummary) {}

type multi []Reporter

// Multi は複数のReporterへ順に報告するReporterを返す
func Multi(reporters ...Reporter) Reporter {
	var rs multi
	for _, r := range reporters {
		if r != nil {
			rs = append(rs, r)
		}
	}
	if len(rs) == 1 {
		return rs[0]
	}
	return rs
}

func (m multi) FrameSent(stats FrameStats) {
	for _, r := range m {
		r.FrameSent(stats)
	}
}

func (m multi) SessionClosed(summary SessionSummary) {
	for _, r := range m {
		r.SessionClosed(summary)
	}
}
