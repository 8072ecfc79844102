package stream

import (
	"time"
)

// Session は1つのHTTP接続に属するストリームの状態
//
// 接続ごとに作成し、他の接続と共有してはならない。
type Session struct {
	ID        string
	StartedAt time.Time

	lastFrame time.Time // 前回配信したフレームの時刻。ゼロ値は未設定
	frames    uint64
	bytes     uint64
}

// NewSession は新しいSessionを作成する
func NewSession(id string) *Session {
	return &Session{
		ID:        id,
		StartedAt: time.Now(),
	}
}

// Mark はフレームの配信を記録し、前回からの経過時間を返す
//
// 最初のフレーム（未設定状態）では0を返す。
func (s *Session) Mark(now time.Time, size int) time.Duration {
	var elapsed time.Duration
	if !s.lastFrame.IsZero() {
		elapsed = now.Sub(s.lastFrame)
	}
	s.lastFrame = now
	s.frames++
	s.bytes += uint64(size)
	return elapsed
}

// LastFrame は前回配信したフレームの時刻を返す。未設定の場合はゼロ値
func (s *Session) LastFrame() time.Time {
	return s.lastFrame
}

// Frames は配信したフレーム数を返す
func (s *Session) Frames() uint64 {
	return s.frames
}

// Bytes は配信したペイロードの合計バイト数を返す
func (s *Session) Bytes() uint64 {
	return s.bytes
}

// Reset はフレーム時刻を未設定に戻す
func (s *Session) Reset() {
	s.lastFrame = time.Time{}
}
