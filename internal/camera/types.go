package camera

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoFrame はソースからフレームが得られなかったことを表す
	ErrNoFrame = errors.New("フレームを取得できません")
	// ErrReleased は返却済みフレームを再度返却したことを表す
	ErrReleased = errors.New("フレームは既に返却されています")
	// ErrClosed はクローズ済みソースへの操作を表す
	ErrClosed = errors.New("ソースはクローズされています")
)

// Frame はソースから借用したキャプチャ結果
//
// Data はソースが所有するバッファを指しており、Release を呼ぶまでの間だけ有効。
// 返却後に Data を参照してはならない。
type Frame struct {
	Format    PixelFormat // ピクセルフォーマット
	Width     int         // 画像幅
	Height    int         // 画像高さ
	Data      []byte      // フレームデータ（借用）
	Seq       uint64      // ソース内の連番
	Timestamp time.Time   // キャプチャ時刻

	index    uint32 // ドライバー側のバッファ番号
	released bool
}

// Len はフレームデータのバイト数を返す
func (f *Frame) Len() int {
	return len(f.Data)
}

// FrameSource はフレームの貸し出しと返却を行うカメラドライバー
//
// Acquire で得たフレームはちょうど1回 Release しなければならない。
type FrameSource interface {
	// Acquire は次のフレームを取得する。新しいフレームが用意できるまでブロックする
	Acquire(ctx context.Context) (*Frame, error)

	// Release はフレームをドライバーへ返却する
	Release(f *Frame) error
}

// Source は設定済みのカメラデバイス
type Source interface {
	FrameSource

	// Info はソースの情報を返す
	Info() SourceInfo

	// Close はデバイスを解放する
	Close() error
}

// SourceInfo はソースの情報を表す
type SourceInfo struct {
	Driver      string      `json:"driver"`
	Device      string      `json:"device"`
	Format      PixelFormat `json:"format"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	FPS         int         `json:"fps"`
	BufferCount int         `json:"buffer_count"`
}

// Config はカメラの初期化設定
type Config struct {
	Driver      string      // ドライバー名 (v4l2, ffmpeg, testpattern)
	Device      string      // デバイスパス。"auto" の場合は自動検出
	Format      PixelFormat // 出力ピクセルフォーマット
	Width       int         // 画像幅
	Height      int         // 画像高さ
	FPS         int         // フレームレート
	BufferCount int         // フレームバッファ数
	HMirror     bool        // 左右反転
	VFlip       bool        // 上下反転
	Quality     int         // JPEG出力時の品質 (1-100)
}

// DeviceAuto はデバイスの自動検出を指定する
const DeviceAuto = "auto"
