//go:build linux

package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blackjack/webcam"
	"github.com/rs/zerolog/log"
)

// V4L2コントロールID (linux/v4l2-controls.h)
const (
	cidHFlip webcam.ControlID = 0x00980914
	cidVFlip webcam.ControlID = 0x00980915
)

// waitTimeout はWaitForFrameの1回あたりの待ち時間（秒）
const waitTimeout = 1

func init() {
	Register("v4l2", openWebcamSource)
}

// fourcc はV4L2のピクセルフォーマットコードを作る
func fourcc(code string) webcam.PixelFormat {
	return webcam.PixelFormat(uint32(code[0]) | uint32(code[1])<<8 | uint32(code[2])<<16 | uint32(code[3])<<24)
}

// fourccCandidates は各フォーマットに対応するfourccを優先順に返す
func fourccCandidates(format PixelFormat) []webcam.PixelFormat {
	switch format {
	case PixelFormatJPEG:
		return []webcam.PixelFormat{fourcc("MJPG"), fourcc("JPEG")}
	case PixelFormatGrayscale:
		return []webcam.PixelFormat{fourcc("GREY")}
	case PixelFormatRGB565:
		return []webcam.PixelFormat{fourcc("RGBR"), fourcc("RGBP")}
	case PixelFormatYUV422:
		return []webcam.PixelFormat{fourcc("YUYV")}
	default:
		return nil
	}
}

// WebcamSource はV4L2デバイスのmmapバッファを貸し出すソース
//
// Close は貸し出し中のフレームが全て返却されるまで待ってからバッファを解放する。
type WebcamSource struct {
	cam  *webcam.Webcam
	info SourceInfo
	lent lendTracker
	mu   sync.Mutex
	seq  uint64
}

// openWebcamSource はデバイスを開いてストリーミングを開始する
func openWebcamSource(ctx context.Context, cfg Config) (Source, error) {
	device, err := resolveDevice(ctx, cfg.Device)
	if err != nil {
		return nil, err
	}

	cam, err := webcam.Open(device)
	if err != nil {
		return nil, fmt.Errorf("デバイス %s を開けません: %w", device, err)
	}

	src, err := configureWebcam(cam, device, cfg)
	if err != nil {
		_ = cam.Close()
		return nil, err
	}
	return src, nil
}

func configureWebcam(cam *webcam.Webcam, device string, cfg Config) (*WebcamSource, error) {
	supported := cam.GetSupportedFormats()

	var selected webcam.PixelFormat
	found := false
	for _, candidate := range fourccCandidates(cfg.Format) {
		if _, ok := supported[candidate]; ok {
			selected = candidate
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("デバイス %s は %s に対応していません", device, cfg.Format)
	}

	_, width, height, err := cam.SetImageFormat(selected, uint32(cfg.Width), uint32(cfg.Height))
	if err != nil {
		return nil, fmt.Errorf("画像フォーマットの設定に失敗: %w", err)
	}

	if err := cam.SetBufferCount(uint32(cfg.BufferCount)); err != nil {
		return nil, fmt.Errorf("バッファ数の設定に失敗: %w", err)
	}

	// 反転はセンサー側の機能なので失敗しても続行する
	if err := cam.SetControl(cidHFlip, boolToControl(cfg.HMirror)); err != nil {
		log.Warn().Err(err).Str("device", device).Msg("左右反転を設定できません")
	}
	if err := cam.SetControl(cidVFlip, boolToControl(cfg.VFlip)); err != nil {
		log.Warn().Err(err).Str("device", device).Msg("上下反転を設定できません")
	}

	if err := cam.StartStreaming(); err != nil {
		return nil, fmt.Errorf("ストリーミングの開始に失敗: %w", err)
	}

	log.Info().
		Str("component", "camera").
		Str("device", device).
		Str("format", cfg.Format.String()).
		Uint32("width", width).
		Uint32("height", height).
		Int("buffers", cfg.BufferCount).
		Msg("V4L2デバイスを初期化しました")

	return &WebcamSource{
		cam: cam,
		info: SourceInfo{
			Driver:      "v4l2",
			Device:      device,
			Format:      cfg.Format,
			Width:       int(width),
			Height:      int(height),
			FPS:         cfg.FPS,
			BufferCount: cfg.BufferCount,
		},
	}, nil
}

func boolToControl(v bool) int32 {
	if v {
		return 1
	}
	return 0
}

// Acquire は次のフレームが届くまで待ち、mmapバッファを借用したフレームを返す
//
// ctx は待機のたびに確認するので、フレームが届き続けていてもキャンセルで戻る。
func (s *WebcamSource) Acquire(ctx context.Context) (*Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.lent.begin() {
			return nil, ErrClosed
		}

		err := s.cam.WaitForFrame(waitTimeout)
		if err != nil {
			s.lent.end()
			var timeout *webcam.Timeout
			if errors.As(err, &timeout) {
				continue
			}
			return nil, fmt.Errorf("フレーム待機に失敗: %w", err)
		}

		data, index, err := s.cam.GetFrame()
		if err != nil {
			s.lent.end()
			return nil, fmt.Errorf("フレームの取得に失敗: %w", err)
		}
		if len(data) == 0 {
			// 空フレームでもバッファは返却する
			_ = s.cam.ReleaseFrame(index)
			s.lent.end()
			return nil, ErrNoFrame
		}

		s.mu.Lock()
		s.seq++
		seq := s.seq
		s.mu.Unlock()

		return &Frame{
			Format:    s.info.Format,
			Width:     s.info.Width,
			Height:    s.info.Height,
			Data:      data,
			Seq:       seq,
			Timestamp: time.Now(),
			index:     index,
		}, nil
	}
}

// Release はmmapバッファをドライバーのキューに戻す
func (s *WebcamSource) Release(f *Frame) error {
	if f.released {
		return ErrReleased
	}
	f.released = true
	f.Data = nil
	defer s.lent.end()

	if err := s.cam.ReleaseFrame(f.index); err != nil {
		return fmt.Errorf("バッファ %d の返却に失敗: %w", f.index, err)
	}
	return nil
}

// Info はソースの情報を返す
func (s *WebcamSource) Info() SourceInfo {
	return s.info
}

// Close はストリーミングを停止してデバイスを閉じる
//
// 貸し出し中のフレームがある間は返却を待つ。
func (s *WebcamSource) Close() error {
	if !s.lent.close() {
		return nil
	}

	if err := s.cam.StopStreaming(); err != nil {
		log.Warn().Err(err).Str("device", s.info.Device).Msg("ストリーミングの停止に失敗")
	}
	if err := s.cam.Close(); err != nil {
		return fmt.Errorf("デバイスのクローズに失敗: %w", err)
	}
	return nil
}
