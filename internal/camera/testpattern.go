package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"
)

func init() {
	Register("testpattern", openTestPatternSource)
}

// TestPatternSource はカメラの代わりにテストパターンを生成するソース
//
// ドライバーと同様に BufferCount 個のバッファを持ち、全て貸し出し中の場合
// Acquire は返却を待つ。
type TestPatternSource struct {
	info     SourceInfo
	hmirror  bool
	vflip    bool
	quality  int
	interval time.Duration
	dc       *gg.Context
	free     chan []byte

	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	seq  uint64
	next time.Time
}

func openTestPatternSource(_ context.Context, cfg Config) (Source, error) {
	return NewTestPatternSource(cfg)
}

// NewTestPatternSource は新しいTestPatternSourceを作成する
func NewTestPatternSource(cfg Config) (*TestPatternSource, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("無効な解像度: %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Format == PixelFormatYUV422 && cfg.Width%2 != 0 {
		return nil, fmt.Errorf("YUV422 の幅は偶数である必要があります: %d", cfg.Width)
	}
	if cfg.BufferCount < 1 {
		cfg.BufferCount = 1
	}

	var interval time.Duration
	if cfg.FPS > 0 {
		interval = time.Second / time.Duration(cfg.FPS)
	}

	free := make(chan []byte, cfg.BufferCount)
	for i := 0; i < cfg.BufferCount; i++ {
		free <- make([]byte, 0, cfg.Format.FrameSize(cfg.Width, cfg.Height))
	}

	return &TestPatternSource{
		info: SourceInfo{
			Driver:      "testpattern",
			Device:      "testpattern",
			Format:      cfg.Format,
			Width:       cfg.Width,
			Height:      cfg.Height,
			FPS:         cfg.FPS,
			BufferCount: cfg.BufferCount,
		},
		hmirror:  cfg.HMirror,
		vflip:    cfg.VFlip,
		quality:  cfg.Quality,
		interval: interval,
		dc:       gg.NewContext(cfg.Width, cfg.Height),
		free:     free,
		done:     make(chan struct{}),
	}, nil
}

// Acquire は空きバッファを確保し、フレームレートに合わせてパターンを描画する
func (s *TestPatternSource) Acquire(ctx context.Context) (*Frame, error) {
	var buf []byte
	select {
	case buf = <-s.free:
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		s.free <- buf
		return nil, ErrClosed
	default:
	}

	// センサーのフレーム周期を模擬する
	if wait := time.Until(s.next); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.done:
			timer.Stop()
			s.free <- buf
			return nil, ErrClosed
		case <-ctx.Done():
			timer.Stop()
			s.free <- buf
			return nil, ctx.Err()
		}
	}
	now := time.Now()
	s.next = now.Add(s.interval)
	s.seq++

	data, err := s.render(buf[:0], s.seq, now)
	if err != nil {
		s.free <- buf
		return nil, err
	}

	return &Frame{
		Format:    s.info.Format,
		Width:     s.info.Width,
		Height:    s.info.Height,
		Data:      data,
		Seq:       s.seq,
		Timestamp: now,
	}, nil
}

// render はパターンを描画して buf に設定フォーマットで書き込む
func (s *TestPatternSource) render(buf []byte, seq uint64, now time.Time) ([]byte, error) {
	w, h := float64(s.info.Width), float64(s.info.Height)
	dc := s.dc

	dc.Push()
	defer dc.Pop()

	if s.hmirror {
		dc.ScaleAbout(-1, 1, w/2, h/2)
	}
	if s.vflip {
		dc.InvertY()
	}

	// 8本のカラーバー
	bars := [][3]float64{
		{1, 1, 1}, {1, 1, 0}, {0, 1, 1}, {0, 1, 0},
		{1, 0, 1}, {1, 0, 0}, {0, 0, 1}, {0, 0, 0},
	}
	barWidth := w / float64(len(bars))
	for i, c := range bars {
		dc.SetRGB(c[0], c[1], c[2])
		dc.DrawRectangle(float64(i)*barWidth, 0, barWidth+1, h)
		dc.Fill()
	}

	// 移動するマーカー
	x := float64(int(seq*4) % s.info.Width)
	dc.SetRGB(0.5, 0.5, 0.5)
	dc.DrawRectangle(x, h*0.75, w/16, h/8)
	dc.Fill()

	dc.SetFontFace(basicfont.Face7x13)
	dc.SetRGB(0, 0, 0)
	dc.DrawRectangle(8, 8, 220, 20)
	dc.Fill()
	dc.SetRGB(1, 1, 1)
	dc.DrawString(fmt.Sprintf("#%06d %s", seq, now.Format("15:04:05.000")), 12, 22)

	return s.encode(buf, dc.Image())
}

func (s *TestPatternSource) encode(buf []byte, img image.Image) ([]byte, error) {
	if s.info.Format == PixelFormatJPEG {
		out := bytes.NewBuffer(buf)
		if err := jpeg.Encode(out, img, &jpeg.Options{Quality: s.jpegQuality()}); err != nil {
			return nil, fmt.Errorf("テストパターンのJPEG変換に失敗: %w", err)
		}
		return out.Bytes(), nil
	}

	size := s.info.Format.FrameSize(s.info.Width, s.info.Height)
	if cap(buf) < size {
		buf = make([]byte, size)
	}
	buf = buf[:size]
	if _, err := PackImage(img, s.info.Format, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *TestPatternSource) jpegQuality() int {
	if s.quality < 1 || s.quality > 100 {
		return jpeg.DefaultQuality
	}
	return s.quality
}

// Release はバッファを空きキューに戻す
func (s *TestPatternSource) Release(f *Frame) error {
	if f.released {
		return ErrReleased
	}
	f.released = true

	buf := f.Data[:0]
	f.Data = nil

	select {
	case s.free <- buf:
		return nil
	default:
		return fmt.Errorf("バッファプールが満杯です: フレーム %d", f.Seq)
	}
}

// Info はソースの情報を返す
func (s *TestPatternSource) Info() SourceInfo {
	return s.info
}

// Close はソースを停止する。空きバッファを待っている Acquire は ErrClosed で戻る
func (s *TestPatternSource) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
