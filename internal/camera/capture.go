package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// maxJPEGSize は分割中のバッファ上限。超えた場合は破棄して次のSOIを待つ
const maxJPEGSize = 10 * 1024 * 1024

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

func init() {
	Register("ffmpeg", openFFmpegSource)
}

// FFmpegSource はffmpegのimage2pipe出力をJPEGフレームとして貸し出すソース
type FFmpegSource struct {
	info   SourceInfo
	cmd    *exec.Cmd
	cancel context.CancelFunc
	frames chan []byte
	done   chan struct{}
	stderr *tailBuffer

	mu     sync.Mutex
	seq    uint64
	closed bool
}

// ffmpegArgs はffmpegのコマンドライン引数を組み立てる
func ffmpegArgs(device string, cfg Config) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-framerate", strconv.Itoa(cfg.FPS),
		"-i", device,
	}

	var filters []string
	if cfg.HMirror {
		filters = append(filters, "hflip")
	}
	if cfg.VFlip {
		filters = append(filters, "vflip")
	}
	if len(filters) > 0 {
		args = append(args, "-vf", strings.Join(filters, ","))
	}

	return append(args,
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", strconv.Itoa(mjpegQScale(cfg.Quality)),
		"-",
	)
}

// mjpegQScale はJPEG品質(1-100)をffmpegのqscale(2-31、小さいほど高品質)に変換する
func mjpegQScale(quality int) int {
	if quality <= 0 {
		return 3
	}
	if quality > 100 {
		quality = 100
	}
	return 31 - (quality*29)/100
}

// openFFmpegSource はffmpegを起動してフレームの読み取りを開始する
func openFFmpegSource(ctx context.Context, cfg Config) (Source, error) {
	if cfg.Format != PixelFormatJPEG {
		return nil, fmt.Errorf("ffmpeg ドライバーは jpeg のみ対応しています: %s", cfg.Format)
	}

	device, err := resolveDevice(ctx, cfg.Device)
	if err != nil {
		return nil, err
	}

	// ソースの寿命はリクエストではなくプロセスに従う
	runCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(runCtx, "ffmpeg", ffmpegArgs(device, cfg)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdoutパイプの作成に失敗: %w", err)
	}
	stderr := newTailBuffer(4096)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpegの起動に失敗: %w", err)
	}

	s := &FFmpegSource{
		info: SourceInfo{
			Driver:      "ffmpeg",
			Device:      device,
			Format:      PixelFormatJPEG,
			Width:       cfg.Width,
			Height:      cfg.Height,
			FPS:         cfg.FPS,
			BufferCount: cfg.BufferCount,
		},
		cmd:    cmd,
		cancel: cancel,
		frames: make(chan []byte, cfg.BufferCount),
		done:   make(chan struct{}),
		stderr: stderr,
	}

	go s.readFrames(runCtx, stdout)

	log.Info().
		Str("component", "camera").
		Str("device", device).
		Int("width", cfg.Width).
		Int("height", cfg.Height).
		Int("fps", cfg.FPS).
		Msg("ffmpegキャプチャを開始しました")

	return s, nil
}

// readFrames はパイプからJPEGを切り出してキューに積む
func (s *FFmpegSource) readFrames(ctx context.Context, stdout io.Reader) {
	defer close(s.done)
	defer func() {
		_ = s.cmd.Wait() // キャンセル時のエラーは無視
	}()

	err := SplitJPEG(stdout, func(frame []byte) bool {
		select {
		case s.frames <- frame:
		case <-ctx.Done():
			return false
		default:
			// キューが満杯の場合は古いフレームを破棄する
			select {
			case <-s.frames:
			default:
			}
			select {
			case s.frames <- frame:
			case <-ctx.Done():
				return false
			}
		}
		return true
	})
	if err != nil && ctx.Err() == nil {
		log.Error().Err(err).Str("stderr", s.stderr.String()).Msg("ffmpegの読み取りに失敗")
	}
}

// SplitJPEG はストリームをSOI/EOIマーカーで分割し、完全なJPEGごとに emit を呼ぶ
//
// emit が false を返すか、ストリームが終わると戻る。EOFは正常終了として nil を返す。
func SplitJPEG(r io.Reader, emit func(frame []byte) bool) error {
	reader := bufio.NewReaderSize(r, 64*1024)
	buf := make([]byte, 32*1024)
	var pending []byte

	for {
		n, err := reader.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)

			for {
				start := bytes.Index(pending, jpegSOI)
				if start == -1 {
					// 次のSOIの先頭バイトだけ残す
					if len(pending) > 0 && pending[len(pending)-1] == 0xFF {
						pending = pending[len(pending)-1:]
					} else {
						pending = pending[:0]
					}
					break
				}

				end := bytes.Index(pending[start+2:], jpegEOI)
				if end == -1 {
					pending = pending[start:]
					if len(pending) > maxJPEGSize {
						pending = pending[:0]
					}
					break
				}

				end += start + 4
				frame := make([]byte, end-start)
				copy(frame, pending[start:end])
				if !emit(frame) {
					return nil
				}
				pending = pending[end:]
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("フレーム読み取りエラー: %w", err)
		}
	}
}

// Acquire はキューからJPEGフレームを取り出す。ffmpegが終了している場合は ErrNoFrame
func (s *FFmpegSource) Acquire(ctx context.Context) (*Frame, error) {
	select {
	case data := <-s.frames:
		return s.newFrame(data), nil
	default:
	}

	select {
	case data := <-s.frames:
		return s.newFrame(data), nil
	case <-s.done:
		return nil, fmt.Errorf("%w: ffmpegが終了しました", ErrNoFrame)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *FFmpegSource) newFrame(data []byte) *Frame {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	return &Frame{
		Format:    PixelFormatJPEG,
		Width:     s.info.Width,
		Height:    s.info.Height,
		Data:      data,
		Seq:       seq,
		Timestamp: time.Now(),
	}
}

// Release はフレームを返却する。バッファはGCに任せる
func (s *FFmpegSource) Release(f *Frame) error {
	if f.released {
		return ErrReleased
	}
	f.released = true
	f.Data = nil
	return nil
}

// Info はソースの情報を返す
func (s *FFmpegSource) Info() SourceInfo {
	return s.info
}

// Close はffmpegを停止する
func (s *FFmpegSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	<-s.done
	return nil
}

// tailBuffer は末尾の max バイトだけを保持する io.Writer
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
