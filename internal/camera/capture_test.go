package camera

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"testing/iotest"
)

func fakeJPEG(fill byte, n int) []byte {
	b := []byte{0xFF, 0xD8}
	b = append(b, bytes.Repeat([]byte{fill}, n)...)
	return append(b, 0xFF, 0xD9)
}

func TestSplitJPEG(t *testing.T) {
	var stream []byte
	stream = append(stream, 0x00, 0x01) // 先頭のゴミ
	stream = append(stream, fakeJPEG(0x11, 10)...)
	stream = append(stream, fakeJPEG(0x22, 5000)...)
	stream = append(stream, 0x42)
	stream = append(stream, fakeJPEG(0x33, 1)...)
	stream = append(stream, 0xFF, 0xD8, 0x44) // 途中で終わるフレーム

	var frames [][]byte
	// 1バイトずつ読ませてマーカーが読み取り境界をまたぐ場合も確認する
	err := SplitJPEG(iotest.OneByteReader(bytes.NewReader(stream)), func(frame []byte) bool {
		frames = append(frames, frame)
		return true
	})
	if err != nil {
		t.Fatalf("SplitJPEG failed: %v", err)
	}

	want := [][]byte{fakeJPEG(0x11, 10), fakeJPEG(0x22, 5000), fakeJPEG(0x33, 1)}
	if len(frames) != len(want) {
		t.Fatalf("Expected %d frames, got %d", len(want), len(frames))
	}
	for i := range want {
		if !bytes.Equal(frames[i], want[i]) {
			t.Errorf("frame %d mismatch: len %d, want %d", i, len(frames[i]), len(want[i]))
		}
	}
}

func TestSplitJPEG_StopAndError(t *testing.T) {
	stream := append(fakeJPEG(1, 1), fakeJPEG(2, 1)...)

	count := 0
	err := SplitJPEG(bytes.NewReader(stream), func([]byte) bool {
		count++
		return false
	})
	if err != nil || count != 1 {
		t.Errorf("Expected stop after first frame, got count=%d err=%v", count, err)
	}

	readErr := errors.New("pipe broken")
	err = SplitJPEG(iotest.ErrReader(readErr), func([]byte) bool { return true })
	if !errors.Is(err, readErr) {
		t.Errorf("Expected read error, got %v", err)
	}
}

func TestFFmpegArgs(t *testing.T) {
	cfg := Config{Width: 640, Height: 480, FPS: 15, HMirror: true, VFlip: true, Quality: 80}
	args := strings.Join(ffmpegArgs("/dev/video0", cfg), " ")

	for _, want := range []string{
		"-f v4l2",
		"-video_size 640x480",
		"-framerate 15",
		"-i /dev/video0",
		"-vf hflip,vflip",
		"-f image2pipe -c:v mjpeg",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("Expected %q in args: %s", want, args)
		}
	}

	args = strings.Join(ffmpegArgs("/dev/video0", Config{Width: 320, Height: 240, FPS: 5}), " ")
	if strings.Contains(args, "-vf") {
		t.Errorf("Unexpected filter: %s", args)
	}
}

func TestMJPEGQScale(t *testing.T) {
	tests := []struct {
		quality  int
		expected int
	}{
		{0, 3},
		{100, 2},
		{200, 2},
		{80, 8},
		{1, 31},
	}
	for _, tt := range tests {
		if got := mjpegQScale(tt.quality); got != tt.expected {
			t.Errorf("mjpegQScale(%d) = %d, expected %d", tt.quality, got, tt.expected)
		}
	}
}

func TestFFmpegSource_AcquireRelease(t *testing.T) {
	s := &FFmpegSource{
		info:   SourceInfo{Width: 2, Height: 2},
		frames: make(chan []byte, 1),
		done:   make(chan struct{}),
	}
	s.frames <- fakeJPEG(9, 3)

	f, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if f.Format != PixelFormatJPEG || f.Seq != 1 || f.Len() != 7 {
		t.Errorf("Unexpected frame: %+v", f)
	}
	if err := s.Release(f); err != nil {
		t.Errorf("Release failed: %v", err)
	}
	if err := s.Release(f); !errors.Is(err, ErrReleased) {
		t.Errorf("Expected ErrReleased, got %v", err)
	}

	// ffmpegが終了した後はフレームなし
	close(s.done)
	if _, err := s.Acquire(context.Background()); !errors.Is(err, ErrNoFrame) {
		t.Errorf("Expected ErrNoFrame, got %v", err)
	}
}

func TestTailBuffer(t *testing.T) {
	tb := newTailBuffer(4)
	_, _ = tb.Write([]byte("abc"))
	_, _ = tb.Write([]byte("defg"))
	if got := tb.String(); got != "defg" {
		t.Errorf("tailBuffer = %q, expected %q", got, "defg")
	}
}
