package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"camstream/internal/camera"
	"camstream/internal/encoder"
	"camstream/internal/telemetry"
)

// Boundary はマルチパートの区切り文字列
const Boundary = "123456789000000000000987654321"

// ContentType はMJPEGストリームのContent-Type
const ContentType = "multipart/x-mixed-replace;boundary=" + Boundary

// PartBoundary は各パートの前に送る区切り
const PartBoundary = "\r\n--" + Boundary + "\r\n"

var partBoundary = []byte(PartBoundary)

var (
	// ErrCapture はフレームを取得できなかったことを表す
	ErrCapture = errors.New("カメラキャプチャに失敗")
	// ErrEncode はJPEG変換に失敗したことを表す
	ErrEncode = errors.New("JPEG圧縮に失敗")
	// ErrTransport はレスポンスへの書き込みに失敗したことを表す
	ErrTransport = errors.New("送信に失敗")
)

// PartHeader は n バイトのJPEGパートのヘッダーを返す
func PartHeader(n int) []byte {
	b := make([]byte, 0, 64)
	b = append(b, "Content-Type: image/jpeg\r\nContent-Length: "...)
	b = strconv.AppendInt(b, int64(n), 10)
	return append(b, "\r\n\r\n"...)
}

// Handler は1つの接続に対してMJPEGストリームを配信する
//
// ソースへの排他制御は行わない。同時に複数の接続を処理する場合は
// ソースのバッファ数が足りていることを前提とする。
type Handler struct {
	source   camera.FrameSource
	encoder  encoder.Encoder
	reporter telemetry.Reporter
	quality  int
	now      func() time.Time
}

// NewHandler は新しいHandlerを作成する
func NewHandler(source camera.FrameSource, enc encoder.Encoder, reporter telemetry.Reporter, quality int) *Handler {
	if enc == nil {
		enc = encoder.NewJPEGEncoder()
	}
	if reporter == nil {
		reporter = telemetry.Nop{}
	}
	if quality <= 0 {
		quality = encoder.DefaultQuality
	}
	return &Handler{
		source:   source,
		encoder:  enc,
		reporter: reporter,
		quality:  quality,
		now:      time.Now,
	}
}

// Serve はストリームを配信する。失敗するまで戻らず、戻り値は常に非nil
//
// 切断は書き込みの失敗でのみ検出する。ctx はソースの待機にだけ渡す。
// 終了時にはセッションのフレーム時刻を未設定に戻す。
func (h *Handler) Serve(ctx context.Context, sink Sink, sess *Session) (err error) {
	defer func() {
		h.reporter.SessionClosed(telemetry.SessionSummary{
			SessionID: sess.ID,
			Frames:    sess.Frames(),
			Bytes:     sess.Bytes(),
			Duration:  h.now().Sub(sess.StartedAt),
			Err:       errString(err),
		})
		sess.Reset()
	}()

	if err := sink.SetContentType(ContentType); err != nil {
		return fmt.Errorf("%w: Content-Typeの設定: %w", ErrTransport, err)
	}

	for {
		size, err := h.sendFrame(ctx, sink)
		if err != nil {
			return err
		}

		now := h.now()
		elapsed := sess.Mark(now, size)
		h.reporter.FrameSent(telemetry.FrameStats{
			SessionID: sess.ID,
			Seq:       sess.Frames(),
			Bytes:     size,
			Interval:  elapsed,
			FPS:       fps(elapsed),
		})
	}
}

// sendFrame はフレームを1枚取得して送信し、ペイロードのサイズを返す
func (h *Handler) sendFrame(ctx context.Context, sink Sink) (int, error) {
	return h.withJPEG(ctx, func(payload []byte) error {
		if err := sink.SendChunk(partBoundary); err != nil {
			return fmt.Errorf("%w: 区切り: %w", ErrTransport, err)
		}
		if err := sink.SendChunk(PartHeader(len(payload))); err != nil {
			return fmt.Errorf("%w: パートヘッダー: %w", ErrTransport, err)
		}
		if err := sink.SendChunk(payload); err != nil {
			return fmt.Errorf("%w: 画像データ: %w", ErrTransport, err)
		}
		return nil
	})
}

// Snapshot はフレームを1枚取得してJPEGを返す。戻り値は呼び出し側が所有する
func (h *Handler) Snapshot(ctx context.Context) ([]byte, error) {
	var out []byte
	_, err := h.withJPEG(ctx, func(payload []byte) error {
		out = bytes.Clone(payload)
		return nil
	})
	return out, err
}

// withJPEG はフレームを1枚取得し、JPEGのペイロードを fn に渡す
//
// 取得したフレームはどの経路でも必ず1回返却する。変換したバッファは返却より先に解放する。
// payload は fn の中でだけ有効。
func (h *Handler) withJPEG(ctx context.Context, fn func(payload []byte) error) (int, error) {
	frame, err := h.source.Acquire(ctx)
	if err != nil || frame == nil {
		if err == nil {
			err = camera.ErrNoFrame
		}
		log.Error().Err(err).Str("component", "stream").Msg("カメラキャプチャに失敗")
		return 0, fmt.Errorf("%w: %w", ErrCapture, err)
	}
	defer func() {
		if err := h.source.Release(frame); err != nil {
			log.Warn().Err(err).Uint64("frame", frame.Seq).Msg("フレームの返却に失敗")
		}
	}()

	payload := frame.Data
	if frame.Format != camera.PixelFormatJPEG {
		chunk, err := h.encoder.Encode(frame, h.quality)
		if err != nil {
			log.Error().Err(err).Str("component", "stream").Str("format", frame.Format.String()).Msg("JPEG圧縮に失敗")
			return 0, fmt.Errorf("%w: %w", ErrEncode, err)
		}
		defer chunk.Free()
		payload = chunk.Bytes()
	}

	if err := fn(payload); err != nil {
		return 0, err
	}
	return len(payload), nil
}

// fps は経過時間から瞬間フレームレートを求める。1ms未満は0
func fps(elapsed time.Duration) float64 {
	ms := elapsed.Milliseconds()
	if ms <= 0 {
		return 0
	}
	return 1000 / float64(ms)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
