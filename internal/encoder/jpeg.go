// Package encoder は非圧縮フレームをJPEGへ変換する
package encoder

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/valyala/bytebufferpool"

	"camstream/internal/camera"
)

// DefaultQuality はフレーム変換時のJPEG品質
const DefaultQuality = 80

// ErrAlreadyJPEG はJPEGフレームを変換しようとしたことを表す
var ErrAlreadyJPEG = errors.New("フレームは既にJPEGです")

// Encoder はフレームをJPEGに変換する
type Encoder interface {
	Encode(f *camera.Frame, quality int) (*Chunk, error)
}

// Chunk は変換で生成されたJPEGデータ
//
// フレームのバッファとは独立しており、Free を呼ぶまで呼び出し側が所有する。
type Chunk struct {
	buf *bytebufferpool.ByteBuffer
}

// NewChunk はプールのバッファに p をコピーしたChunkを作成する
func NewChunk(p []byte) *Chunk {
	buf := bytebufferpool.Get()
	buf.B = append(buf.B[:0], p...)
	return &Chunk{buf: buf}
}

// Bytes はJPEGデータを返す。Free 後は nil
func (c *Chunk) Bytes() []byte {
	if c.buf == nil {
		return nil
	}
	return c.buf.B
}

// Len はJPEGデータのバイト数を返す
func (c *Chunk) Len() int {
	if c.buf == nil {
		return 0
	}
	return c.buf.Len()
}

// Free はバッファをプールへ返す。複数回呼んでもよい
func (c *Chunk) Free() {
	if c.buf == nil {
		return
	}
	bytebufferpool.Put(c.buf)
	c.buf = nil
}

// JPEGEncoder は image/jpeg を使ったEncoder実装
type JPEGEncoder struct{}

// NewJPEGEncoder は新しいJPEGEncoderを作成する
func NewJPEGEncoder() *JPEGEncoder {
	return &JPEGEncoder{}
}

// Encode はフレームを指定品質のJPEGに変換する
func (e *JPEGEncoder) Encode(f *camera.Frame, quality int) (*Chunk, error) {
	if f == nil {
		return nil, fmt.Errorf("フレームがnilです")
	}
	if f.Format == camera.PixelFormatJPEG {
		return nil, ErrAlreadyJPEG
	}

	img, err := toImage(f)
	if err != nil {
		return nil, err
	}

	buf := bytebufferpool.Get()
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: clampQuality(quality)}); err != nil {
		bytebufferpool.Put(buf)
		return nil, fmt.Errorf("JPEG圧縮に失敗: %w", err)
	}

	return &Chunk{buf: buf}, nil
}

func clampQuality(q int) int {
	switch {
	case q < 1:
		return 1
	case q > 100:
		return 100
	default:
		return q
	}
}

// toImage は非圧縮フレームを image.Image に変換する
func toImage(f *camera.Frame) (image.Image, error) {
	w, h := f.Width, f.Height
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("無効な解像度: %dx%d", w, h)
	}

	size := f.Format.FrameSize(w, h)
	if size == 0 {
		return nil, fmt.Errorf("未対応のピクセルフォーマット: %s", f.Format)
	}
	if len(f.Data) < size {
		return nil, fmt.Errorf("フレームデータが不足しています: %d < %d (%s %dx%d)", len(f.Data), size, f.Format, w, h)
	}

	rect := image.Rect(0, 0, w, h)
	switch f.Format {
	case camera.PixelFormatGrayscale:
		img := image.NewGray(rect)
		copy(img.Pix, f.Data[:size])
		return img, nil

	case camera.PixelFormatRGB565:
		img := image.NewRGBA(rect)
		for i, j := 0, 0; i < size; i, j = i+2, j+4 {
			v := uint16(f.Data[i])<<8 | uint16(f.Data[i+1])
			r := uint8(v >> 11 & 0x1F)
			g := uint8(v >> 5 & 0x3F)
			b := uint8(v & 0x1F)
			img.Pix[j] = r<<3 | r>>2
			img.Pix[j+1] = g<<2 | g>>4
			img.Pix[j+2] = b<<3 | b>>2
			img.Pix[j+3] = 0xFF
		}
		return img, nil

	case camera.PixelFormatYUV422:
		if w%2 != 0 {
			return nil, fmt.Errorf("YUV422 の幅は偶数である必要があります: %d", w)
		}
		img := image.NewYCbCr(rect, image.YCbCrSubsampleRatio422)
		for y := 0; y < h; y++ {
			row := f.Data[y*w*2 : (y+1)*w*2]
			for x := 0; x < w; x += 2 {
				p := row[x*2 : x*2+4]
				img.Y[y*img.YStride+x] = p[0]
				img.Y[y*img.YStride+x+1] = p[2]
				ci := y*img.CStride + x/2
				img.Cb[ci] = p[1]
				img.Cr[ci] = p[3]
			}
		}
		return img, nil
	}

	return nil, fmt.Errorf("未対応のピクセルフォーマット: %s", f.Format)
}
