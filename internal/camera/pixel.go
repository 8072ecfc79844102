package camera

import (
	"fmt"
	"image"
	"image/color"
	"strings"
)

// PixelFormat はフレームのピクセルフォーマット
type PixelFormat int

const (
	PixelFormatJPEG      PixelFormat = iota // JPEG圧縮済み
	PixelFormatGrayscale                    // 8bit グレースケール
	PixelFormatRGB565                       // 16bit RGB (ビッグエンディアン)
	PixelFormatYUV422                       // YUYV 4:2:2
)

// ParsePixelFormat は設定値の文字列をPixelFormatに変換する
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "jpeg", "jpg", "mjpeg":
		return PixelFormatJPEG, nil
	case "grayscale", "gray", "grey":
		return PixelFormatGrayscale, nil
	case "rgb565":
		return PixelFormatRGB565, nil
	case "yuv422", "yuyv":
		return PixelFormatYUV422, nil
	default:
		return 0, fmt.Errorf("未対応のピクセルフォーマット: %q", s)
	}
}

// String はフォーマット名を返す
func (p PixelFormat) String() string {
	switch p {
	case PixelFormatJPEG:
		return "jpeg"
	case PixelFormatGrayscale:
		return "grayscale"
	case PixelFormatRGB565:
		return "rgb565"
	case PixelFormatYUV422:
		return "yuv422"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// MarshalText は設定やJSONでの表記に使う
func (p PixelFormat) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText は ParsePixelFormat と同じ表記を受け付ける
func (p *PixelFormat) UnmarshalText(text []byte) error {
	v, err := ParsePixelFormat(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// BytesPerPixel は非圧縮フォーマットの1画素あたりのバイト数を返す。JPEGは0
func (p PixelFormat) BytesPerPixel() int {
	switch p {
	case PixelFormatGrayscale:
		return 1
	case PixelFormatRGB565, PixelFormatYUV422:
		return 2
	default:
		return 0
	}
}

// FrameSize は非圧縮フレームのバイト数を返す
func (p PixelFormat) FrameSize(width, height int) int {
	return p.BytesPerPixel() * width * height
}

// PackImage は画像を非圧縮フォーマットのバイト列に変換して dst に書き込む
//
// dst の長さは FrameSize 以上でなければならない。書き込んだバイト数を返す。
func PackImage(img image.Image, format PixelFormat, dst []byte) (int, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	size := format.FrameSize(w, h)
	if size == 0 {
		return 0, fmt.Errorf("%s は非圧縮フォーマットではありません", format)
	}
	if len(dst) < size {
		return 0, fmt.Errorf("バッファが不足しています: %d < %d", len(dst), size)
	}
	if format == PixelFormatYUV422 && w%2 != 0 {
		return 0, fmt.Errorf("YUV422 の幅は偶数である必要があります: %d", w)
	}

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		switch format {
		case PixelFormatGrayscale:
			for x := b.Min.X; x < b.Max.X; x++ {
				dst[i] = color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y
				i++
			}
		case PixelFormatRGB565:
			for x := b.Min.X; x < b.Max.X; x++ {
				r, g, bl, _ := img.At(x, y).RGBA()
				v := uint16(r>>11)<<11 | uint16(g>>10)<<5 | uint16(bl>>11)
				dst[i] = byte(v >> 8)
				dst[i+1] = byte(v)
				i += 2
			}
		case PixelFormatYUV422:
			for x := b.Min.X; x < b.Max.X; x += 2 {
				y0, cb0, cr0 := toYCbCr(img.At(x, y))
				y1, cb1, cr1 := toYCbCr(img.At(x+1, y))
				dst[i] = y0
				dst[i+1] = uint8((uint16(cb0) + uint16(cb1)) / 2)
				dst[i+2] = y1
				dst[i+3] = uint8((uint16(cr0) + uint16(cr1)) / 2)
				i += 4
			}
		}
	}
	return size, nil
}

func toYCbCr(c color.Color) (uint8, uint8, uint8) {
	r, g, b, _ := c.RGBA()
	return color.RGBToYCbCr(uint8(r>>8), uint8(g>>8), uint8(b>>8))
}
