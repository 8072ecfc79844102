package stream

import (
	"net/http"
)

// Sink はレスポンスにチャンクを書き出す先
type Sink interface {
	// SetContentType はボディ送信前にレスポンスのContent-Typeを確定する
	SetContentType(contentType string) error

	// SendChunk はチャンクを1つ送信する
	SendChunk(p []byte) error
}

// ResponseSink は http.ResponseWriter に書き込むSink
type ResponseSink struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// NewResponseSink は新しいResponseSinkを作成する
func NewResponseSink(w http.ResponseWriter) *ResponseSink {
	return &ResponseSink{
		w:  w,
		rc: http.NewResponseController(w),
	}
}

// SetContentType はヘッダーを設定してステータス200を送信する
func (s *ResponseSink) SetContentType(contentType string) error {
	h := s.w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Access-Control-Allow-Origin", "*")
	s.w.WriteHeader(http.StatusOK)

	return s.rc.Flush()
}

// SendChunk は書き込み後すぐにフラッシュする
func (s *ResponseSink) SendChunk(p []byte) error {
	if _, err := s.w.Write(p); err != nil {
		return err
	}
	return s.rc.Flush()
}
