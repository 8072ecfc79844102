package stream

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResponseSink(t *testing.T) {
	rec := httptest.NewRecorder()
	sink := NewResponseSink(rec)

	if err := sink.SetContentType(ContentType); err != nil {
		t.Fatalf("SetContentType に失敗: %v", err)
	}
	if !rec.Flushed {
		t.Error("ヘッダー送信後にフラッシュされていません")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("ステータス = %d, 期待値 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != ContentType {
		t.Errorf("Content-Type = %q, 期待値 %q", got, ContentType)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-cache" {
		t.Errorf("Cache-Control = %q", got)
	}

	for _, chunk := range []string{PartBoundary, string(PartHeader(3)), "abc"} {
		if err := sink.SendChunk([]byte(chunk)); err != nil {
			t.Fatalf("SendChunk に失敗: %v", err)
		}
	}

	want := PartBoundary + "Content-Type: image/jpeg\r\nContent-Length: 3\r\n\r\nabc"
	if got := rec.Body.String(); got != want {
		t.Errorf("ボディ = %q, 期待値 %q", got, want)
	}
}

// brokenWriter は書き込みが常に失敗するResponseWriter
type brokenWriter struct {
	header http.Header
}

func (w *brokenWriter) Header() http.Header {
	if w.header == nil {
		w.header = http.Header{}
	}
	return w.header
}

func (w *brokenWriter) Write([]byte) (int, error) {
	return 0, errWrite
}

func (w *brokenWriter) WriteHeader(int) {}

func TestResponseSink_WriteError(t *testing.T) {
	sink := NewResponseSink(&brokenWriter{})

	if err := sink.SendChunk([]byte("x")); !errors.Is(err, errWrite) {
		t.Errorf("書き込みエラーを期待しましたが %v でした", err)
	}

	// Flush をサポートしないWriterでは ErrNotSupported になる
	if err := sink.SetContentType(ContentType); !errors.Is(err, http.ErrNotSupported) {
		t.Errorf("http.ErrNotSupported を期待しましたが %v でした", err)
	}
}
