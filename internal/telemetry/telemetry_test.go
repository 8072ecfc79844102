package telemetry

import (
	"bytes"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

func TestFormatFrameLine(t *testing.T) {
	testCases := []struct {
		name  string
		stats FrameStats
		want  string
	}{
		{
			name:  "最初のフレーム",
			stats: FrameStats{Bytes: 12 * 1024, Interval: 0, FPS: 0},
			want:  "MJPG: 12KB 0ms (0.0fps)",
		},
		{
			name:  "15fps",
			stats: FrameStats{Bytes: 30000, Interval: 66 * time.Millisecond, FPS: 1000.0 / 66},
			want:  "MJPG: 29KB 66ms (15.2fps)",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := FormatFrameLine(tc.stats); got != tc.want {
				t.Errorf("FormatFrameLine = %q, 期待値 %q", got, tc.want)
			}
		})
	}
}

func TestLogReporter(t *testing.T) {
	var buf bytes.Buffer
	r := NewLogReporter(zerolog.New(&buf), 2)

	for seq := uint64(1); seq <= 4; seq++ {
		r.FrameSent(FrameStats{SessionID: "s1", Seq: seq, Bytes: 2048, Interval: 100 * time.Millisecond, FPS: 10})
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	// 1フレーム目と2の倍数のフレームだけ出力する
	if len(lines) != 3 {
		t.Fatalf("ログ行数 = %d, 期待値 3: %s", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &entry); err != nil {
		t.Fatalf("ログがJSONではありません: %v", err)
	}
	if entry["message"] != "MJPG: 2KB 100ms (10.0fps)" {
		t.Errorf("message = %v", entry["message"])
	}
	if entry["session"] != "s1" || entry["component"] != "stream" {
		t.Errorf("フィールドが不正です: %v", entry)
	}

	buf.Reset()
	r.SessionClosed(SessionSummary{SessionID: "s1", Frames: 4, Err: "送信に失敗"})
	if !strings.Contains(buf.String(), `"level":"warn"`) || !strings.Contains(buf.String(), `"reason":"送信に失敗"`) {
		t.Errorf("エラー終了は警告として出力されるべきです: %s", buf.String())
	}
}

type countingReporter struct {
	frames   int
	sessions int
}

func (c *countingReporter) FrameSent(FrameStats)         { c.frames++ }
func (c *countingReporter) SessionClosed(SessionSummary) { c.sessions++ }

func TestMulti(t *testing.T) {
	a, b := &countingReporter{}, &countingReporter{}
	m := Multi(a, nil, b)

	m.FrameSent(FrameStats{})
	m.FrameSent(FrameStats{})
	m.SessionClosed(SessionSummary{})

	for i, c := range []*countingReporter{a, b} {
		if c.frames != 2 || c.sessions != 1 {
			t.Errorf("reporter %d: frames=%d sessions=%d", i, c.frames, c.sessions)
		}
	}

	if Multi(a) != Reporter(a) {
		t.Error("1つだけの場合はそのまま返すべきです")
	}

	// 空でも呼び出せる
	Multi().FrameSent(FrameStats{})
	Nop{}.SessionClosed(SessionSummary{})
}
