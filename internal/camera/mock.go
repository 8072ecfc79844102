package camera

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockFrame はMockSourceが返すフレームの台本
type MockFrame struct {
	Format PixelFormat
	Data   []byte
	Err    error // 設定されている場合は Acquire がこのエラーを返す
}

// MockSource はテスト用のFrameSource実装
//
// 台本どおりにフレームを返し、貸し出しと返却の回数を記録する。
// 台本を使い切ると ErrNoFrame を返す。SetLoop で繰り返すこともできる。
type MockSource struct {
	mu     sync.Mutex
	script []MockFrame
	next   int
	loop   bool
	seq    uint64
	width  int
	height int
	closed bool

	acquired    int
	released    int
	outstanding map[uint64]*Frame
	maxOut      int
	releaseErr  error
}

// NewMockSource は新しいMockSourceを作成する
func NewMockSource(script ...MockFrame) *MockSource {
	return &MockSource{
		script:      script,
		width:       640,
		height:      480,
		outstanding: make(map[uint64]*Frame),
	}
}

// JPEGFrames は指定サイズのJPEGフレームの台本を作る。各フレームの先頭バイトは連番
func JPEGFrames(sizes ...int) []MockFrame {
	frames := make([]MockFrame, 0, len(sizes))
	for i, size := range sizes {
		data := make([]byte, size)
		for j := range data {
			data[j] = byte(i + 1)
		}
		frames = append(frames, MockFrame{Format: PixelFormatJPEG, Data: data})
	}
	return frames
}

// Acquire は台本の次のフレームを返す
func (m *MockSource) Acquire(ctx context.Context) (*Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.closed {
		return nil, ErrClosed
	}
	if len(m.script) == 0 || (m.next >= len(m.script) && !m.loop) {
		return nil, ErrNoFrame
	}

	item := m.script[m.next%len(m.script)]
	m.next++
	if item.Err != nil {
		return nil, item.Err
	}
	if item.Data == nil {
		// データなしはフレームなしとして扱う
		return nil, nil
	}

	m.seq++
	m.acquired++
	data := make([]byte, len(item.Data))
	copy(data, item.Data)

	f := &Frame{
		Format:    item.Format,
		Width:     m.width,
		Height:    m.height,
		Data:      data,
		Seq:       m.seq,
		Timestamp: time.Now(),
	}
	m.outstanding[f.Seq] = f
	if len(m.outstanding) > m.maxOut {
		m.maxOut = len(m.outstanding)
	}
	return f, nil
}

// Release はフレームの返却を記録する
func (m *MockSource) Release(f *Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f == nil {
		return fmt.Errorf("nil フレームは返却できません")
	}
	if f.released {
		return ErrReleased
	}
	if _, ok := m.outstanding[f.Seq]; !ok {
		return fmt.Errorf("未貸し出しのフレームです: %d", f.Seq)
	}

	f.released = true
	f.Data = nil
	delete(m.outstanding, f.Seq)
	m.released++
	return m.releaseErr
}

// Info はモックの情報を返す
func (m *MockSource) Info() SourceInfo {
	return SourceInfo{
		Driver:      "mock",
		Device:      "mock",
		Format:      PixelFormatJPEG,
		Width:       m.width,
		Height:      m.height,
		BufferCount: 1,
	}
}

// Close はモックをクローズする
func (m *MockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// SetReleaseError はテスト用にRelease失敗を設定する
func (m *MockSource) SetReleaseError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseErr = err
}

// SetLoop は台本を使い切った後に先頭から繰り返すかを設定する
func (m *MockSource) SetLoop(loop bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loop = loop
}

// SetSize はテスト用にフレームサイズを設定する
func (m *MockSource) SetSize(width, height int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.width = width
	m.height = height
}

// Acquired は貸し出し回数を返す
func (m *MockSource) Acquired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquired
}

// Released は返却回数を返す
func (m *MockSource) Released() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

// Outstanding は返却されていないフレーム数を返す
func (m *MockSource) Outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.outstanding)
}

// MaxOutstanding は同時に貸し出されたフレーム数の最大値を返す
func (m *MockSource) MaxOutstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxOut
}

// Calls は Acquire が台本を消費した回数を返す
func (m *MockSource) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.next
}
