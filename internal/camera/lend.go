package camera

import "sync"

// lendTracker はドライバーのバッファを使用中の呼び出しを数える
//
// close 後は新しい貸し出しを受け付けず、貸し出し中のものが全て戻るまで待つ。
// mmap バッファを解放する前に呼ぶ。
type lendTracker struct {
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// begin は貸し出しを1つ記録する。クローズ済みなら false
func (t *lendTracker) begin() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false
	}
	t.wg.Add(1)
	return true
}

// end は begin で記録した貸し出しを終える
func (t *lendTracker) end() {
	t.wg.Done()
}

// close は新しい貸し出しを止めて返却を待つ。既にクローズ済みなら false
func (t *lendTracker) close() bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	t.closed = true
	t.mu.Unlock()

	t.wg.Wait()
	return true
}
