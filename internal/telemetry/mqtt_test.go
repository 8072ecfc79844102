package telemetry

import (
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	json "github.com/goccy/go-json"
)

// doneToken は即座に完了するmqtt.Token
type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

// pendingToken は完了しないmqtt.Token
type pendingToken struct{}

func (pendingToken) Wait() bool                     { return false }
func (pendingToken) WaitTimeout(time.Duration) bool { return false }
func (pendingToken) Done() <-chan struct{}          { return make(chan struct{}) }
func (pendingToken) Error() error                   { return nil }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeClient はmqtt.Clientのテスト用実装。使わないメソッドは埋め込みに任せる
type fakeClient struct {
	mqtt.Client

	mu           sync.Mutex
	connectErr   error
	hang         bool // Connect が完了しない
	connected    bool
	disconnected bool
	messages     []published
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hang {
		return pendingToken{}
	}
	c.connected = c.connectErr == nil
	return doneToken{err: c.connectErr}
}

func (c *fakeClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return doneToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnected = true
}

func TestMQTTReporter_Publish(t *testing.T) {
	client := &fakeClient{}
	r, err := newMQTTReporter(client, "camstream", time.Second)
	if err != nil {
		t.Fatalf("newMQTTReporter に失敗: %v", err)
	}

	r.FrameSent(FrameStats{SessionID: "s1", Seq: 3, Bytes: 4096, Interval: 50 * time.Millisecond, FPS: 20})
	r.SessionClosed(SessionSummary{SessionID: "s1", Frames: 3})

	if len(client.messages) != 2 {
		t.Fatalf("送信件数 = %d, 期待値 2", len(client.messages))
	}

	msg := client.messages[0]
	if msg.topic != "camstream/frames" || msg.qos != 0 {
		t.Errorf("topic=%s qos=%d", msg.topic, msg.qos)
	}
	var stats FrameStats
	if err := json.Unmarshal(msg.payload, &stats); err != nil {
		t.Fatalf("ペイロードがJSONではありません: %v", err)
	}
	if stats.SessionID != "s1" || stats.Seq != 3 || stats.Bytes != 4096 || stats.FPS != 20 {
		t.Errorf("ペイロードが不正です: %+v", stats)
	}

	if client.messages[1].topic != "camstream/sessions" {
		t.Errorf("セッションのtopic = %s", client.messages[1].topic)
	}

	r.Close()
	if !client.disconnected {
		t.Error("Close で切断されていません")
	}
}

func TestMQTTReporter_DropsWhileDisconnected(t *testing.T) {
	client := &fakeClient{}
	r, err := newMQTTReporter(client, "camstream", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	client.Disconnect(0)

	r.FrameSent(FrameStats{Seq: 1})
	r.FrameSent(FrameStats{Seq: 2})

	if len(client.messages) != 0 {
		t.Errorf("未接続なのに %d 件送信しました", len(client.messages))
	}
	if r.Dropped() != 2 {
		t.Errorf("Dropped = %d, 期待値 2", r.Dropped())
	}
}

func TestMQTTReporter_ConnectError(t *testing.T) {
	connErr := errors.New("connection refused")
	client := &fakeClient{connectErr: connErr}
	if _, err := newMQTTReporter(client, "camstream", time.Second); !errors.Is(err, connErr) {
		t.Errorf("接続エラーを期待しましたが %v でした", err)
	}
	if !client.disconnected {
		t.Error("接続失敗後にクライアントが切断されていません")
	}
}

func TestMQTTReporter_ConnectTimeout(t *testing.T) {
	client := &fakeClient{hang: true}

	r, err := newMQTTReporter(client, "camstream", 10*time.Millisecond)
	if err == nil || r != nil {
		t.Fatalf("タイムアウトを期待しましたが r=%v err=%v でした", r, err)
	}
	// 再接続を続けないようにクライアントを止めている
	if !client.disconnected {
		t.Error("タイムアウト後にクライアントが切断されていません")
	}
}
