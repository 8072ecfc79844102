package telemetry

import (
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// MQTTConfig はMQTTReporterの接続設定
type MQTTConfig struct {
	Broker   string // 例: tcp://localhost:1883
	ClientID string
	Topic    string // フレームは <Topic>/frames、セッションは <Topic>/sessions へ送信
}

// connectTimeout は初回接続を待つ時間
const connectTimeout = 5 * time.Second

// publishWriteTimeout は送信キューが詰まった場合に Publish が待つ上限
const publishWriteTimeout = 100 * time.Millisecond

// MQTTReporter は計測値をJSONでMQTTブローカーへ送信する
//
// 送信はQoS 0で完了を待たない。送信キューが詰まった場合でも待つのは
// publishWriteTimeout までで、それを超えた計測値は捨てられる。
type MQTTReporter struct {
	client  mqtt.Client
	topic   string
	dropped atomic.Uint64
}

// NewMQTTReporter はブローカーに接続してReporterを作成する
func NewMQTTReporter(cfg MQTTConfig) (*MQTTReporter, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetWriteTimeout(publishWriteTimeout)
	// 初回接続は再試行しない。接続後の切断のみ自動で再接続する
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		log.Info().Str("component", "telemetry").Str("broker", cfg.Broker).Msg("MQTTブローカーに接続しました")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("component", "telemetry").Str("broker", cfg.Broker).Msg("MQTT接続が切断されました。再接続を待ちます")
	}

	return newMQTTReporter(mqtt.NewClient(opts), cfg.Topic, connectTimeout)
}

// newMQTTReporter は client を接続する。失敗した場合は client を切断してから返す
func newMQTTReporter(client mqtt.Client, topic string, timeout time.Duration) (*MQTTReporter, error) {
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("MQTT接続がタイムアウトしました")
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("MQTT接続に失敗: %w", err)
	}

	return &MQTTReporter{client: client, topic: topic}, nil
}

// FrameSent はフレームの計測値を送信する
func (r *MQTTReporter) FrameSent(stats FrameStats) {
	r.publish(r.topic+"/frames", stats)
}

// SessionClosed はセッションの集計を送信する
func (r *MQTTReporter) SessionClosed(summary SessionSummary) {
	r.publish(r.topic+"/sessions", summary)
}

func (r *MQTTReporter) publish(topic string, v any) {
	if !r.client.IsConnectionOpen() {
		r.dropped.Add(1)
		return
	}

	payload, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("計測値のエンコードに失敗")
		return
	}

	// 完了は待たない
	r.client.Publish(topic, 0, false, payload)
}

// Dropped は未接続のため送信しなかった件数を返す
func (r *MQTTReporter) Dropped() uint64 {
	return r.dropped.Load()
}

// Close はブローカーから切断する
func (r *MQTTReporter) Close() {
	r.client.Disconnect(250)
}
