// Package app は設定からカメラ・ストリーム・HTTPサーバーを組み立てて実行する
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"camstream/internal/camera"
	"camstream/internal/config"
	"camstream/internal/encoder"
	"camstream/internal/logger"
	"camstream/internal/server"
	"camstream/internal/stream"
	"camstream/internal/telemetry"
)

// Run はサーバーを起動し、ctx のキャンセルかシグナル受信まで戻らない
func Run(ctx context.Context, cfg *config.Config) error {
	if err := logger.Setup(cfg.Log.Level, cfg.Log.Pretty); err != nil {
		return fmt.Errorf("ロガーの設定に失敗: %w", err)
	}

	srv, closeReporters, err := Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeReporters()

	return srv.Start(ctx)
}

// Build はカメラを開いてサーバーを組み立てる
//
// 戻り値の関数は計測値の送信先を閉じる。カメラはサーバーのシャットダウン時に閉じられる。
func Build(ctx context.Context, cfg *config.Config) (*server.Server, func(), error) {
	camCfg, err := cfg.CameraSettings()
	if err != nil {
		return nil, nil, fmt.Errorf("カメラ設定の変換に失敗: %w", err)
	}

	source, err := camera.Open(ctx, camCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("カメラの初期化に失敗: %w", err)
	}
	info := source.Info()
	log.Info().
		Str("driver", info.Driver).
		Str("device", info.Device).
		Str("format", info.Format.String()).
		Int("width", info.Width).
		Int("height", info.Height).
		Int("buffers", info.BufferCount).
		Msg("カメラを初期化しました")

	reporter, closeReporters := buildReporters(cfg.Telemetry)
	handler := stream.NewHandler(source, encoder.NewJPEGEncoder(), reporter, cfg.Stream.EncodeQuality)

	return server.New(cfg, source, handler), closeReporters, nil
}

// buildReporters は設定に応じて計測値の送信先を作成する
//
// MQTTブローカーに接続できない場合は警告を出してログ出力のみで続行する。
func buildReporters(cfg config.TelemetryConfig) (telemetry.Reporter, func()) {
	var reporters []telemetry.Reporter
	closeFn := func() {}

	if cfg.LogFrames {
		reporters = append(reporters, telemetry.NewLogReporter(log.Logger, cfg.LogEvery))
	}

	if cfg.MQTT.Broker != "" {
		mr, err := telemetry.NewMQTTReporter(telemetry.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
		})
		if err != nil {
			log.Warn().Err(err).Str("broker", cfg.MQTT.Broker).Msg("MQTTへの計測値送信を無効にします")
		} else {
			reporters = append(reporters, mr)
			closeFn = mr.Close
		}
	}

	return telemetry.Multi(reporters...), closeFn
}
