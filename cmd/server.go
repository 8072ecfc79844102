// Package main はcamstreamサーバーコマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"camstream/internal/app"
	"camstream/internal/camera"
	"camstream/internal/config"
)

func main() {
	// コマンドラインオプション
	var (
		host       = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port       = flag.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
		configPath = flag.String("config", "", "設定ファイル(YAML)のパス")
		driver     = flag.String("driver", "", fmt.Sprintf("カメラドライバー %v", camera.Drivers()))
		device     = flag.String("device", "", "カメラデバイス (auto で自動検出)")
		help       = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("camstream")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// 設定を読み込む
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("設定の読み込みに失敗しました")
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *driver != "" {
		cfg.Camera.Driver = *driver
	}
	if *device != "" {
		cfg.Camera.Device = *device
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("設定が不正です")
	}

	// サーバーを起動
	log.Info().Str("addr", cfg.ServerAddress()).Msg("camstream サーバーを起動します")
	if err := app.Run(context.Background(), cfg); err != nil {
		log.Fatal().Err(err).Msg("サーバーの起動に失敗しました")
	}
}
