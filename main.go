package main

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"

	"camstream/internal/app"
	"camstream/internal/config"
)

func main() {
	// 設定を読み込む（環境変数 CONFIG_FILE でYAMLを指定できる）
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("設定の読み込みに失敗しました")
	}

	// サーバーを起動
	if err := app.Run(context.Background(), cfg); err != nil {
		log.Fatal().Err(err).Msg("サーバーの起動に失敗しました")
	}
}
