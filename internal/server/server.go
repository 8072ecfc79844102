package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"camstream/internal/camera"
	"camstream/internal/config"
	"camstream/internal/stream"
)

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	source     camera.Source
	stream     *stream.Handler
	engine     *gin.Engine
	httpServer *http.Server

	// ストリーム接続を終了させるためのベースコンテキスト
	baseCtx    context.Context
	cancelBase context.CancelFunc

	activeStreams   atomic.Int64
	startedAt       time.Time
	shutdownTimeout time.Duration
}

// New は新しいServerインスタンスを作成する
//
// source は Shutdown 時にクローズされる。
func New(cfg *config.Config, source camera.Source, handler *stream.Handler) *Server {
	engine := gin.New()
	engine.Use(requestLogger(), gin.Recovery())

	baseCtx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:          cfg,
		source:          source,
		stream:          handler,
		engine:          engine,
		baseCtx:         baseCtx,
		cancelBase:      cancel,
		startedAt:       time.Now(),
		shutdownTimeout: 5 * time.Second,
	}
	s.httpServer = &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		BaseContext: func(net.Listener) context.Context {
			return baseCtx
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	// MJPEGストリーム
	s.engine.GET(s.config.Stream.Path, s.handleStream)

	// 静止画
	s.engine.GET("/api/snapshot", s.handleSnapshot)

	// ヘルスチェックエンドポイント
	s.engine.GET("/health", s.handleHealth)

	// APIエンドポイント
	s.engine.GET("/api/status", s.handleStatus)

	// ルートハンドラ（簡単な確認用）
	s.engine.GET("/", s.handleRoot)
}

// Handler はルーティング済みのHTTPハンドラーを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ActiveStreams は配信中のストリーム数を返す
func (s *Server) ActiveStreams() int64 {
	return s.activeStreams.Load()
}

// Start はサーバーを起動する
func (s *Server) Start(ctx context.Context) error {
	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		log.Info().Str("addr", s.config.ServerAddress()).Str("stream", s.config.Stream.Path).Msg("HTTPサーバーを起動しています")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// コンテキストかシグナルを待つ
	select {
	case <-ctx.Done():
		log.Info().Msg("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("シグナルを受信しました")
	case err := <-shutdownCh:
		s.closeSource()
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
//
// 配信中のストリームは次のフレーム待ちで終了し、その後カメラをクローズする。
// タイムアウトまでに終わらないストリームがある場合、フレームを使用中の可能性があるので
// カメラはクローズしない。
func (s *Server) Shutdown() error {
	log.Info().Int64("active_streams", s.ActiveStreams()).Msg("サーバーをシャットダウンしています...")

	s.cancelBase()

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		if active := s.ActiveStreams(); active > 0 {
			log.Warn().Int64("active_streams", active).Msg("終了しないストリームがあるためカメラをクローズしません")
		} else {
			s.closeSource()
		}
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}
	s.closeSource()

	log.Info().Msg("サーバーが正常にシャットダウンされました")
	return nil
}

func (s *Server) closeSource() {
	if s.source == nil {
		return
	}
	if err := s.source.Close(); err != nil {
		log.Warn().Err(err).Msg("カメラのクローズに失敗")
	}
}

// requestLogger はリクエストをzerologで記録するミドルウェア
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := log.Debug()
		if status >= http.StatusInternalServerError {
			ev = log.Error()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client", c.ClientIP()).
			Msg("リクエスト")
	}
}
