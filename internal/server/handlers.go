package server

import (
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"camstream/internal/camera"
	"camstream/internal/stream"
)

// HealthResponse はヘルスチェックのレスポンス
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusResponse はシステム状態のレスポンス
type StatusResponse struct {
	Status        string            `json:"status"`
	Server        ServerInfo        `json:"server"`
	Camera        camera.SourceInfo `json:"camera"`
	StreamPath    string            `json:"stream_path"`
	ActiveStreams int64             `json:"active_streams"`
	Uptime        string            `json:"uptime"`
	Timestamp     time.Time         `json:"timestamp"`
}

// ServerInfo はサーバーのリッスン情報
type ServerInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// handleHealth はヘルスチェックエンドポイント
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// handleStatus はステータス確認エンドポイント
func (s *Server) handleStatus(c *gin.Context) {
	var info camera.SourceInfo
	if s.source != nil {
		info = s.source.Info()
	}

	c.JSON(http.StatusOK, StatusResponse{
		Status: "running",
		Server: ServerInfo{
			Host: s.config.Server.Host,
			Port: s.config.Server.Port,
		},
		Camera:        info,
		StreamPath:    s.config.Stream.Path,
		ActiveStreams: s.ActiveStreams(),
		Uptime:        time.Since(s.startedAt).Truncate(time.Second).String(),
		Timestamp:     time.Now(),
	})
}

var rootTemplate = template.Must(template.New("root").Parse(`<!DOCTYPE html>
<html lang="ja">
<head>
    <meta charset="UTF-8">
    <title>camstream</title>
</head>
<body>
    <h1>camstream</h1>
    <img src="{{.StreamPath}}" alt="camera stream">
    <p>静止画: <a href="/api/snapshot">/api/snapshot</a></p>
    <p>ステータス: <a href="/api/status">/api/status</a></p>
    <p>ヘルスチェック: <a href="/health">/health</a></p>
</body>
</html>`))

// handleRoot はルートパスのハンドラ
func (s *Server) handleRoot(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := rootTemplate.Execute(c.Writer, struct{ StreamPath string }{s.config.Stream.Path}); err != nil {
		log.Error().Err(err).Msg("トップページの描画に失敗")
	}
}

// handleSnapshot は1枚のJPEGを返す
func (s *Server) handleSnapshot(c *gin.Context) {
	if s.stream == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"error":   "stream_unavailable",
			"message": "ストリームが設定されていません",
		})
		return
	}

	data, err := s.stream.Snapshot(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("静止画の取得に失敗")
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"error":   "capture_failed",
			"message": err.Error(),
		})
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "image/jpeg", data)
}

// handleStream はMJPEGストリームを配信する
//
// 配信はエラーで終了するまでこのハンドラー内で続く。
func (s *Server) handleStream(c *gin.Context) {
	if s.stream == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"error":   "stream_unavailable",
			"message": "ストリームが設定されていません",
		})
		return
	}

	sess := stream.NewSession(uuid.NewString())
	logger := log.With().Str("session", sess.ID).Str("client", c.ClientIP()).Logger()

	active := s.activeStreams.Add(1)
	defer s.activeStreams.Add(-1)
	logger.Info().Int64("active_streams", active).Msg("ストリームを開始")

	err := s.stream.Serve(c.Request.Context(), stream.NewResponseSink(c.Writer), sess)

	ev := logger.Error()
	if errors.Is(err, stream.ErrTransport) || s.baseCtx.Err() != nil {
		// クライアント切断とシャットダウンは正常な終了として扱う
		ev = logger.Info()
	}
	ev.Err(err).
		Uint64("frames", sess.Frames()).
		Str("bytes", fmt.Sprintf("%dKB", sess.Bytes()/1024)).
		Msg("ストリームを終了")

	c.Abort()
}
