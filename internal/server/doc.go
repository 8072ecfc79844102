// Package server は、MJPEGストリームを配信するHTTPサーバーを管理します。
//
// 責務:
//   - HTTPサーバーの起動とグレースフルシャットダウン
//   - ルーティング（ストリーム、静止画、ヘルスチェック、ステータス、トップページ）
//   - 接続ごとのストリームセッションの作成
//
// 仕様:
//   - ルーティングとミドルウェアにgin-gonic/ginを使用
//   - リクエストログはzerologで出力
//   - 接続ごとにUUIDのセッションIDを割り当てる
//   - シャットダウン時は配信中のストリームを終了させてからカメラをクローズする
package server
