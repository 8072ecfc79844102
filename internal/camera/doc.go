// Package camera カメラデバイスからのフレーム取得を担う
//
// # 責務
// - カメラデバイスの自動検出
// - ドライバーの登録と設定からのソース作成
// - フレームの貸し出しと返却（ドライバー所有のバッファを借用する）
// - ピクセルフォーマットの定義と変換
//
// # 使い分け
// - v4l2: V4L2デバイスのmmapバッファを直接読む（Linuxのみ）
// - ffmpeg: ffmpegでMJPEGに変換した出力を読む。JPEGのみ対応
// - testpattern: カメラなしで動作確認するための合成映像
// - MockSource: テスト用。フレームの貸し出し状況を記録する
//
// # 仕様
// - Acquire で得たフレームはちょうど1回 Release しなければならない
// - 同時に貸し出せるフレーム数はバッファ数まで。足りない場合 Acquire はブロックする
// - ソースへの排他制御は利用側で行わない
//
// # 前提要件
//   - ffmpeg: ffmpegドライバーで使用
//     Ubuntu/Debian: sudo apt install ffmpeg
//     Red Hat/Fedora: sudo dnf install ffmpeg
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
