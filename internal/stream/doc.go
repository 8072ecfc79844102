// Package stream はカメラのフレームをMJPEGとしてHTTPで配信する
//
// # 責務
//   - フレームの取得、JPEGへの変換、マルチパートでの送信、フレームの返却を繰り返す
//   - 接続ごとのフレーム間隔とFPSの計測
//   - 同じ取得・変換の流れで1枚だけ取り出す静止画取得
//
// # 仕様
//   - Content-Type: multipart/x-mixed-replace;boundary=<Boundary>
//   - 各パートは "\r\n--<Boundary>\r\n"、Content-Type/Content-Lengthヘッダー、JPEGデータの順に送る
//   - 1つの接続で同時に貸し出すフレームは1枚まで
//   - どの段階で失敗しても取得済みのフレームは返却してから接続を終了する
//   - 失敗したフレームは途中まで送信しない（区切り・ヘッダー・データのいずれかが失敗したら以降は送らない）
//   - リトライはしない。クライアントの再接続で復帰する
//   - 送信先が詰まった場合やセンサーが止まった場合のタイムアウトはない
package stream
