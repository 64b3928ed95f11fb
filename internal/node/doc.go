// Package node はROS風のノード (トピック・サービス・タイマー) を提供する
//
// # 責務
// - 名前空間を考慮したトピック名・サービス名の解決
// - トピックへのパブリッシュと購読者へのファンアウト
// - JSONリクエストを受けるサービスの登録と呼び出し
// - 周期タイマー
//
// # 仕様
//   - タイマーのコールバックとサービスハンドラは1つのエグゼキュータで直列に実行される
//   - 購読者のキューは history depth 分だけ保持し、溢れた場合は古いメッセージを捨てる
//   - 時刻は clock.Clock から取得するため、テストではモッククロックを使える
package node
