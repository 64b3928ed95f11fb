// Package server は、ノードのトピックとサービスをHTTPとWebSocketで公開します。
//
// 責務:
//   - HTTPサーバーの起動と管理
//   - トピックの最新メッセージ取得とWebSocket配信
//   - 画像トピックのMJPEG配信
//   - サービス呼び出し (set_camera_info など)
//
// 仕様:
//   - ルーティングはgin、WebSocketはgorilla/websocketを使用
//   - トピック名・サービス名はパスの残り全体 (/camera/image_raw など)
//   - グレースフルシャットダウンに対応
//   - 複数クライアントの同時接続をサポート
package server
