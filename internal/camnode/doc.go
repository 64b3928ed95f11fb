// Package camnode はキャプチャデバイスのフレームとキャリブレーション情報をパブリッシュするカメラノード
//
// # トピック
//   - camera/image_raw: JPEG画像
//   - camera/camera_info: 画像と同じタイムスタンプのカメラ情報
//
// # サービス
//   - set_camera_info: キャリブレーションツールが新しいカメラ情報を設定・保存する
package camnode
