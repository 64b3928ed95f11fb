// Package camera はキャプチャデバイスからのフレーム取得を担う
//
// # 責務
// - デバイスのオープン・解放 (Start / Close)
// - 最新フレームの読み取り (ReadFrame)
// - デバイスが報告する解像度の取得 (ReportedSize)
// - V4L2デバイスの検出と表示名の取得
//
// # 仕様
//   - V4L2Device: ffmpeg経由でMJPEGストリームを読み、フレームをJPEGで返す
//   - FakeDevice: 合成テストパターンを生成する (デバイスが無い環境・テスト用)
//   - フレームは1枠のチャンネルで保持し、読まれなかった古いフレームは破棄する
//   - 解像度が不明な場合は 0 を報告する
//
// # 前提要件
//   - v4l-utils: デバイス名とフォーマットの取得に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//   - ffmpeg: 画像キャプチャとストリーミングに使用
//     Ubuntu/Debian: sudo apt install ffmpeg
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
