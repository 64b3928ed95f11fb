// Package calibration はカメラ内部パラメータ(camera-info)の永続化を担う
//
// # 責務
// - CameraInfo レコードとキャリブレーションYAMLの相互変換
// - 保存先パスの解決 (camera_info_url / ~/.ros/camera_info)
//
// # 仕様
//   - YAMLのキーは camera_calibration / camera_info_manager 互換の固定セット
//   - 読み込み時に行列の次元は検証しない (呼び出し側が許容する)
//   - 保存は一時ファイルへ書き込んでから rename するため、途中までの内容が見えることはない
//   - エラーは ErrNotFound / ErrParse / ErrPersist で判別できる (errors.Is)
package calibration
