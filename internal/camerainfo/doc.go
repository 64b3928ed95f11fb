// Package camerainfo は「現在のカメラ情報」のライフサイクルを管理する
//
// 起動時にキャリブレーションファイルから読み込み、無ければデバイスの解像度から
// 未キャリブレーションの既定値を作る。その後は set_camera_info リクエストでのみ
// 置き換わり、周期的なパブリッシュはそのコピーを読む。
//
// 永続化に失敗しても、メモリ上のレコードは新しいものに置き換わったままになる
// (ロールバックしない)。
package camerainfo
