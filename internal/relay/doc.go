// Package relay はプッシュ通知リレーサービスの内部実装を提供する。
//
// SNS形式のエンベロープを受信し、種別に応じてサブスクリプション確認の
// 自動応答または通知の配信処理へディスパッチする。通知は署名検証を
// 通過した場合のみ処理され、受信者アドレスに登録された全Web Push
// サブスクリプションへ並行配信される。個々の配信失敗は全体の結果に
// 影響しない。サブスクリプションの登録・削除APIもここで提供する。
package relay
