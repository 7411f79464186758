// Package event は通知メッセージ内部のイベントペイロードの正規化を提供する。
//
// 内側のメッセージは送信元によってフィールド構成が異なる緩い構造の
// JSONであり、固定スキーマとしては扱えない。そのため、既知のフィールド名を
// 優先順位付きで走査して受信者アドレスと表示本文を抽出する。
package event
