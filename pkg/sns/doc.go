// Package sns はAmazon SNS形式のプッシュ通知メッセージの
// パースと署名検証を提供する。
//
// メッセージ種別の判定（ヘッダー優先・ボディフォールバック）、
// 署名対象の正規化文字列の構築、署名証明書の取得と
// RSA-SHA1署名の検証を含む。検証はフェイルクローズドであり、
// 証明書取得失敗やパース失敗はすべて「検証失敗」として扱う。
package sns
