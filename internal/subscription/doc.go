// Package subscription はWeb Pushサブスクリプションの外部ストアへの
// アクセスを提供する。
//
// ストアはSupabase（PostgREST）互換のREST APIであり、サービスキーで
// 認証する。受信者アドレスによる検索は大文字小文字を区別しない
// パターン照合（ilike）で行う。
package subscription
