// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// サブスクリプション管理API向けのJWT認証トークンの検証、
// ブラウザからのアクセスを許可するCORS設定、パニックリカバリを含む。
package middleware
