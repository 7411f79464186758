package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// table はサブスクリプションを保持するストア側のテーブル名。
const table = "push_subscriptions"

// Subscription は1つの登録済みWeb Pushサブスクリプションを表す。
// 同一アドレスに対して端末・セッションごとに複数の行が存在しうる。
type Subscription struct {
	// ID はサブスクリプション行の一意識別子（UUID）。
	ID string `json:"id,omitempty"`
	// Address は通知先のアドレス。照合キーとして使用する。
	Address string `json:"address"`
	// Endpoint はプッシュサービスの配信先URL。
	Endpoint string `json:"endpoint"`
	// P256dh はブラウザが生成した公開鍵（Base64URL）。
	P256dh string `json:"p256dh"`
	// Auth は認証シークレット（Base64URL)。
	Auth string `json:"auth"`
}

// Store はサブスクリプションストアへのRESTクライアント。
// 複数のリクエストから並行に使用できる。
type Store struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// baseURL はストアサービスのベースURL。
	baseURL string
	// serviceKey はストアサービスの認証キー。
	serviceKey string
}

// NewStore は新しいサブスクリプションストアのクライアントを生成する。
// baseURLにはストアサービスのベースURL（例: "https://xyz.supabase.co"）を指定する。
func NewStore(baseURL, serviceKey string) *Store {
	return &Store{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:    baseURL,
		serviceKey: serviceKey,
	}
}

// ListByAddress は指定アドレスに登録されたサブスクリプションを返す。
// 照合は大文字小文字を区別しないilikeパターンで行う。
// 登録が存在しない場合はエラーではなく空のスライスを返す。
func (s *Store) ListByAddress(ctx context.Context, address string) ([]Subscription, error) {
	query := url.Values{}
	query.Set("address", "ilike."+address)
	query.Set("select", "id,address,endpoint,p256dh,auth")

	var subs []Subscription
	if err := s.do(ctx, http.MethodGet, query, nil, &subs); err != nil {
		return nil, err
	}
	if subs == nil {
		subs = []Subscription{}
	}
	return subs, nil
}

// Create は新しいサブスクリプション行をストアに登録する。
func (s *Store) Create(ctx context.Context, sub Subscription) error {
	return s.do(ctx, http.MethodPost, nil, sub, nil)
}

// DeleteByEndpoint は指定アドレスの指定エンドポイントの行を削除する。
// 該当行が存在しなくてもエラーにはならない。
func (s *Store) DeleteByEndpoint(ctx context.Context, address, endpoint string) error {
	query := url.Values{}
	query.Set("address", "ilike."+address)
	query.Set("endpoint", "eq."+endpoint)
	return s.do(ctx, http.MethodDelete, query, nil, nil)
}

// do はストアサービスへのJSON形式のHTTPリクエストを実行する共通処理。
func (s *Store) do(ctx context.Context, method string, query url.Values, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	endpoint := s.baseURL + "/rest/v1/" + table
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("ストアへのリクエスト作成に失敗: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", s.serviceKey)
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ストアへのリクエスト送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ストアがHTTPエラーを返した: status=%d, body=%s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("ストアレスポンスのデシリアライズに失敗: %w", err)
		}
	}
	return nil
}
