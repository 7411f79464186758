package push

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/nao1215/pushrelay/internal/subscription"
)

// newTestSender はテスト用のVAPID鍵ペアを生成して送信器を構築するヘルパー関数。
func newTestSender(t *testing.T) *Sender {
	t.Helper()

	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("VAPID鍵の生成に失敗: %v", err)
	}
	return NewSender("mailto:test@example.com", publicKey, privateKey)
}

// newBrowserKeys はブラウザ側のサブスクリプション鍵（p256dhとauth）を生成するヘルパー関数。
// webpush-goはこの鍵でペイロードを実際に暗号化するため、本物の鍵が必要になる。
func newBrowserKeys(t *testing.T) (p256dh, auth string) {
	t.Helper()

	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("P-256鍵の生成に失敗: %v", err)
	}

	secret := make([]byte, 16)
	if _, err := rand.Read(secret); err != nil {
		t.Fatalf("認証シークレットの生成に失敗: %v", err)
	}

	return base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		base64.RawURLEncoding.EncodeToString(secret)
}

// newPushEndpoint は指定ステータスを返すモックプッシュサービスを起動するヘルパー関数。
func newPushEndpoint(t *testing.T, status int, received *atomic.Int64) *httptest.Server {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if received != nil {
			received.Add(1)
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(ts.Close)
	return ts
}

// TestBroadcast はBroadcast関数を検証する。
func TestBroadcast(t *testing.T) {
	t.Parallel()

	t.Run("全エンドポイントへ配信され結果が順序どおり返ること", func(t *testing.T) {
		t.Parallel()

		sender := newTestSender(t)
		p256dh, auth := newBrowserKeys(t)

		var delivered atomic.Int64
		first := newPushEndpoint(t, http.StatusCreated, &delivered)
		second := newPushEndpoint(t, http.StatusCreated, &delivered)

		subs := []subscription.Subscription{
			{Endpoint: first.URL, P256dh: p256dh, Auth: auth},
			{Endpoint: second.URL, P256dh: p256dh, Auth: auth},
		}
		results := sender.Broadcast(t.Context(), []byte(`{"title":"t","body":"b"}`), subs)

		if len(results) != 2 {
			t.Fatalf("len(results) = %d, want 2", len(results))
		}
		if results[0].Endpoint != first.URL || results[1].Endpoint != second.URL {
			t.Errorf("結果の順序がサブスクリプションと一致しない: %+v", results)
		}
		for i, r := range results {
			if !r.Success {
				t.Errorf("results[%d]が失敗: %v", i, r.Err)
			}
		}
		if got := delivered.Load(); got != 2 {
			t.Errorf("配信リクエスト数 = %d, want 2", got)
		}
	})

	t.Run("1件の失敗が他の配信の成功を妨げないこと", func(t *testing.T) {
		t.Parallel()

		sender := newTestSender(t)
		p256dh, auth := newBrowserKeys(t)

		failing := newPushEndpoint(t, http.StatusGone, nil)
		var delivered atomic.Int64
		healthy := newPushEndpoint(t, http.StatusCreated, &delivered)

		subs := []subscription.Subscription{
			{Endpoint: failing.URL, P256dh: p256dh, Auth: auth},
			{Endpoint: healthy.URL, P256dh: p256dh, Auth: auth},
		}
		results := sender.Broadcast(t.Context(), []byte(`{"title":"t","body":"b"}`), subs)

		if results[0].Success {
			t.Error("失敗すべきエンドポイントが成功と判定された")
		}
		if results[0].Err == nil {
			t.Error("失敗した配信にエラー詳細が記録されていない")
		}
		if !results[1].Success {
			t.Errorf("正常なエンドポイントへの配信が失敗: %v", results[1].Err)
		}
		if got := delivered.Load(); got != 1 {
			t.Errorf("正常なエンドポイントへの配信リクエスト数 = %d, want 1", got)
		}
	})

	t.Run("不正な鍵のサブスクリプションだけが失敗すること", func(t *testing.T) {
		t.Parallel()

		sender := newTestSender(t)
		p256dh, auth := newBrowserKeys(t)
		healthy := newPushEndpoint(t, http.StatusCreated, nil)

		subs := []subscription.Subscription{
			{Endpoint: healthy.URL, P256dh: "broken-key", Auth: "broken-auth"},
			{Endpoint: healthy.URL, P256dh: p256dh, Auth: auth},
		}
		results := sender.Broadcast(t.Context(), []byte(`{"title":"t","body":"b"}`), subs)

		if results[0].Success {
			t.Error("不正な鍵のサブスクリプションが成功と判定された")
		}
		if !results[1].Success {
			t.Errorf("正常なサブスクリプションへの配信が失敗: %v", results[1].Err)
		}
	})

	t.Run("サブスクリプションが空の場合は何もせず空の結果が返ること", func(t *testing.T) {
		t.Parallel()

		sender := newTestSender(t)
		results := sender.Broadcast(t.Context(), []byte(`{"title":"t","body":"b"}`), nil)
		if len(results) != 0 {
			t.Errorf("len(results) = %d, want 0", len(results))
		}
	})
}
