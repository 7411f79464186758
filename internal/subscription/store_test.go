package subscription

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

// storeRequest はモックストアが受け取ったリクエスト情報を保持する構造体。
type storeRequest struct {
	// Method はHTTPメソッド。
	Method string
	// Path はリクエストパス。
	Path string
	// Query はクエリパラメータ。
	Query url.Values
	// Body はリクエストボディ。
	Body []byte
	// Headers はリクエストヘッダー。
	Headers http.Header
}

// newMockStore は受信リクエストを記録するモックストアサーバーを起動するヘルパー関数。
func newMockStore(t *testing.T, status int, responseBody string) (*Store, *storeRequest) {
	t.Helper()

	received := &storeRequest{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Method = r.Method
		received.Path = r.URL.Path
		received.Query = r.URL.Query()
		received.Body, _ = io.ReadAll(r.Body)
		received.Headers = r.Header

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, responseBody)
	}))
	t.Cleanup(ts.Close)

	return NewStore(ts.URL, "service-key-1"), received
}

// TestListByAddress はListByAddress関数を検証する。
func TestListByAddress(t *testing.T) {
	t.Parallel()

	t.Run("アドレスのilikeパターンで検索し行が返ること", func(t *testing.T) {
		t.Parallel()

		rows := `[{"id":"sub-1","address":"0xabc","endpoint":"https://push.example.com/ep1","p256dh":"key1","auth":"auth1"},
		          {"id":"sub-2","address":"0xABC","endpoint":"https://push.example.com/ep2","p256dh":"key2","auth":"auth2"}]`
		store, received := newMockStore(t, http.StatusOK, rows)

		subs, err := store.ListByAddress(t.Context(), "0xABC")
		if err != nil {
			t.Fatalf("ListByAddress()でエラーが発生: %v", err)
		}

		if len(subs) != 2 {
			t.Fatalf("len(subs) = %d, want 2", len(subs))
		}
		if subs[0].Endpoint != "https://push.example.com/ep1" {
			t.Errorf("Endpoint = %q, want %q", subs[0].Endpoint, "https://push.example.com/ep1")
		}
		if subs[1].P256dh != "key2" {
			t.Errorf("P256dh = %q, want %q", subs[1].P256dh, "key2")
		}

		// リクエストの検証
		if received.Path != "/rest/v1/push_subscriptions" {
			t.Errorf("Path = %q, want %q", received.Path, "/rest/v1/push_subscriptions")
		}
		if got := received.Query.Get("address"); got != "ilike.0xABC" {
			t.Errorf("addressクエリ = %q, want %q", got, "ilike.0xABC")
		}
		if got := received.Headers.Get("apikey"); got != "service-key-1" {
			t.Errorf("apikeyヘッダー = %q, want %q", got, "service-key-1")
		}
		if got := received.Headers.Get("Authorization"); got != "Bearer service-key-1" {
			t.Errorf("Authorizationヘッダー = %q, want %q", got, "Bearer service-key-1")
		}
	})

	t.Run("登録が存在しない場合はエラーではなく空スライスが返ること", func(t *testing.T) {
		t.Parallel()

		store, _ := newMockStore(t, http.StatusOK, `[]`)

		subs, err := store.ListByAddress(t.Context(), "0xNOBODY")
		if err != nil {
			t.Fatalf("ListByAddress()でエラーが発生: %v", err)
		}
		if subs == nil {
			t.Fatal("空スライスではなくnilが返った")
		}
		if len(subs) != 0 {
			t.Errorf("len(subs) = %d, want 0", len(subs))
		}
	})

	t.Run("ストアがHTTPエラーを返した場合はエラーになること", func(t *testing.T) {
		t.Parallel()

		store, _ := newMockStore(t, http.StatusInternalServerError, `{"message":"boom"}`)

		if _, err := store.ListByAddress(t.Context(), "0xABC"); err == nil {
			t.Fatal("ストア障害でエラーが返らなかった")
		}
	})
}

// TestCreate はCreate関数を検証する。
func TestCreate(t *testing.T) {
	t.Parallel()

	t.Run("サブスクリプション行がPOSTされること", func(t *testing.T) {
		t.Parallel()

		store, received := newMockStore(t, http.StatusCreated, ``)

		sub := Subscription{
			ID:       "sub-new",
			Address:  "0xABC",
			Endpoint: "https://push.example.com/ep-new",
			P256dh:   "key-new",
			Auth:     "auth-new",
		}
		if err := store.Create(t.Context(), sub); err != nil {
			t.Fatalf("Create()でエラーが発生: %v", err)
		}

		if received.Method != http.MethodPost {
			t.Errorf("Method = %q, want %q", received.Method, http.MethodPost)
		}

		var sent Subscription
		if err := json.Unmarshal(received.Body, &sent); err != nil {
			t.Fatalf("リクエストボディのパースに失敗: %v", err)
		}
		if sent != sub {
			t.Errorf("送信された行 = %+v, want %+v", sent, sub)
		}
	})
}

// TestDeleteByEndpoint はDeleteByEndpoint関数を検証する。
func TestDeleteByEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("アドレスとエンドポイントで絞り込んだDELETEが送信されること", func(t *testing.T) {
		t.Parallel()

		store, received := newMockStore(t, http.StatusNoContent, ``)

		err := store.DeleteByEndpoint(t.Context(), "0xABC", "https://push.example.com/ep1")
		if err != nil {
			t.Fatalf("DeleteByEndpoint()でエラーが発生: %v", err)
		}

		if received.Method != http.MethodDelete {
			t.Errorf("Method = %q, want %q", received.Method, http.MethodDelete)
		}
		if got := received.Query.Get("address"); got != "ilike.0xABC" {
			t.Errorf("addressクエリ = %q, want %q", got, "ilike.0xABC")
		}
		if got := received.Query.Get("endpoint"); got != "eq.https://push.example.com/ep1" {
			t.Errorf("endpointクエリ = %q, want %q", got, "eq.https://push.example.com/ep1")
		}
	})
}
