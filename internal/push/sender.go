package push

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/nao1215/pushrelay/internal/subscription"
)

// Sender はWeb Pushプロトコルで通知を配信する。
// VAPID鍵ペアと管理者連絡先はプロセス起動時に一度だけ設定され、
// 以降は複数のリクエストから並行に使用できる。
type Sender struct {
	// subscriber はVAPIDのsubクレームに載せる管理者連絡先。
	subscriber string
	// vapidPublicKey はVAPID公開鍵（Base64URL）。
	vapidPublicKey string
	// vapidPrivateKey はVAPID秘密鍵（Base64URL）。
	vapidPrivateKey string
	// httpClient はプッシュサービスへの送信に使用するHTTPクライアント。
	httpClient *http.Client
}

// NewSender は新しいWeb Push送信器を生成する。
func NewSender(subscriber, vapidPublicKey, vapidPrivateKey string) *Sender {
	return &Sender{
		subscriber:      subscriber,
		vapidPublicKey:  vapidPublicKey,
		vapidPrivateKey: vapidPrivateKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Result は1エンドポイントへの配信結果を表す。
type Result struct {
	// Endpoint は配信先のエンドポイントURL。
	Endpoint string
	// Success は配信に成功したかどうか。
	Success bool
	// Err は失敗時の詳細。成功時はnil。
	Err error
}

// Broadcast はペイロードをすべてのサブスクリプションへ並行に配信する。
// 各配信は独立して失敗を捕捉し、1件の失敗が他の配信や全体の結果に
// 影響することはない（配信はベストエフォートかつ最大1回）。
// 戻り値はsubsと同じ順序の配信結果で、全配信の完了後に返る。
func (s *Sender) Broadcast(ctx context.Context, payload []byte, subs []subscription.Subscription) []Result {
	results := make([]Result, len(subs))

	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub subscription.Subscription) {
			defer wg.Done()
			err := s.send(ctx, payload, sub)
			results[i] = Result{
				Endpoint: sub.Endpoint,
				Success:  err == nil,
				Err:      err,
			}
			if err != nil {
				log.Printf("プッシュ配信に失敗: endpoint=%s, err=%v", sub.Endpoint, err)
			}
		}(i, sub)
	}
	wg.Wait()

	return results
}

// send は1つのサブスクリプションへペイロードを暗号化して配信する。
func (s *Sender) send(ctx context.Context, payload []byte, sub subscription.Subscription) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      s.httpClient,
		Subscriber:      s.subscriber,
		VAPIDPublicKey:  s.vapidPublicKey,
		VAPIDPrivateKey: s.vapidPrivateKey,
		TTL:             60,
	})
	if err != nil {
		return fmt.Errorf("プッシュリクエストの送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("プッシュサービスがHTTPエラーを返した: status=%d, body=%s", resp.StatusCode, string(body))
	}
	return nil
}
