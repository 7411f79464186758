package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nao1215/pushrelay/internal/push"
	"github.com/nao1215/pushrelay/internal/subscription"
	"github.com/nao1215/pushrelay/pkg/event"
	"github.com/nao1215/pushrelay/pkg/middleware"
	"github.com/nao1215/pushrelay/pkg/sns"
)

// Server はプッシュ通知リレーのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// verifier はSNSメッセージの署名検証器。
	verifier *sns.Verifier
	// store はサブスクリプションストアへのクライアント。
	store *subscription.Store
	// sender はWeb Push送信器。
	sender *push.Sender
	// httpClient はサブスクリプション確認URLの取得に使用するHTTPクライアント。
	httpClient *http.Client
}

// NewServer は新しいリレーサーバーを生成する。
// ストアの接続情報とVAPID鍵ペアは環境変数から一度だけ読み込む。
func NewServer(port string) (*Server, error) {
	storeURL := os.Getenv("SUPABASE_URL")
	if storeURL == "" {
		return nil, errors.New("環境変数SUPABASE_URLが設定されていない")
	}
	serviceKey := os.Getenv("SUPABASE_SERVICE_ROLE_KEY")
	if serviceKey == "" {
		return nil, errors.New("環境変数SUPABASE_SERVICE_ROLE_KEYが設定されていない")
	}

	vapidPublicKey := os.Getenv("VAPID_PUBLIC_KEY")
	vapidPrivateKey := os.Getenv("VAPID_PRIVATE_KEY")
	if vapidPublicKey == "" || vapidPrivateKey == "" {
		return nil, errors.New("環境変数VAPID_PUBLIC_KEY/VAPID_PRIVATE_KEYが設定されていない")
	}

	subject := os.Getenv("VAPID_SUBJECT")
	if subject == "" {
		subject = "mailto:admin@example.com"
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:   router,
		port:     port,
		verifier: sns.NewVerifier(),
		store:    subscription.NewStore(storeURL, serviceKey),
		sender:   push.NewSender(subject, vapidPublicKey, vapidPrivateKey),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "dev-secret-key"
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		s.router.Use(middleware.CORS(strings.Split(origins, ",")))
	}

	// エントリポイント。GETはヘルスチェック、POSTはエンベロープ処理。
	// それ以外のメソッドは405を返す。
	s.router.HandleMethodNotAllowed = true
	s.router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
	})
	s.router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "pushrelay is running")
	})
	s.router.POST("/", s.handleWebhook())

	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(jwtSecret))
	{
		subscriptions := api.Group("/subscriptions")
		{
			// 呼び出し元アドレスのサブスクリプション一覧取得
			subscriptions.GET("", s.handleListSubscriptions())
			// サブスクリプション登録
			subscriptions.POST("", s.handleCreateSubscription())
			// サブスクリプション削除
			subscriptions.DELETE("", s.handleDeleteSubscription())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "pushrelay"})
	})
}

// handleWebhook はSNSエンベロープを受信して種別ごとに処理するハンドラ。
func (s *Server) handleWebhook() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		msg, err := sns.ParseMessage(body)
		if err != nil {
			log.Printf("エンベロープのパースに失敗: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		msgType := sns.ResolveType(c.GetHeader(sns.HeaderMessageType), msg.Type)
		switch msgType {
		case sns.TypeSubscriptionConfirmation:
			s.confirmSubscription(c.Request.Context(), msg)
			c.JSON(http.StatusOK, gin.H{"success": true})
		case sns.TypeUnsubscribeConfirmation:
			// 確認URLの取得は再サブスクライブを意味するため行わない
			log.Printf("サブスクリプション解除を受信: topic=%s", msg.TopicArn)
			c.JSON(http.StatusOK, gin.H{"success": true})
		case sns.TypeNotification:
			s.handleNotification(c, msg)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported message type"})
		}
	}
}

// confirmSubscription はサブスクリプション確認URLをベストエフォートで取得する。
// ハンドシェイクの自動承認であり、失敗してもリクエスト自体は成功として扱う。
func (s *Server) confirmSubscription(ctx context.Context, msg *sns.Message) {
	if msg.SubscribeURL == "" {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, msg.SubscribeURL, nil)
	if err != nil {
		log.Printf("サブスクリプション確認リクエストの作成に失敗: %v", err)
		return
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.Printf("サブスクリプション確認に失敗: %v", err)
		return
	}
	defer resp.Body.Close()

	log.Printf("サブスクリプションを確認: topic=%s, status=%d", msg.TopicArn, resp.StatusCode)
}

// handleNotification は通知メッセージを検証・正規化し、受信者の
// 全サブスクリプションへWeb Push配信する。
func (s *Server) handleNotification(c *gin.Context, msg *sns.Message) {
	ctx := c.Request.Context()

	// 署名検証は配信処理の前提条件。失敗したメッセージは一切処理しない。
	if !s.verifier.Verify(ctx, msg, sns.TypeNotification) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Signature verification failed"})
		return
	}

	ev, err := event.Normalize(msg.Message)
	if err != nil {
		if errors.Is(err, event.ErrNoRecipient) {
			// 受信者なしはエラーではない。発行元にリトライさせないため200で返す。
			c.JSON(http.StatusOK, gin.H{"error": "No recipient in message"})
			return
		}
		log.Printf("イベントの正規化に失敗: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid SNS Message"})
		return
	}

	subs, err := s.store.ListByAddress(ctx, ev.Recipient)
	if err != nil {
		log.Printf("サブスクリプションの取得に失敗: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load subscriptions"})
		return
	}

	payload, err := ev.Payload()
	if err != nil {
		log.Printf("ペイロードの生成に失敗: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build push payload"})
		return
	}

	results := s.sender.Broadcast(ctx, payload, subs)
	delivered := 0
	for _, r := range results {
		if r.Success {
			delivered++
		}
	}
	log.Printf("プッシュ配信完了: recipient=%s, delivered=%d/%d", ev.Recipient, delivered, len(results))

	// 部分的な失敗は外部へは区別しない。全配信の完了をもって成功とする。
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// createSubscriptionRequest はサブスクリプション登録リクエストのJSON構造。
type createSubscriptionRequest struct {
	// Endpoint はプッシュサービスの配信先URL。
	Endpoint string `json:"endpoint" binding:"required"`
	// P256dh はブラウザが生成した公開鍵（Base64URL）。
	P256dh string `json:"p256dh" binding:"required"`
	// Auth は認証シークレット（Base64URL）。
	Auth string `json:"auth" binding:"required"`
}

// handleCreateSubscription は認証済みアドレスのサブスクリプションを登録するハンドラ。
func (s *Server) handleCreateSubscription() gin.HandlerFunc {
	return func(c *gin.Context) {
		address := middleware.GetAddress(c)
		if address == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "アドレスが取得できません"})
			return
		}

		var req createSubscriptionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		sub := subscription.Subscription{
			ID:       uuid.New().String(),
			Address:  address,
			Endpoint: req.Endpoint,
			P256dh:   req.P256dh,
			Auth:     req.Auth,
		}
		if err := s.store.Create(c.Request.Context(), sub); err != nil {
			log.Printf("サブスクリプションの登録に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "サブスクリプションの登録に失敗しました"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"id": sub.ID})
	}
}

// handleListSubscriptions は認証済みアドレスのサブスクリプション一覧を返すハンドラ。
func (s *Server) handleListSubscriptions() gin.HandlerFunc {
	return func(c *gin.Context) {
		address := middleware.GetAddress(c)
		if address == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "アドレスが取得できません"})
			return
		}

		subs, err := s.store.ListByAddress(c.Request.Context(), address)
		if err != nil {
			log.Printf("サブスクリプション一覧の取得に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "サブスクリプション一覧の取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, subs)
	}
}

// deleteSubscriptionRequest はサブスクリプション削除リクエストのJSON構造。
type deleteSubscriptionRequest struct {
	// Endpoint は削除対象のエンドポイントURL。
	Endpoint string `json:"endpoint" binding:"required"`
}

// handleDeleteSubscription は認証済みアドレスの指定エンドポイントを削除するハンドラ。
func (s *Server) handleDeleteSubscription() gin.HandlerFunc {
	return func(c *gin.Context) {
		address := middleware.GetAddress(c)
		if address == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "アドレスが取得できません"})
			return
		}

		var req deleteSubscriptionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		if err := s.store.DeleteByEndpoint(c.Request.Context(), address, req.Endpoint); err != nil {
			log.Printf("サブスクリプションの削除に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "サブスクリプションの削除に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}
