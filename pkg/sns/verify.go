package sns

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Verifier はSNSメッセージの署名を検証する。
// 署名証明書はメッセージ内のSigningCertURLから都度取得する。
// 複数のリクエストから並行に使用できる。
type Verifier struct {
	// httpClient は証明書取得に使用するHTTPクライアント。
	httpClient *http.Client
}

// NewVerifier は新しい署名検証器を生成する。
func NewVerifier() *Verifier {
	return &Verifier{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Verify はメッセージが正当な署名者によって署名されているかを検証する。
// 署名や証明書URLの欠落、証明書の取得失敗、パース失敗、署名不一致は
// すべてfalse（フェイルクローズド）となり、エラーは外に伝播しない。
//
// 署名方式はSNSのワイヤ互換性のためRSA-SHA1に固定している。
func (v *Verifier) Verify(ctx context.Context, msg *Message, msgType MessageType) bool {
	if msg.Signature == "" || msg.SigningCertURL == "" {
		return false
	}

	canonical, err := msg.CanonicalString(msgType)
	if err != nil {
		log.Printf("正規化文字列の構築に失敗: %v", err)
		return false
	}

	signature, err := base64.StdEncoding.DecodeString(msg.Signature)
	if err != nil {
		log.Printf("署名のBase64デコードに失敗: %v", err)
		return false
	}

	certPEM, err := v.fetchCertificate(ctx, msg.SigningCertURL)
	if err != nil {
		log.Printf("署名証明書の取得に失敗: %v", err)
		return false
	}

	block, _ := pem.Decode(certPEM)
	if block == nil {
		log.Printf("署名証明書のPEMデコードに失敗: url=%s", msg.SigningCertURL)
		return false
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		log.Printf("署名証明書のパースに失敗: %v", err)
		return false
	}

	if err := cert.CheckSignature(x509.SHA1WithRSA, []byte(canonical), signature); err != nil {
		log.Printf("署名の検証に失敗: %v", err)
		return false
	}
	return true
}

// fetchCertificate は署名証明書をURLから取得して本文を返す。
// URLはエンベロープのSigningCertURLフィールドの値のみを渡すこと。
func (v *Verifier) fetchCertificate(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("証明書取得リクエストの作成に失敗: %w", err)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("証明書取得リクエストの送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("証明書取得でHTTPエラー: status=%d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("証明書本文の読み取りに失敗: %w", err)
	}
	return body, nil
}
