// プッシュ通知リレーサービスのエントリポイント。
// SNS形式のイベント通知を受信し、署名検証と受信者解決を経て
// 登録済みのWeb Pushサブスクリプションへ並行配信する。
package main

import (
	"log"
	"os"

	"github.com/nao1215/pushrelay/internal/relay"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server, err := relay.NewServer(port)
	if err != nil {
		log.Fatalf("リレーサーバーの初期化に失敗: %v", err)
	}

	log.Printf("プッシュ通知リレーを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("プッシュ通知リレーの起動に失敗: %v", err)
	}
}
