package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Title はプッシュ通知の表示タイトル（固定値）。
const Title = "New activity"

// defaultBody は本文候補フィールドがすべて空だった場合のデフォルト本文。
const defaultBody = "You have a new notification"

// ErrNoRecipient は受信者フィールドがひとつも解決できなかったことを表す。
// イベント自体は正常であり、エラーとして扱ってはならない。
var ErrNoRecipient = errors.New("イベントに受信者アドレスが含まれていない")

// recipientFields は受信者アドレスの候補フィールド名。
// 先頭から順に走査し、最初に見つかった空でない値が勝つ。
// この順序は抽出ポリシーの契約であり、変更すると解決結果が変わる。
var recipientFields = []string{
	"author",
	"profileOwner",
	"account",
	"owner",
	"accountId",
	"followedAccount",
	"mentionedAccount",
}

// followerFields はフォロワー（行為者）アドレスの候補フィールド名。
// 情報提供のみで、配信の可否には影響しない。
var followerFields = []string{
	"follower",
	"actor",
}

// bodyFields は表示本文の候補フィールド名。
var bodyFields = []string{
	"preview",
	"content",
	"body",
}

// NormalizedEvent は正規化済みのイベントを表す。
type NormalizedEvent struct {
	// Recipient は通知先のアドレス。大文字小文字を区別しない照合キー。
	Recipient string
	// Follower はイベントを発生させた側のアドレス（存在する場合のみ）。
	Follower string
	// Title はプッシュ通知の表示タイトル。
	Title string
	// Body はプッシュ通知の表示本文。
	Body string
}

// Normalize は内側のメッセージ文字列をパースして正規化イベントを返す。
// JSONとしてパースできない場合はパースエラーを、受信者フィールドが
// ひとつも解決できない場合はErrNoRecipientを返す。両者は区別される。
func Normalize(rawMessage string) (*NormalizedEvent, error) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(rawMessage), &payload); err != nil {
		return nil, fmt.Errorf("イベントペイロードのパースに失敗: %w", err)
	}

	recipient := firstStringField(payload, recipientFields)
	if recipient == "" {
		return nil, ErrNoRecipient
	}

	body := firstStringField(payload, bodyFields)
	if body == "" {
		body = defaultBody
	}

	return &NormalizedEvent{
		Recipient: recipient,
		Follower:  firstStringField(payload, followerFields),
		Title:     Title,
		Body:      body,
	}, nil
}

// Payload はWeb Pushで配信するJSONペイロードを生成する。
func (e *NormalizedEvent) Payload() ([]byte, error) {
	payload, err := json.Marshal(struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}{
		Title: e.Title,
		Body:  e.Body,
	})
	if err != nil {
		return nil, fmt.Errorf("プッシュペイロードのシリアライズに失敗: %w", err)
	}
	return payload, nil
}

// firstStringField は候補フィールドを順に走査し、最初に見つかった
// 空でない文字列値を返す。文字列以外の値は存在しないものとして扱う。
func firstStringField(payload map[string]any, candidates []string) string {
	for _, name := range candidates {
		if value, ok := payload[name].(string); ok && value != "" {
			return value
		}
	}
	return ""
}
