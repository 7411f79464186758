package sns

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MessageType はSNSメッセージの種別を表す。
type MessageType string

const (
	// TypeNotification はトピックへ発行された通知メッセージを表す。
	TypeNotification MessageType = "Notification"
	// TypeSubscriptionConfirmation はサブスクリプション確認ハンドシェイクを表す。
	TypeSubscriptionConfirmation MessageType = "SubscriptionConfirmation"
	// TypeUnsubscribeConfirmation はサブスクリプション解除の確認を表す。
	TypeUnsubscribeConfirmation MessageType = "UnsubscribeConfirmation"
	// TypeUnknown は未知のメッセージ種別を表す。
	TypeUnknown MessageType = "Unknown"
)

// HeaderMessageType はメッセージ種別を伝えるHTTPヘッダーキー。
// トランスポートによってはヘッダーのみ、あるいはボディのTypeフィールド
// のみが設定されるため、両方を参照する必要がある。
const HeaderMessageType = "x-amz-sns-message-type"

// Message はSNSから受信するトランスポートエンベロープを表す。
// 種別ごとに意味を持つフィールドが異なり、無関係なフィールドは
// 正規化時に無視される。
type Message struct {
	// Type はメッセージ種別（ボディ側のフォールバック値）。
	Type string `json:"Type"`
	// MessageID はメッセージの一意識別子。
	MessageID string `json:"MessageId"`
	// Token はサブスクリプション確認用のトークン。
	Token string `json:"Token"`
	// TopicArn は発行元トピックのARN。
	TopicArn string `json:"TopicArn"`
	// Subject は通知の件名。
	Subject string `json:"Subject"`
	// Message は内側のペイロード（通知の場合はJSON文字列）。
	Message string `json:"Message"`
	// Timestamp はメッセージの発行日時（文字列のまま保持する）。
	Timestamp string `json:"Timestamp"`
	// SignatureVersion は署名方式のバージョン。
	SignatureVersion string `json:"SignatureVersion"`
	// Signature はBase64エンコードされた署名。
	Signature string `json:"Signature"`
	// SigningCertURL は署名証明書の取得先URL。
	SigningCertURL string `json:"SigningCertURL"`
	// SubscribeURL は確認系メッセージにのみ含まれる確認用URL。
	SubscribeURL string `json:"SubscribeURL"`
	// UnsubscribeURL はサブスクリプション解除用URL。
	UnsubscribeURL string `json:"UnsubscribeURL"`
}

// sourceWrapper は一部の呼び出し元がエンベロープをsourceフィールドで
// 一段ラップして送ってくる形式を表す。
type sourceWrapper struct {
	Source json.RawMessage `json:"source"`
}

// ParseMessage はリクエストボディからSNSメッセージをパースする。
// sourceフィールドによる一段ラップを透過的に展開する。
func ParseMessage(body []byte) (*Message, error) {
	var wrapper sourceWrapper
	if err := json.Unmarshal(body, &wrapper); err == nil && len(wrapper.Source) > 0 && string(wrapper.Source) != "null" {
		body = wrapper.Source
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("SNSメッセージのパースに失敗: %w", err)
	}
	return &msg, nil
}

// ResolveType はヘッダー値とボディのTypeフィールドからメッセージ種別を
// 判定する。ヘッダー値が存在する場合はボディより優先する。
// 既知の3種別に該当しない値はTypeUnknownとなる。
func ResolveType(header, bodyType string) MessageType {
	value := header
	if value == "" {
		value = bodyType
	}

	switch MessageType(value) {
	case TypeNotification, TypeSubscriptionConfirmation, TypeUnsubscribeConfirmation:
		return MessageType(value)
	default:
		return TypeUnknown
	}
}

// CanonicalString は署名対象となる正規化文字列を構築する。
// フィールドの集合と順序はSNSのプロトコル仕様で固定されており、
// 変更すると実際の署名者と相互運用できなくなる。
// 未知の種別に対してはエラーを返す。
func (m *Message) CanonicalString(msgType MessageType) (string, error) {
	var fields []field
	switch msgType {
	case TypeNotification:
		fields = []field{
			{"Message", m.Message, true},
			{"MessageId", m.MessageID, false},
			{"Subject", m.Subject, false},
			{"Timestamp", m.Timestamp, false},
			{"TopicArn", m.TopicArn, false},
			{"Type", string(msgType), true},
		}
	case TypeSubscriptionConfirmation, TypeUnsubscribeConfirmation:
		fields = []field{
			{"Message", m.Message, true},
			{"MessageId", m.MessageID, false},
			{"SubscribeURL", m.SubscribeURL, false},
			{"Timestamp", m.Timestamp, false},
			{"Token", m.Token, false},
			{"TopicArn", m.TopicArn, false},
			{"Type", string(msgType), true},
		}
	default:
		return "", fmt.Errorf("署名検証できないメッセージ種別: %q", msgType)
	}

	var b strings.Builder
	for _, f := range fields {
		if !f.always && f.value == "" {
			continue
		}
		b.WriteString(f.name)
		b.WriteString("\n")
		b.WriteString(f.value)
		b.WriteString("\n")
	}

	// 末尾の改行はちょうど1つだけ取り除く
	return strings.TrimSuffix(b.String(), "\n"), nil
}

// field は正規化文字列に含める1フィールドを表す。
type field struct {
	// name は正規化文字列中のフィールド名。
	name string
	// value はフィールドの値。
	value string
	// always は値が空でもフィールドを含めるかどうか。
	always bool
}
