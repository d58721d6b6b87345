package dto

// PushinPayWebhook 网关回调，JSON 与表单两种格式字段名相同
type PushinPayWebhook struct {
	ID                        string `json:"id" form:"id"`
	TransactionID             string `json:"transaction_id" form:"transaction_id"`
	Reference                 string `json:"reference" form:"reference"`
	Status                    string `json:"status" form:"status"`
	PayerName                 string `json:"payer_name" form:"payer_name"`
	PayerNationalRegistration string `json:"payer_national_registration" form:"payer_national_registration"`
}

// Ref 网关参考号，按 id、transaction_id、reference 顺序取第一个非空值
func (w *PushinPayWebhook) Ref() string {
	for _, v := range []string{w.ID, w.TransactionID, w.Reference} {
		if v != "" {
			return v
		}
	}
	return ""
}

type WebhookResult struct {
	PaymentID int64  `json:"payment_id"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
}
