package model

// All 需要迁移的全部模型
func All() []interface{} {
	return []interface{}{
		&Tenant{},
		&Bot{},
		&Payment{},
		&Offer{},
		&OfferAcceptance{},
		&AttributionCode{},
	}
}
