package model

// AutoMigrate 対象
func All() []any {
	return []any{
		&Product{},
		&ProductVariant{},
		&InventoryAdjustment{},
		&Cart{},
		&CartItem{},
		&Order{},
		&OrderItem{},
		&Payment{},
		&PaymentWebhook{},
		&AuditLog{},
	}
}
