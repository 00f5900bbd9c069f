package models

// All lists every persisted model, in dependency order, for AutoMigrate.
func All() []any {
	return []any{
		&Product{},
		&InventoryRecord{},
		&User{},
		&Order{},
		&Transaction{},
		&AuditLog{},
		&ExternalCode{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
