package config

type SpendingConfig interface {
	GetSpendCap() float64
	GetDerivedKeyDays() int
}

type Spending struct{}

var _ SpendingConfig = Spending{}

// GetSpendCap is the derived key's global spend cap in whole coin units.
func (Spending) GetSpendCap() float64 {
	return GetEnvFloat("SPEND_CAP", 0.1)
}

func (Spending) GetDerivedKeyDays() int {
	return GetEnvInt("DERIVED_KEY_DAYS", 30)
}
