package core

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Severity is a coarse anomaly-magnitude tier derived from deviation percent.
type Severity string

// CategoryTotal is an amount aggregated by category for a range.
type CategoryTotal struct {
	CategoryID   string          `json:"category_id"`
	CategoryName string          `json:"category_name"`
	Total        decimal.Decimal `json:"total"`
	Count        int             `json:"count"`
	LastAt       time.Time       `json:"last_at"`
}

// DayTotal is an amount aggregated by calendar day ("2006-01-02" in the
// reporting timezone).
type DayTotal struct {
	Day   string          `json:"day"`
	Total decimal.Decimal `json:"total"`
	Count int             `json:"count"`
}

// MonthTotal is an amount aggregated by calendar month.
type MonthTotal struct {
	Month Period          `json:"month"`
	Total decimal.Decimal `json:"total"`
	Count int             `json:"count"`
}

// Cashflow is the current-month net position:
// opening balance + income - expenses.
type Cashflow struct {
	Period   Period          `json:"period"`
	Income   decimal.Decimal `json:"income"`
	Expenses decimal.Decimal `json:"expenses"`
	Net      decimal.Decimal `json:"net"`
}

// AverageValue pairs a trailing-window average with the average of the
// window immediately preceding it.
type AverageValue struct {
	Value    decimal.Decimal `json:"value"`
	Previous decimal.Decimal `json:"previous"`
}

type AverageSpending struct {
	Daily   AverageValue `json:"daily"`
	Weekly  AverageValue `json:"weekly"`
	Monthly AverageValue `json:"monthly"`
}

// SavingRatePoint is one month of the saving-rate series. SavingRate is
// always within [0, 100].
type SavingRatePoint struct {
	Month       Period          `json:"month"`
	IncomeTotal decimal.Decimal `json:"income_total"`
	SavingTotal decimal.Decimal `json:"saving_total"`
	SavingRate  decimal.Decimal `json:"saving_rate"`
}

// CashflowPoint is one month of the cashflow-overtime series.
type CashflowPoint struct {
	Month        Period          `json:"month"`
	IncomeTotal  decimal.Decimal `json:"income_total"`
	ExpenseTotal decimal.Decimal `json:"expense_total"`
	Cashflow     decimal.Decimal `json:"cashflow"`
}

// BudgetComparison joins planned allocations against actual spend for a
// period. Both category slices cover the union of planned and spent
// categories; a side with no row contributes zero.
type BudgetComparison struct {
	Period            Period          `json:"period"`
	PlannedTotal      decimal.Decimal `json:"planned_total"`
	ActualTotal       decimal.Decimal `json:"actual_total"`
	Variance          decimal.Decimal `json:"variance"`
	VariancePercent   decimal.Decimal `json:"variance_percent"`
	PlannedByCategory []CategoryTotal `json:"planned_by_category"`
	ActualByCategory  []CategoryTotal `json:"actual_by_category"`
}

// Anomaly is one category whose recent spend deviates from its baseline
// beyond the configured threshold.
type Anomaly struct {
	CategoryID        string          `json:"category_id"`
	Name              string          `json:"name"`
	TransactionType   TransactionType `json:"transaction_type"`
	TotalRecent       decimal.Decimal `json:"total_recent"`
	AvgBaseline       decimal.Decimal `json:"avg_baseline"`
	LastTransactionAt time.Time       `json:"last_transaction_at"`
	DeviationPercent  decimal.Decimal `json:"deviation_percent"`
	Severity          Severity        `json:"severity"`
}

// FlaggedTransaction is a raw ledger entry annotated with whether its
// category is currently anomalous.
type FlaggedTransaction struct {
	Transaction
	IsAnomaly bool `json:"is_anomaly"`
}

// DayCount is a transaction count for one calendar day.
type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Heatmap is a daily transaction-count calendar for a range. Days with no
// transactions are not emitted; gap filling is the consumer's job.
type Heatmap struct {
	Start time.Time  `json:"start"`
	End   time.Time  `json:"end"`
	Days  []DayCount `json:"days"`
}
