package domain

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Consumption Records
// =============================================================================

// Consumption is a usage-based billing line item covering an instance's
// active window. A record is generated when a power-off or deletion closes
// the open usage window that started at the instance's modification date.
type Consumption struct {
	ID           string     `json:"id"`
	UserID       int        `json:"-"`
	ResourceType string     `json:"resource_type"`
	ResourceID   int        `json:"resource_id"`
	Provider     Provider   `json:"provider"`
	InstanceType string     `json:"instance_type"`
	FromDate     time.Time  `json:"from_date"`
	ToDate       time.Time  `json:"to_date"`
	PriceHourly  float64    `json:"price_hourly"`
	Amount       float64    `json:"amount"`
	ReportedAt   *time.Time `json:"reported_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

var ErrConsumptionWindowInverted = errors.New("consumption window end precedes start")

// GenerateConsumptionID generates a new consumption record ID.
func GenerateConsumptionID() string {
	return "cons_" + uuid.New().String()[:8]
}

// NewConsumption computes the billed amount for an instance's usage window.
// Amount is duration in hours times the hourly unit price, rounded to six
// decimal places to keep stored figures stable.
func NewConsumption(inst *Instance, priceHourly float64, from, to time.Time) (*Consumption, error) {
	if to.Before(from) {
		return nil, ErrConsumptionWindowInverted
	}

	hours := to.Sub(from).Hours()
	amount := math.Round(hours*priceHourly*1e6) / 1e6

	return &Consumption{
		ID:           GenerateConsumptionID(),
		UserID:       inst.UserID,
		ResourceType: ResourceTypeInstance,
		ResourceID:   inst.ID,
		Provider:     inst.Provider,
		InstanceType: inst.Type,
		FromDate:     from,
		ToDate:       to,
		PriceHourly:  priceHourly,
		Amount:       amount,
		CreatedAt:    time.Now(),
	}, nil
}

// Duration returns the length of the billed window.
func (c *Consumption) Duration() time.Duration {
	return c.ToDate.Sub(c.FromDate)
}

// IsReported returns true once the record was shipped to billing.
func (c *Consumption) IsReported() bool {
	return c.ReportedAt != nil
}
