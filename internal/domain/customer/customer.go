package customer

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Tier is a customer loyalty level. Tiers are totally ordered:
// BASIC < SILVER < GOLD < PLATINUM.
type Tier string

const (
	TierBasic    Tier = "BASIC"
	TierSilver   Tier = "SILVER"
	TierGold     Tier = "GOLD"
	TierPlatinum Tier = "PLATINUM"
)

var tierRank = map[Tier]int{
	TierBasic:    0,
	TierSilver:   1,
	TierGold:     2,
	TierPlatinum: 3,
}

// Rank returns the position of t in the tier order. Unknown tiers rank as BASIC.
func (t Tier) Rank() int {
	return tierRank[t]
}

// Above reports whether t ranks strictly above other.
func (t Tier) Above(other Tier) bool {
	return t.Rank() > other.Rank()
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// ParseTier parses a tier name case-insensitively.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", errors.Errorf("unknown tier %q", s)
	}
	return t, nil
}

// Customer is a buyer with a lifetime loyalty tier.
type Customer struct {
	ID        int64
	Name      string
	Email     string
	Tier      Tier
	CreatedAt time.Time
}

// Repository defines persistence operations for customers.
type Repository interface {
	Create(ctx context.Context, c *Customer) error
	Get(ctx context.Context, id int64) (*Customer, error)
	List(ctx context.Context) ([]Customer, error)
	UpdateTier(ctx context.Context, id int64, tier Tier) error
}
