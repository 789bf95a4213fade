package branches

import (
	"time"
)

// Branch represents a physical business location. Exactly one branch is the
// central supply branch; the rest are outlets it replenishes.
type Branch struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Central   bool      `json:"central"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
