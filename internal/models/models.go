package models

import "time"

// Resource status values
const (
	StatusAvailable = "available"
	StatusInUse     = "in_use"
	StatusOffline   = "offline"
)

// Transaction status values
const (
	TxActive    = "active"
	TxCompleted = "completed"
	TxCancelled = "cancelled"
)

// User represents a participant in the resource sharing network
type User struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Credits      float64   `json:"credits"`
	Reputation   float64   `json:"reputation"`
	CreatedAt    time.Time `json:"created_at"`
}

// Resource represents a lendable unit of computing capacity.
// BorrowedBy is set iff Status is "in_use".
type Resource struct {
	ID             int       `json:"id"`
	Name           string    `json:"name"`
	Type           string    `json:"type"` // CPU, GPU, Storage, RAM, Network
	Capacity       float64   `json:"capacity"`
	CreditsPerHour float64   `json:"credits_per_hour"`
	Status         string    `json:"status"`
	OwnerID        int       `json:"owner_id"`
	BorrowedBy     *int      `json:"borrowed_by,omitempty"`
	Specifications string    `json:"specifications,omitempty"` // optional JSON blob with detailed specs
	CreatedAt      time.Time `json:"created_at"`
	LastActive     time.Time `json:"last_active"`
}

// UnitPrice is the ranking metric for best-value matching.
func (r *Resource) UnitPrice() float64 {
	return r.CreditsPerHour / r.Capacity
}

// Transaction records one loan of a resource from provider to consumer.
// While the loan is active, EndTime holds the planned expiry; on release it
// is overwritten with the actual return time.
type Transaction struct {
	ID         int        `json:"id"`
	ResourceID int        `json:"resource_id"`
	ProviderID int        `json:"provider_id"`
	ConsumerID int        `json:"consumer_id"`
	Credits    float64    `json:"credits"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	Status     string     `json:"status"`
}
