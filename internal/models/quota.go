package models

import "time"

// QuotaStatus represents the lifecycle of a quota cell.
type QuotaStatus string

// Possible quota statuses.
const (
	QuotaStatusActive   QuotaStatus = "ACTIVE"
	QuotaStatusArchived QuotaStatus = "ARCHIVED"
)

// Quota is the seat-accounting cell for one class within an enrollment plan.
// TotalQuota is fixed when the plan publishes; UsedQuota counts committed
// seats and ReservedQuota counts seats held for applications under review.
// UsedQuota + ReservedQuota never exceeds TotalQuota.
type Quota struct {
	ID            string      `db:"id" json:"id"`
	PlanID        string      `db:"plan_id" json:"plan_id"`
	ClassID       string      `db:"class_id" json:"class_id"`
	TotalQuota    int         `db:"total_quota" json:"total_quota"`
	UsedQuota     int         `db:"used_quota" json:"used_quota"`
	ReservedQuota int         `db:"reserved_quota" json:"reserved_quota"`
	Status        QuotaStatus `db:"status" json:"status"`
	Remark        *string     `db:"remark" json:"remark,omitempty"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at" json:"updated_at"`
}

// Available returns the number of seats still open for reservation.
func (q *Quota) Available() int {
	return q.TotalQuota - q.UsedQuota - q.ReservedQuota
}

// QuotaClassStat summarises one cell within a plan statistics payload.
type QuotaClassStat struct {
	ClassID         string  `db:"class_id" json:"class_id"`
	TotalQuota      int     `db:"total_quota" json:"total_quota"`
	UsedQuota       int     `db:"used_quota" json:"used_quota"`
	ReservedQuota   int     `db:"reserved_quota" json:"reserved_quota"`
	AvailableQuota  int     `json:"available_quota"`
	UtilizationRate float64 `json:"utilization_rate"`
}

// QuotaPlanStats aggregates seat accounting across all cells of a plan.
type QuotaPlanStats struct {
	PlanID          string           `json:"plan_id"`
	TotalQuota      int              `json:"total_quota"`
	UsedQuota       int              `json:"used_quota"`
	ReservedQuota   int              `json:"reserved_quota"`
	AvailableQuota  int              `json:"available_quota"`
	UtilizationRate float64          `json:"utilization_rate"`
	Classes         []QuotaClassStat `json:"classes"`
}

// QuotaFilter constrains quota listing queries.
type QuotaFilter struct {
	PlanID        string
	ClassID       string
	Status        QuotaStatus
	AvailableOnly bool
	Page          int
	PageSize      int
}
