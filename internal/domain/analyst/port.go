package analyst

import "context"

// Repository port for persisting remediation records
type Repository interface {
	Save(ctx context.Context, r *Remediation) error
	ByFinding(ctx context.Context, findingID int64) (*Remediation, error)
}
