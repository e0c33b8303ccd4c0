package order

import (
	"fmt"
	"strings"
	"time"
)

type SortField string

const (
	SortCreatedAt   SortField = "created_at"
	SortFinalAmount SortField = "final_amount"
)

type ListFilter struct {
	// UserID restricts results to one customer. Zero means every customer.
	UserID   uint
	Status   Status
	Search   string
	DateFrom *time.Time
	DateTo   *time.Time

	SortBy  SortField
	SortDir string

	Limit int32
	Page  int32
}

const (
	defaultLimit = int32(20)
	maxLimit     = int32(100)
)

func (f ListFilter) normalized() ListFilter {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	return f
}

func (f ListFilter) where() (string, []any) {
	clause := " WHERE 1=1"
	args := []any{}
	argIndex := 1

	if f.UserID != 0 {
		clause += fmt.Sprintf(" AND o.user_id = $%d", argIndex)
		args = append(args, f.UserID)
		argIndex++
	}

	if f.Search != "" {
		clause += fmt.Sprintf(" AND (o.id ILIKE $%d OR o.status ILIKE $%d)", argIndex, argIndex)
		args = append(args, "%"+f.Search+"%")
		argIndex++
	}

	if f.Status != "" {
		clause += fmt.Sprintf(" AND o.status = $%d", argIndex)
		args = append(args, f.Status)
		argIndex++
	}

	if f.DateFrom != nil {
		clause += fmt.Sprintf(" AND o.created_at >= $%d", argIndex)
		args = append(args, *f.DateFrom)
		argIndex++
	}

	if f.DateTo != nil {
		clause += fmt.Sprintf(" AND o.created_at <= $%d", argIndex)
		args = append(args, *f.DateTo)
	}

	return clause, args
}

func (f ListFilter) orderBy() string {
	dir := strings.ToUpper(f.SortDir)
	if dir != "ASC" && dir != "DESC" {
		dir = "DESC"
	}

	switch f.SortBy {
	case SortFinalAmount:
		return "o.final_amount " + dir
	default:
		return "o.created_at " + dir
	}
}
