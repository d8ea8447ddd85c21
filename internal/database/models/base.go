package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hugh/go-shepherd/internal/authz"
)

// PermissionList stores explicit grants as an array literal ({a,b,c}),
// which PostgreSQL reads natively and SQLite keeps as text.
type PermissionList []authz.Permission

// Scan implements the sql.Scanner interface for reading from database
func (l *PermissionList) Scan(value interface{}) error {
	var str string
	switch v := value.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		str = v
	case []byte:
		str = string(v)
	default:
		return fmt.Errorf("PermissionList: expected string, got %T", value)
	}

	str = strings.Trim(str, "{}")
	if str == "" {
		*l = nil
		return nil
	}

	parts := strings.Split(str, ",")
	result := make(PermissionList, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), `"`)
		if p == "" {
			continue
		}
		result = append(result, authz.Permission(p))
	}
	*l = result
	return nil
}

// Value implements the driver.Valuer interface for writing to database
func (l PermissionList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "{}", nil
	}
	strs := make([]string, len(l))
	for i, p := range l {
		strs[i] = string(p)
	}
	return "{" + strings.Join(strs, ",") + "}", nil
}

// Has reports whether p is in the list.
func (l PermissionList) Has(p authz.Permission) bool {
	for _, x := range l {
		if x == p {
			return true
		}
	}
	return false
}

// Base model with UUID primary key and timestamps. Rows are never deleted;
// lifecycle is expressed through status columns instead.
type Base struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}
