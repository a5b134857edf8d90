package service

import (
	"context"
	"errors"

	"github.com/lexflow/backend/internal/model"
	"gorm.io/gorm"
)

// Directory resolves identities and roles for permission decisions.
type Directory struct {
	db       *gorm.DB
	roster   []string
	known    map[string]bool
	elevated map[string]bool
}

func NewDirectory(db *gorm.DB, roster, elevated []string) *Directory {
	d := &Directory{
		db:       db,
		roster:   append([]string(nil), roster...),
		known:    make(map[string]bool, len(roster)),
		elevated: make(map[string]bool, len(elevated)),
	}
	for _, r := range roster {
		d.known[r] = true
	}
	for _, r := range elevated {
		d.elevated[r] = true
	}
	return d
}

func (d *Directory) Roles() []string {
	return append([]string(nil), d.roster...)
}

func (d *Directory) KnownRole(role string) bool {
	return d.known[role]
}

// IsElevated reports whether u has blanket view and use on every document.
func (d *Directory) IsElevated(u *model.User) bool {
	if u == nil {
		return false
	}
	return u.IsAdmin || d.elevated[u.Role]
}

func (d *Directory) Get(ctx context.Context, id uint) (*model.User, error) {
	var u model.User
	if err := d.db.WithContext(ctx).Where("status = ?", 1).First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("user")
		}
		return nil, err
	}
	return &u, nil
}

func (d *Directory) FindByFeishuUID(ctx context.Context, openID string) (*model.User, error) {
	var u model.User
	if err := d.db.WithContext(ctx).Where("feishu_uid = ? AND status = ?", openID, 1).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("user")
		}
		return nil, err
	}
	return &u, nil
}

// userIDsByRole returns the active users holding role.
func (d *Directory) userIDsByRole(tx *gorm.DB, role string) ([]uint, error) {
	var ids []uint
	err := tx.Model(&model.User{}).Where("role = ? AND status = ?", role, 1).Order("id").Pluck("id", &ids).Error
	return ids, err
}

// existing returns the subset of ids that belong to active users.
func (d *Directory) existing(tx *gorm.DB, ids []uint) (map[uint]bool, error) {
	found := make(map[uint]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	var rows []uint
	if err := tx.Model(&model.User{}).Where("id IN ? AND status = ?", ids, 1).Pluck("id", &rows).Error; err != nil {
		return nil, err
	}
	for _, id := range rows {
		found[id] = true
	}
	return found, nil
}

func (d *Directory) users(tx *gorm.DB, ids []uint) ([]model.User, error) {
	var users []model.User
	if len(ids) == 0 {
		return users, nil
	}
	err := tx.Where("id IN ?", ids).Find(&users).Error
	return users, err
}

type UserFilter struct {
	Keyword  string
	Role     string
	Page     int
	PageSize int
}

// List returns active users for signer and grant pickers.
func (d *Directory) List(ctx context.Context, f UserFilter) ([]model.User, int64, error) {
	query := d.db.WithContext(ctx).Model(&model.User{}).Where("status = ?", 1)
	if f.Keyword != "" {
		kw := "%" + f.Keyword + "%"
		query = query.Where("name LIKE ? OR email LIKE ?", kw, kw)
	}
	if f.Role != "" {
		query = query.Where("role = ?", f.Role)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var users []model.User
	err := query.Order("name").Order("id").
		Offset((f.Page - 1) * f.PageSize).Limit(f.PageSize).
		Find(&users).Error
	return users, total, err
}

func (d *Directory) UpdateRole(ctx context.Context, id uint, role string) (*model.User, error) {
	if !d.KnownRole(role) {
		return nil, invalid("role", "unknown role %q", role)
	}
	u, err := d.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := d.db.WithContext(ctx).Model(u).Update("role", role).Error; err != nil {
		return nil, err
	}
	u.Role = role
	return u, nil
}

// SetStatus enables or disables an account. Disabled users drop out of role
// expansion and signer lookups but keep their existing rows.
func (d *Directory) SetStatus(ctx context.Context, id, actorID uint, active bool) (*model.User, error) {
	if id == actorID && !active {
		return nil, invalid("id", "cannot disable the current account")
	}
	u, err := d.find(ctx, id)
	if err != nil {
		return nil, err
	}
	status := 0
	if active {
		status = 1
	}
	if err := d.db.WithContext(ctx).Model(u).Update("status", status).Error; err != nil {
		return nil, err
	}
	u.Status = status
	return u, nil
}

func (d *Directory) find(ctx context.Context, id uint) (*model.User, error) {
	var u model.User
	if err := d.db.WithContext(ctx).First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("user")
		}
		return nil, err
	}
	return &u, nil
}
