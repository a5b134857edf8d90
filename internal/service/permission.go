package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/lexflow/backend/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PermissionService evaluates and manages the visibility and usability tiers.
type PermissionService struct {
	db       *gorm.DB
	dir      *Directory
	activity *Activity
	log      *zap.Logger
}

func NewPermissionService(db *gorm.DB, dir *Directory, activity *Activity, log *zap.Logger) *PermissionService {
	return &PermissionService{
		db:       db,
		dir:      dir,
		activity: activity,
		log:      log.With(zap.String("service", "permission")),
	}
}

func (s *PermissionService) Directory() *Directory { return s.dir }

// implicitAccess covers the grants that need no permission row.
func (s *PermissionService) implicitAccess(doc *model.Document, user *model.User) bool {
	if user == nil {
		return false
	}
	return doc.IsPublic || doc.IsOwner(user.ID) || doc.IsAssignee(user.ID) || s.dir.IsElevated(user)
}

func exists(tx *gorm.DB, m interface{}, documentID, userID uint, column string) (bool, error) {
	var count int64
	err := tx.Model(m).Where("document_id = ? AND "+column+" = ?", documentID, userID).Count(&count).Error
	return count > 0, err
}

// CanView reports whether user may read the document.
func (s *PermissionService) CanView(tx *gorm.DB, doc *model.Document, user *model.User) (bool, error) {
	if s.implicitAccess(doc, user) {
		return true, nil
	}
	if user == nil {
		return false, nil
	}
	checks := []struct {
		m      interface{}
		column string
	}{
		{&model.Signature{}, "signer_id"},
		{&model.VisibilityPermission{}, "user_id"},
		{&model.UsabilityPermission{}, "user_id"},
	}
	for _, c := range checks {
		ok, err := exists(tx, c.m, doc.ID, user.ID, c.column)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// CanUse reports whether user may edit or act on the document. Visibility
// alone is not enough.
func (s *PermissionService) CanUse(tx *gorm.DB, doc *model.Document, user *model.User) (bool, error) {
	if s.implicitAccess(doc, user) {
		return true, nil
	}
	if user == nil {
		return false, nil
	}
	return exists(tx, &model.UsabilityPermission{}, doc.ID, user.ID, "user_id")
}

func (s *PermissionService) requireView(tx *gorm.DB, doc *model.Document, user *model.User) error {
	ok, err := s.CanView(tx, doc, user)
	if err != nil {
		return err
	}
	if !ok {
		return denied("view document")
	}
	return nil
}

func (s *PermissionService) requireUse(tx *gorm.DB, doc *model.Document, user *model.User) error {
	ok, err := s.CanUse(tx, doc, user)
	if err != nil {
		return err
	}
	if !ok {
		return denied("use document")
	}
	return nil
}

func (s *PermissionService) requireManage(doc *model.Document, user *model.User) error {
	if user != nil && (doc.IsOwner(user.ID) || s.dir.IsElevated(user)) {
		return nil
	}
	return denied("manage document permissions")
}

type TierSummary struct {
	Users       []model.UserBrief `json:"users"`
	ActiveRoles []string          `json:"active_roles"`
}

type PermissionSummary struct {
	DocumentID     uint        `json:"document_id"`
	IsPublic       bool        `json:"is_public"`
	Visibility     TierSummary `json:"visibility"`
	Usability      TierSummary `json:"usability"`
	AvailableRoles []string    `json:"available_roles"`
}

// Summary lists the grants of both tiers and the roles whose every member
// holds the grant. A missing document is reported as not found before the
// caller is checked.
func (s *PermissionService) Summary(ctx context.Context, documentID uint, actor *model.User) (*PermissionSummary, error) {
	db := s.db.WithContext(ctx)
	doc, err := loadDocument(db, documentID)
	if err != nil {
		return nil, err
	}
	if err := s.requireManage(doc, actor); err != nil {
		return nil, err
	}

	visible, err := s.grantedUsers(db, &model.VisibilityPermission{}, documentID)
	if err != nil {
		return nil, err
	}
	usable, err := s.grantedUsers(db, &model.UsabilityPermission{}, documentID)
	if err != nil {
		return nil, err
	}

	visActive, err := s.activeRoles(db, visible)
	if err != nil {
		return nil, err
	}
	useActive, err := s.activeRoles(db, usable)
	if err != nil {
		return nil, err
	}

	return &PermissionSummary{
		DocumentID:     doc.ID,
		IsPublic:       doc.IsPublic,
		Visibility:     TierSummary{Users: briefs(visible), ActiveRoles: visActive},
		Usability:      TierSummary{Users: briefs(usable), ActiveRoles: useActive},
		AvailableRoles: s.dir.Roles(),
	}, nil
}

func (s *PermissionService) grantedUsers(tx *gorm.DB, m interface{}, documentID uint) ([]model.User, error) {
	var ids []uint
	if err := tx.Model(m).Where("document_id = ?", documentID).Pluck("user_id", &ids).Error; err != nil {
		return nil, err
	}
	users, err := s.dir.users(tx, ids)
	if err != nil {
		return nil, err
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// activeRoles returns the roster roles with at least one member where every
// member is in holders. Read-side only; never consulted for access.
func (s *PermissionService) activeRoles(tx *gorm.DB, holders []model.User) ([]string, error) {
	held := make(map[uint]bool, len(holders))
	for _, u := range holders {
		held[u.ID] = true
	}
	active := []string{}
	for _, role := range s.dir.Roles() {
		members, err := s.dir.userIDsByRole(tx, role)
		if err != nil {
			return nil, err
		}
		if len(members) == 0 {
			continue
		}
		all := true
		for _, id := range members {
			if !held[id] {
				all = false
				break
			}
		}
		if all {
			active = append(active, role)
		}
	}
	return active, nil
}

func briefs(users []model.User) []model.UserBrief {
	out := make([]model.UserBrief, 0, len(users))
	for i := range users {
		out = append(out, users[i].Brief())
	}
	return out
}

// TierSpec is the declarative target of one tier: roles resolved to their
// members, unioned with UserIDs, minus ExcludeUserIDs.
type TierSpec struct {
	Roles          []string `json:"roles"`
	UserIDs        []uint   `json:"user_ids"`
	ExcludeUserIDs []uint   `json:"exclude_user_ids"`
}

// BulkRequest carries optional settings per tier. A nil tier is left untouched.
type BulkRequest struct {
	Visibility *TierSpec `json:"visibility"`
	Usability  *TierSpec `json:"usability"`
}

type ItemError struct {
	UserID  uint   `json:"user_id,omitempty"`
	Role    string `json:"role,omitempty"`
	Message string `json:"message"`
}

type TierResult struct {
	Tier     model.PermissionTier `json:"tier"`
	Applied  bool                 `json:"applied"`
	Granted  []uint               `json:"granted"`
	Revoked  []uint               `json:"revoked"`
	Errors   []ItemError          `json:"errors"`
	Warnings []string             `json:"warnings"`
}

type BulkResult struct {
	Visibility *TierResult `json:"visibility,omitempty"`
	Usability  *TierResult `json:"usability,omitempty"`
}

// ApplyBulk performs a set-replace on each tier present in req. Each tier
// commits in its own transaction; visibility is applied first so a usability
// grant in the same request can rely on it.
func (s *PermissionService) ApplyBulk(ctx context.Context, documentID uint, actor *model.User, req BulkRequest) (*BulkResult, error) {
	doc, err := loadDocument(s.db.WithContext(ctx), documentID)
	if err != nil {
		return nil, err
	}
	if err := s.requireManage(doc, actor); err != nil {
		return nil, err
	}

	result := &BulkResult{}
	if req.Visibility != nil {
		result.Visibility = s.applyTier(ctx, documentID, actor, model.TierVisibility, *req.Visibility)
	}
	if req.Usability != nil {
		result.Usability = s.applyTier(ctx, documentID, actor, model.TierUsability, *req.Usability)
	}

	for _, r := range []*TierResult{result.Visibility, result.Usability} {
		if r != nil && r.Applied && (len(r.Granted) > 0 || len(r.Revoked) > 0) {
			s.activity.publish(ctx, documentID, "permissions_updated", r)
		}
	}
	return result, nil
}

func newTierResult(tier model.PermissionTier) *TierResult {
	return &TierResult{Tier: tier, Granted: []uint{}, Revoked: []uint{}, Errors: []ItemError{}, Warnings: []string{}}
}

func (s *PermissionService) applyTier(ctx context.Context, documentID uint, actor *model.User, tier model.PermissionTier, spec TierSpec) *TierResult {
	for _, role := range spec.Roles {
		if !s.dir.KnownRole(role) {
			r := newTierResult(tier)
			r.Errors = append(r.Errors, ItemError{Role: role, Message: fmt.Sprintf("unknown role %q", role)})
			return r
		}
	}

	var result *TierResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result = newTierResult(tier)
		doc, err := lockDocument(tx, documentID)
		if err != nil {
			return err
		}
		target, err := s.resolveTarget(tx, spec, result)
		if err != nil {
			return err
		}
		if tier == model.TierVisibility {
			err = s.replaceVisibility(tx, doc, actor, target, result)
		} else {
			err = s.replaceUsability(tx, doc, actor, target, result)
		}
		if err != nil {
			return err
		}
		result.Applied = true
		return s.activity.record(ctx, tx, actor.ID, "update_"+string(tier)+"_permissions", documentID, map[string]interface{}{
			"granted": result.Granted,
			"revoked": result.Revoked,
			"errors":  len(result.Errors),
		})
	})
	if err != nil {
		s.log.Error("apply permission tier failed",
			zap.Uint("document_id", documentID),
			zap.String("tier", string(tier)),
			zap.Error(err))
		failed := newTierResult(tier)
		failed.Errors = append(failed.Errors, ItemError{Message: err.Error()})
		return failed
	}
	return result
}

// resolveTarget expands roles, adds explicit users and removes exclusions.
// Unknown explicit user ids become per-item errors.
func (s *PermissionService) resolveTarget(tx *gorm.DB, spec TierSpec, result *TierResult) (map[uint]bool, error) {
	target := make(map[uint]bool)
	for _, role := range spec.Roles {
		ids, err := s.dir.userIDsByRole(tx, role)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			target[id] = true
		}
	}

	found, err := s.dir.existing(tx, spec.UserIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range uniqueIDs(spec.UserIDs) {
		if !found[id] {
			result.Errors = append(result.Errors, ItemError{UserID: id, Message: "user not found"})
			continue
		}
		target[id] = true
	}

	for _, id := range spec.ExcludeUserIDs {
		delete(target, id)
	}
	return target, nil
}

func currentHolders(tx *gorm.DB, m interface{}, documentID uint) (map[uint]bool, error) {
	var ids []uint
	if err := tx.Model(m).Where("document_id = ?", documentID).Pluck("user_id", &ids).Error; err != nil {
		return nil, err
	}
	held := make(map[uint]bool, len(ids))
	for _, id := range ids {
		held[id] = true
	}
	return held, nil
}

func sortedKeys(m map[uint]bool) []uint {
	out := make([]uint, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *PermissionService) replaceVisibility(tx *gorm.DB, doc *model.Document, actor *model.User, target map[uint]bool, result *TierResult) error {
	held, err := currentHolders(tx, &model.VisibilityPermission{}, doc.ID)
	if err != nil {
		return err
	}

	for _, id := range sortedKeys(target) {
		if held[id] {
			continue
		}
		if err := tx.Create(&model.VisibilityPermission{DocumentID: doc.ID, UserID: id, GrantedByID: actor.ID}).Error; err != nil {
			return err
		}
		result.Granted = append(result.Granted, id)
	}

	for _, id := range sortedKeys(held) {
		if target[id] {
			continue
		}
		if err := tx.Where("document_id = ? AND user_id = ?", doc.ID, id).Delete(&model.VisibilityPermission{}).Error; err != nil {
			return err
		}
		result.Revoked = append(result.Revoked, id)

		if doc.IsPublic {
			continue
		}
		res := tx.Where("document_id = ? AND user_id = ?", doc.ID, id).Delete(&model.UsabilityPermission{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			result.Warnings = append(result.Warnings, fmt.Sprintf("user %d also lost usability with visibility", id))
		}
	}
	return nil
}

func (s *PermissionService) replaceUsability(tx *gorm.DB, doc *model.Document, actor *model.User, target map[uint]bool, result *TierResult) error {
	held, err := currentHolders(tx, &model.UsabilityPermission{}, doc.ID)
	if err != nil {
		return err
	}
	visible, err := currentHolders(tx, &model.VisibilityPermission{}, doc.ID)
	if err != nil {
		return err
	}

	for _, id := range sortedKeys(target) {
		if held[id] {
			continue
		}
		if !doc.IsPublic && !visible[id] {
			result.Errors = append(result.Errors, ItemError{UserID: id, Message: "usability requires visibility on a non-public document"})
			continue
		}
		if err := tx.Create(&model.UsabilityPermission{DocumentID: doc.ID, UserID: id, GrantedByID: actor.ID}).Error; err != nil {
			return err
		}
		result.Granted = append(result.Granted, id)
	}

	for _, id := range sortedKeys(held) {
		if target[id] {
			continue
		}
		if err := tx.Where("document_id = ? AND user_id = ?", doc.ID, id).Delete(&model.UsabilityPermission{}).Error; err != nil {
			return err
		}
		result.Revoked = append(result.Revoked, id)
	}
	return nil
}

type PublicAccessResult struct {
	Document   *model.Document `json:"document"`
	Backfilled []uint          `json:"backfilled_visibility"`
}

// SetPublic sets is_public, or toggles it when value is nil. Turning public
// access off backfills visibility for every usability holder.
func (s *PermissionService) SetPublic(ctx context.Context, documentID uint, actor *model.User, value *bool) (*PublicAccessResult, error) {
	result := &PublicAccessResult{Backfilled: []uint{}}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, err := lockDocument(tx, documentID)
		if err != nil {
			return err
		}
		if err := s.requireManage(doc, actor); err != nil {
			return err
		}

		next := !doc.IsPublic
		if value != nil {
			next = *value
		}
		if next == doc.IsPublic {
			result.Document = doc
			return nil
		}

		if !next {
			usable, err := currentHolders(tx, &model.UsabilityPermission{}, doc.ID)
			if err != nil {
				return err
			}
			visible, err := currentHolders(tx, &model.VisibilityPermission{}, doc.ID)
			if err != nil {
				return err
			}
			for _, id := range sortedKeys(usable) {
				if visible[id] {
					continue
				}
				if err := tx.Create(&model.VisibilityPermission{DocumentID: doc.ID, UserID: id, GrantedByID: actor.ID}).Error; err != nil {
					return err
				}
				result.Backfilled = append(result.Backfilled, id)
			}
		}

		if err := tx.Model(&model.Document{}).Where("id = ?", doc.ID).Update("is_public", next).Error; err != nil {
			return err
		}
		doc.IsPublic = next
		result.Document = doc
		return s.activity.record(ctx, tx, actor.ID, "set_public_access", doc.ID, map[string]interface{}{
			"is_public":  next,
			"backfilled": result.Backfilled,
		})
	})
	if err != nil {
		return nil, err
	}
	s.activity.publish(ctx, documentID, "public_access_changed", map[string]interface{}{"is_public": result.Document.IsPublic})
	return result, nil
}
