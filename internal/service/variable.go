package service

import (
	"context"
	"errors"
	"regexp"

	"github.com/lexflow/backend/internal/model"
	"github.com/lexflow/backend/internal/variable"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var keyRE = regexp.MustCompile(`^[a-zA-Z0-9_]{1,64}$`)

type VariableService struct {
	db       *gorm.DB
	perms    *PermissionService
	activity *Activity
	log      *zap.Logger
}

func NewVariableService(db *gorm.DB, perms *PermissionService, activity *Activity, log *zap.Logger) *VariableService {
	return &VariableService{
		db:       db,
		perms:    perms,
		activity: activity,
		log:      log.With(zap.String("service", "variable")),
	}
}

// VariableView pairs the stored variable with its display rendering.
type VariableView struct {
	model.Variable
	Display string `json:"display"`
}

func view(v model.Variable) VariableView {
	return VariableView{Variable: v, Display: variable.Render(variable.FieldType(v.FieldType), v.Value, v.Currency)}
}

func (s *VariableService) List(ctx context.Context, documentID uint, actor *model.User) ([]VariableView, error) {
	db := s.db.WithContext(ctx)
	doc, err := loadDocument(db, documentID)
	if err != nil {
		return nil, err
	}
	if err := s.perms.requireView(db, doc, actor); err != nil {
		return nil, err
	}
	var vars []model.Variable
	if err := db.Where("document_id = ?", documentID).Order("variable_key").Find(&vars).Error; err != nil {
		return nil, err
	}
	out := make([]VariableView, 0, len(vars))
	for _, v := range vars {
		out = append(out, view(v))
	}
	return out, nil
}

type SetVariableInput struct {
	FieldType    variable.FieldType
	Value        string
	Options      []string
	Currency     string
	SummaryField string
}

// Set creates or replaces the variable named key after validating the value
// against its declared type.
func (s *VariableService) Set(ctx context.Context, documentID uint, actor *model.User, key string, in SetVariableInput) (*VariableView, error) {
	if !keyRE.MatchString(key) {
		return nil, invalid("key", "must match [a-zA-Z0-9_] and be at most 64 characters")
	}
	if in.FieldType == "" {
		in.FieldType = variable.TypeText
	}
	if err := variable.Validate(in.FieldType, in.Value, in.Options); err != nil {
		return nil, invalid(key, "%s", err.Error())
	}
	if err := variable.ValidateCurrency(in.Currency); err != nil {
		return nil, invalid(key, "%s", err.Error())
	}
	if !variable.ValidSummaryField(in.SummaryField) {
		return nil, invalid(key, "unknown summary field %q", in.SummaryField)
	}

	var v model.Variable
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, err := lockDocument(tx, documentID)
		if err != nil {
			return err
		}
		if err := s.perms.requireUse(tx, doc, actor); err != nil {
			return err
		}
		if !doc.State.Editable() {
			return conflict(doc.State, "variables cannot change")
		}

		err = tx.Where("document_id = ? AND variable_key = ?", documentID, key).First(&v).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		v.DocumentID = documentID
		v.Key = key
		v.FieldType = string(in.FieldType)
		v.Value = in.Value
		v.Options = in.Options
		v.Currency = in.Currency
		v.SummaryField = in.SummaryField
		if err := tx.Save(&v).Error; err != nil {
			return err
		}
		return s.activity.record(ctx, tx, actor.ID, "set_variable", documentID, map[string]interface{}{
			"key":        key,
			"field_type": in.FieldType,
		})
	})
	if err != nil {
		return nil, err
	}
	out := view(v)
	s.activity.publish(ctx, documentID, "variable_set", out)
	return &out, nil
}

func (s *VariableService) Delete(ctx context.Context, documentID uint, actor *model.User, key string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, err := lockDocument(tx, documentID)
		if err != nil {
			return err
		}
		if err := s.perms.requireUse(tx, doc, actor); err != nil {
			return err
		}
		if !doc.State.Editable() {
			return conflict(doc.State, "variables cannot change")
		}
		res := tx.Where("document_id = ? AND variable_key = ?", documentID, key).Delete(&model.Variable{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return notFound("variable")
		}
		return s.activity.record(ctx, tx, actor.ID, "delete_variable", documentID, map[string]interface{}{"key": key})
	})
	if err != nil {
		return err
	}
	s.activity.publish(ctx, documentID, "variable_deleted", map[string]interface{}{"key": key})
	return nil
}

// RenderedContent is the substituted template handed to the export pipeline.
type RenderedContent struct {
	DocumentID uint     `json:"document_id"`
	Content    string   `json:"content"`
	Missing    []string `json:"missing"`
}

// RenderContent substitutes {{key}} placeholders with raw variable values.
func (s *VariableService) RenderContent(ctx context.Context, documentID uint, actor *model.User) (*RenderedContent, error) {
	db := s.db.WithContext(ctx)
	doc, err := loadDocument(db, documentID)
	if err != nil {
		return nil, err
	}
	if err := s.perms.requireView(db, doc, actor); err != nil {
		return nil, err
	}
	var vars []model.Variable
	if err := db.Where("document_id = ?", documentID).Find(&vars).Error; err != nil {
		return nil, err
	}
	values := make(map[string]string, len(vars))
	for _, v := range vars {
		values[v.Key] = v.Value
	}

	missing := []string{}
	for _, k := range variable.Placeholders(doc.Content) {
		if _, ok := values[k]; !ok {
			missing = append(missing, k)
		}
	}
	return &RenderedContent{
		DocumentID: doc.ID,
		Content:    variable.Substitute(doc.Content, values),
		Missing:    missing,
	}, nil
}
