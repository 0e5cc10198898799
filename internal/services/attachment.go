package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/diewo77/go-achats/gate"
	"github.com/diewo77/go-achats/internal/models"
	"github.com/diewo77/go-achats/internal/policy"
	"github.com/diewo77/go-achats/internal/storage"
	"github.com/diewo77/go-achats/internal/workflow"
	"github.com/diewo77/go-achats/validation"
)

var errNoBucket = fmt.Errorf("%w: attachments are disabled", ErrStorage)

// AttachmentService stores pièces justificatives of workflow entities.
type AttachmentService struct {
	Deps
	Bucket storage.Bucket
}

// NewAttachmentService creates the service.
func NewAttachmentService(d Deps, b storage.Bucket) *AttachmentService {
	return &AttachmentService{Deps: d, Bucket: b}
}

// UploadInput describes one uploaded file.
type UploadInput struct {
	Entity      string
	EntityID    uint
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// loadEntity returns the workflow row an attachment belongs to.
func loadEntity(db *gorm.DB, entity string, id uint) (any, error) {
	var row any
	switch entity {
	case workflow.EntityBesoin:
		row = &models.Besoin{}
	case workflow.EntityDemandeAchat:
		row = &models.DemandeAchat{}
	case workflow.EntityBonLivraison:
		row = &models.BonLivraison{}
	case workflow.EntityEcriture:
		row = &models.EcritureComptable{}
	case workflow.EntityCaisse:
		row = &models.Caisse{}
	default:
		return nil, invalid(validation.Violations{"entity": "invalid_choice"})
	}
	if err := db.First(row, id).Error; err != nil {
		return nil, dbErr(err)
	}
	return row, nil
}

// Upload writes the file to the bucket then records it. The object is removed
// again when the row cannot be written.
func (s *AttachmentService) Upload(ctx context.Context, in UploadInput) (*models.Attachment, error) {
	v := validation.Violations{}
	validation.Required("entity", in.Entity, v)
	validation.RequiredID("entity_id", in.EntityID, v)
	validation.Required("file", in.FileName, v)
	validation.MaxLen("file", in.FileName, 255, v)
	if err := invalid(v); err != nil {
		return nil, err
	}
	if s.Bucket == nil {
		return nil, errNoBucket
	}
	if err := s.authorize(ctx, gate.ActionCreate, policy.ResourceAttachment, nil); err != nil {
		return nil, err
	}
	row, err := loadEntity(s.DB.WithContext(ctx), in.Entity, in.EntityID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, gate.ActionView, in.Entity, row); err != nil {
		return nil, err
	}

	name := filepath.Base(strings.ReplaceAll(in.FileName, "\\", "/"))
	key := path.Join(in.Entity, fmt.Sprint(in.EntityID), uuid.NewString()+strings.ToLower(filepath.Ext(name)))
	if err := s.Bucket.Put(ctx, key, in.Body, in.Size, in.ContentType); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	a := models.Attachment{
		Entity:      in.Entity,
		EntityID:    in.EntityID,
		Key:         key,
		FileName:    name,
		ContentType: in.ContentType,
		Size:        in.Size,
		UploadedBy:  actor(ctx),
	}
	if err := s.DB.WithContext(ctx).Create(&a).Error; err != nil {
		if derr := s.Bucket.Delete(ctx, key); derr != nil {
			s.logger().Warn("orphan attachment object", zap.String("key", key), zap.Error(derr))
		}
		return nil, dbErr(err)
	}
	return &a, nil
}

// List returns the attachments of one entity.
func (s *AttachmentService) List(ctx context.Context, entity string, entityID uint) ([]models.Attachment, error) {
	row, err := loadEntity(s.DB.WithContext(ctx), entity, entityID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, gate.ActionView, entity, row); err != nil {
		return nil, err
	}
	var out []models.Attachment
	err = s.DB.WithContext(ctx).Where("entity = ? AND entity_id = ?", entity, entityID).Order("id").Find(&out).Error
	return out, err
}

// Open returns the attachment and a reader on its content. Callers close the reader.
func (s *AttachmentService) Open(ctx context.Context, id uint) (*models.Attachment, io.ReadCloser, error) {
	a, err := s.load(ctx, id, gate.ActionView)
	if err != nil {
		return nil, nil, err
	}
	if s.Bucket == nil {
		return nil, nil, errNoBucket
	}
	rc, err := s.Bucket.Get(ctx, a.Key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return a, rc, nil
}

// Delete removes the row and its object.
func (s *AttachmentService) Delete(ctx context.Context, id uint) error {
	a, err := s.load(ctx, id, gate.ActionDelete)
	if err != nil {
		return err
	}
	if err := s.DB.WithContext(ctx).Delete(a).Error; err != nil {
		return err
	}
	if s.Bucket == nil {
		return nil
	}
	if err := s.Bucket.Delete(ctx, a.Key); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

func (s *AttachmentService) load(ctx context.Context, id uint, action gate.Action) (*models.Attachment, error) {
	if err := s.authorize(ctx, action, policy.ResourceAttachment, nil); err != nil {
		return nil, err
	}
	var a models.Attachment
	if err := s.DB.WithContext(ctx).First(&a, id).Error; err != nil {
		return nil, dbErr(err)
	}
	row, err := loadEntity(s.DB.WithContext(ctx), a.Entity, a.EntityID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, gate.ActionView, a.Entity, row); err != nil {
		return nil, err
	}
	return &a, nil
}
