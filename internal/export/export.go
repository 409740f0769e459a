// Package export produces the administrator database snapshot.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/AnshRaj112/safemobile-backend/internal/audit"
	"github.com/AnshRaj112/safemobile-backend/internal/models"
	"github.com/AnshRaj112/safemobile-backend/internal/store"
	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

var ErrForbidden = errors.New("administrator role required")

// auditPageSize bounds how much of the trail goes into one export.
const auditPageSize = 10000

// Document is the exported snapshot. Password hashes are never included.
type Document struct {
	GeneratedAt time.Time          `json:"generated_at"`
	GeneratedBy string             `json:"generated_by"`
	Users       []*models.User     `json:"users"`
	Devices     []*models.Device   `json:"devices"`
	AuditLogs   []*models.AuditLog `json:"audit_logs"`
}

type Result struct {
	Data []byte
	// URL is set when the snapshot was uploaded.
	URL string
}

// Uploader stores a finished snapshot somewhere durable and returns its URL.
type Uploader interface {
	UploadRaw(ctx context.Context, name string, data []byte) (string, error)
}

type Exporter struct {
	store    store.Store
	audit    *audit.Logger
	uploader Uploader
	now      func() time.Time
}

// NewExporter accepts a nil uploader; snapshots are then only returned to the caller.
func NewExporter(s store.Store, a *audit.Logger, up Uploader) *Exporter {
	return &Exporter{store: s, audit: a, uploader: up, now: func() time.Time { return time.Now().UTC() }}
}

func (e *Exporter) Export(ctx context.Context, actor models.Actor) (*Result, error) {
	admin, err := e.store.GetUser(ctx, actor.ID)
	if err != nil || admin.Blocked || !admin.Role.IsAdmin() {
		return nil, ErrForbidden
	}

	users, err := e.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("export users: %w", err)
	}
	for _, u := range users {
		u.PasswordHash = ""
	}
	devices, err := e.store.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("export devices: %w", err)
	}
	logs, err := e.audit.List(ctx, auditPageSize, 0)
	if err != nil {
		return nil, fmt.Errorf("export audit logs: %w", err)
	}

	doc := Document{
		GeneratedAt: e.now(),
		GeneratedBy: admin.Email,
		Users:       users,
		Devices:     devices,
		AuditLogs:   logs,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}

	res := &Result{Data: data}
	if e.uploader != nil {
		name := fmt.Sprintf("safemobile-export-%s", doc.GeneratedAt.Format("20060102-150405"))
		url, err := e.uploader.UploadRaw(ctx, name, data)
		if err != nil {
			// The caller still gets the document inline.
			log.Printf("export: upload failed: %v", err)
		} else {
			res.URL = url
		}
	}

	details := fmt.Sprintf("%d users, %d devices, %d audit entries", len(users), len(devices), len(logs))
	if res.URL != "" {
		details += " uploaded to " + res.URL
	}
	e.audit.Log(ctx, audit.Entry{
		ActorID: admin.ID, ActorEmail: admin.Email, Action: models.ActionDBExport,
		Details: details, Severity: models.SeverityHigh,
	})
	return res, nil
}

// CloudinaryUploader stores snapshots as raw assets.
type CloudinaryUploader struct {
	cld    *cloudinary.Cloudinary
	folder string
}

func NewCloudinaryUploader(cloudName, apiKey, apiSecret, folder string) (*CloudinaryUploader, error) {
	cld, err := cloudinary.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Cloudinary: %w", err)
	}
	return &CloudinaryUploader{cld: cld, folder: folder}, nil
}

func (c *CloudinaryUploader) UploadRaw(ctx context.Context, name string, data []byte) (string, error) {
	res, err := c.cld.Upload.Upload(ctx, bytes.NewReader(data), uploader.UploadParams{
		Folder:       c.folder,
		PublicID:     name + ".json",
		ResourceType: "raw",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to Cloudinary: %w", err)
	}
	if res.Error.Message != "" {
		return "", fmt.Errorf("cloudinary: %s", res.Error.Message)
	}
	return res.SecureURL, nil
}
