package submission

import (
	"context"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"field-service-reports/internal/domain"
)

// uploadMedia uploads photos, then signatures, one at a time. A failed item is logged and left
// out of the returned references; it never stops the rest.
func uploadMedia(ctx context.Context, backend Backend, rec domain.LocalReport) (refs []domain.MediaRef, skipped []string) {
	refs = make([]domain.MediaRef, 0, len(rec.Photos)+len(rec.Signatures))

	upload := func(m domain.MediaUpload, fieldID, unitID string) {
		url, err := backend.UploadMedia(ctx, m)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"job_id":   m.JobID,
				"media_id": m.MediaID,
				"kind":     m.Kind,
			}).Warn("media upload failed, skipping")
			skipped = append(skipped, m.MediaID)
			return
		}
		refs = append(refs, domain.MediaRef{MediaID: m.MediaID, Kind: m.Kind, FieldID: fieldID, UnitID: unitID, URL: url})
	}

	for _, p := range rec.Photos {
		upload(domain.MediaUpload{
			JobID:       rec.JobID,
			MediaID:     mediaID(p.ID),
			Kind:        domain.MediaPhoto,
			FileName:    fileName(p.FileName, "photo.jpg"),
			ContentType: p.ContentType,
			Data:        p.Data,
		}, p.FieldID, p.UnitID)
	}
	for _, s := range rec.Signatures {
		upload(domain.MediaUpload{
			JobID:       rec.JobID,
			MediaID:     mediaID(s.ID),
			Kind:        domain.MediaSignature,
			FileName:    fileName(s.FileName, "signature.png"),
			ContentType: s.ContentType,
			Data:        s.Data,
		}, s.FieldID, "")
	}
	return refs, skipped
}

func mediaID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

func fileName(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}
