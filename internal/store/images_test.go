package store

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shelfware/shelfsyncgo/internal/config"
	"github.com/shelfware/shelfsyncgo/internal/database"
	"github.com/shelfware/shelfsyncgo/internal/models"
	"github.com/shelfware/shelfsyncgo/internal/notify"
	"github.com/shelfware/shelfsyncgo/internal/syncerr"
	"github.com/shelfware/shelfsyncgo/internal/utils"
)

func makeJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestStageImageSetsPlaceholderAndDownscales(t *testing.T) {
	s := newTestStore(t)
	rec, _ := createItem(t, s, map[string]interface{}{"name": "Drill"})

	blob, err := s.StageImage(makeJPEG(t, 400, 100), "drill.jpg", models.EntityTypeItem, rec.GetID())
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if blob.UploadStatus != models.UploadStatusPending {
		t.Errorf("status %s", blob.UploadStatus)
	}
	if !strings.HasPrefix(blob.PlaceholderURL, PlaceholderScheme) {
		t.Errorf("placeholder %q", blob.PlaceholderURL)
	}

	owner, ownerID, ok := blob.OwnerEntity()
	if !ok || owner != models.EntityTypeItem || ownerID != rec.GetID() {
		t.Errorf("owner %v %v %v", owner, ownerID, ok)
	}

	mirror, err := s.Get(models.EntityTypeItem, rec.GetID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if mirror.GetPhotoURL() != blob.PlaceholderURL {
		t.Errorf("photo url %q, want placeholder", mirror.GetPhotoURL())
	}

	// 400x100 against a 200px cap lands at 200x50.
	img, err := jpeg.Decode(bytes.NewReader(blob.Data))
	if err != nil {
		t.Fatalf("decode stored: %v", err)
	}
	if img.Bounds().Dx() != 200 || img.Bounds().Dy() != 50 {
		t.Errorf("stored bounds %v, want 200x50", img.Bounds())
	}
}

func TestStageImageRejectsGarbage(t *testing.T) {
	s := newTestStore(t)
	rec, _ := createItem(t, s, map[string]interface{}{"name": "Drill"})

	if _, err := s.StageImage([]byte("not an image"), "x.jpg", models.EntityTypeItem, rec.GetID()); !syncerr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := s.StageImage(nil, "x.jpg", models.EntityTypeItem, rec.GetID()); !syncerr.IsValidation(err) {
		t.Fatalf("expected validation error for empty payload, got %v", err)
	}
}

func TestCompleteImageUploadRewritesOwner(t *testing.T) {
	s := newTestStore(t)
	rec, _ := createItem(t, s, map[string]interface{}{"name": "Drill"})

	blob, err := s.StageImage(makeJPEG(t, 100, 100), "drill.jpg", models.EntityTypeItem, rec.GetID())
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if err := s.MarkImageUploading(blob.ID); err != nil {
		t.Fatalf("uploading: %v", err)
	}

	remoteURL := "https://cdn.example.com/images/drill.jpg"
	if err := s.CompleteImageUpload(blob, remoteURL); err != nil {
		t.Fatalf("complete: %v", err)
	}

	stored, err := s.GetImage(blob.ID)
	if err != nil {
		t.Fatalf("get blob: %v", err)
	}
	if stored.UploadStatus != models.UploadStatusUploaded || stored.RemoteURL == nil || *stored.RemoteURL != remoteURL {
		t.Errorf("blob %+v", stored)
	}

	mirror, _ := s.Get(models.EntityTypeItem, rec.GetID())
	if mirror.GetPhotoURL() != remoteURL {
		t.Errorf("owner photo %q", mirror.GetPhotoURL())
	}

	// The rewrite queues a corrective UPDATE that carries the URL remotely.
	events, err := s.ListEvents(models.EntityTypeItem, models.EventStatusPending, 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	var found bool
	for _, ev := range events {
		var payload map[string]interface{}
		if json.Unmarshal(ev.Data, &payload) == nil && payload["photo_url"] == remoteURL {
			found = true
		}
	}
	if !found {
		t.Error("no corrective photo_url event queued")
	}
}

func TestNextImageBatchBackoff(t *testing.T) {
	s := newTestStore(t)
	rec, _ := createItem(t, s, map[string]interface{}{"name": "Drill"})

	blob, err := s.StageImage(makeJPEG(t, 50, 50), "a.jpg", models.EntityTypeItem, rec.GetID())
	if err != nil {
		t.Fatalf("stage: %v", err)
	}

	future := time.Now().UTC().Add(time.Hour)
	if err := s.MarkImageUploading(blob.ID); err != nil {
		t.Fatalf("uploading: %v", err)
	}
	if err := s.MarkImageFailed(blob.ID, "network down", &future); err != nil {
		t.Fatalf("failed: %v", err)
	}

	batch, err := s.NextImageBatch(10, 3, time.Now().UTC())
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(batch) != 0 {
		t.Fatalf("backoff window ignored, got %d blobs", len(batch))
	}

	batch, err = s.NextImageBatch(10, 3, future.Add(time.Minute))
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("expected blob after window, got %d", len(batch))
	}
}

func TestImageDataEncryptsAtRest(t *testing.T) {
	db, err := database.Connect(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cipher, err := utils.NewBlobCipher("6368616e676520746869732070617373776f726420746f206120736563726574")
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	s := New(db, notify.NewBus(), "device_test", ImagingOptions{MaxDimension: 200, JPEGQuality: 80}, cipher)
	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	rec, _ := createItem(t, s, map[string]interface{}{"name": "Drill"})

	blob, err := s.StageImage(makeJPEG(t, 50, 50), "a.jpg", models.EntityTypeItem, rec.GetID())
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if !blob.Encrypted {
		t.Fatal("blob not flagged encrypted")
	}
	if _, err := jpeg.Decode(bytes.NewReader(blob.Data)); err == nil {
		t.Error("stored payload decodes without the key")
	}

	plain, err := s.ImageData(blob)
	if err != nil {
		t.Fatalf("image data: %v", err)
	}
	if _, err := jpeg.Decode(bytes.NewReader(plain)); err != nil {
		t.Errorf("decrypted payload not a jpeg: %v", err)
	}
}
