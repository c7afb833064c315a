package backup

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/tallyworks/tally/internal/config"
	"github.com/tallyworks/tally/internal/types"
)

type mockS3 struct {
	putBucket string
	putObject string
	putData   []byte
	putErr    error

	getObject string
	getExpiry time.Duration
}

func (m *mockS3) PutObject(_ context.Context, bucket, objectName string, data []byte) error {
	m.putBucket, m.putObject, m.putData = bucket, objectName, data
	return m.putErr
}

func (m *mockS3) PresignedGet(_ context.Context, _, objectName string, expiry time.Duration) (string, error) {
	m.getObject, m.getExpiry = objectName, expiry
	return "https://s3.example.com/signed", nil
}

func TestS3Uploader_UploadWritesCurrentObject(t *testing.T) {
	mock := &mockS3{}
	u := &S3Uploader{client: mock, bucket: "tally-backups", prefix: "tally", urlExpiry: 15 * time.Minute}

	snap := types.Snapshot{
		State:      types.Tree{Inventory: types.InventoryState{Items: map[string]types.Item{"123": {JanCode: "123", Qty: 4}}}},
		LastAction: &types.Cursor{ID: "cur", Timestamp: types.Timestamp{Seconds: 9}},
	}
	if err := u.Upload(context.Background(), snap); err != nil {
		t.Fatal(err)
	}

	if mock.putBucket != "tally-backups" {
		t.Errorf("bucket = %q", mock.putBucket)
	}
	if mock.putObject != "tally/snapshot/current.json" {
		t.Errorf("object key = %q", mock.putObject)
	}

	var round types.Snapshot
	if err := json.Unmarshal(mock.putData, &round); err != nil {
		t.Fatalf("uploaded body is not valid JSON: %v", err)
	}
	if round.State.Inventory.Items["123"].Qty != 4 || round.LastAction.ID != "cur" {
		t.Errorf("uploaded snapshot lost data: %+v", round)
	}
}

func TestS3Uploader_UploadError(t *testing.T) {
	mock := &mockS3{putErr: errors.New("access denied")}
	u := &S3Uploader{client: mock, bucket: "b", prefix: "p"}

	if err := u.Upload(context.Background(), types.Snapshot{}); err == nil {
		t.Error("put failure not surfaced")
	}
}

func TestS3Uploader_PresignedURL(t *testing.T) {
	mock := &mockS3{}
	u := &S3Uploader{client: mock, bucket: "b", prefix: "tally", urlExpiry: 15 * time.Minute}

	url, expiry, err := u.PresignedURL(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if url != "https://s3.example.com/signed" {
		t.Errorf("url = %q", url)
	}
	if mock.getObject != "tally/snapshot/current.json" || mock.getExpiry != 15*time.Minute {
		t.Errorf("presign args = %q, %v", mock.getObject, mock.getExpiry)
	}
	if time.Until(expiry) > 15*time.Minute {
		t.Errorf("expiry too far out: %v", expiry)
	}
}

func TestNewUploader_NoopWithoutBucket(t *testing.T) {
	u, err := NewUploader(config.BackupConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := u.(*NoopUploader); !ok {
		t.Fatalf("uploader = %T, want NoopUploader", u)
	}

	if err := u.Upload(context.Background(), types.Snapshot{}); err != nil {
		t.Errorf("noop upload: %v", err)
	}
	if _, _, err := u.PresignedURL(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("noop presign = %v, want ErrNotConfigured", err)
	}
}

func TestNewUploader_S3WhenBucketSet(t *testing.T) {
	u, err := NewUploader(config.BackupConfig{
		Endpoint:  "s3.example.com",
		Bucket:    "tally-backups",
		Prefix:    "tally",
		AccessKey: "ak",
		SecretKey: "sk",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := u.(*S3Uploader); !ok {
		t.Fatalf("uploader = %T, want S3Uploader", u)
	}
}
