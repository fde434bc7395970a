package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateStorageClass(t *testing.T) {
	tests := []struct {
		name         string
		storageClass string
		wantErr      bool
		errContains  string
	}{
		{
			name:         "STANDARD is accessible",
			storageClass: "STANDARD",
			wantErr:      false,
		},
		{
			name:         "STANDARD_IA is accessible",
			storageClass: "STANDARD_IA",
			wantErr:      false,
		},
		{
			name:         "INTELLIGENT_TIERING is accessible",
			storageClass: "INTELLIGENT_TIERING",
			wantErr:      false,
		},
		{
			name:         "GLACIER is not accessible",
			storageClass: "GLACIER",
			wantErr:      true,
			errContains:  "not immediately accessible",
		},
		{
			name:         "DEEP_ARCHIVE is not accessible",
			storageClass: "DEEP_ARCHIVE",
			wantErr:      true,
			errContains:  "not immediately accessible",
		},
		{
			name:         "empty string is accessible",
			storageClass: "",
			wantErr:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStorageClass(tt.storageClass)

			if tt.wantErr {
				assert.Error(t, err)
				if tt.errContains != "" {
					assert.Contains(t, err.Error(), tt.errContains)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSlotTag(t *testing.T) {
	assert.Equal(t, "backup-slot=primary", slotTag(""))
	assert.Equal(t, "backup-slot=weekly", slotTag("weekly"))
}

func TestCopySource(t *testing.T) {
	assert.Equal(t, "bucket/prefix/latest/shop_2024-01-02_00h00m.tgz", copySource("bucket", "prefix/latest/shop_2024-01-02_00h00m.tgz"))
	assert.Equal(t, "bucket/my%20prefix/a+b.tgz", copySource("bucket", "my prefix/a+b.tgz"))
}

func TestKeyAndURI(t *testing.T) {
	s := &S3{bucket: "backups", prefix: "mongo/prod"}

	assert.Equal(t, "mongo/prod/daily/a.tgz", s.key("daily/a.tgz"))
	assert.Equal(t, "s3://backups/mongo/prod/daily/a.tgz", s.URI("daily/a.tgz"))

	bare := &S3{bucket: "backups"}
	assert.Equal(t, "a.tgz", bare.key("a.tgz"))
	assert.Equal(t, "s3://backups/a.tgz", bare.URI("a.tgz"))
}
