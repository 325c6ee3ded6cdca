package s3archive

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/RentFox/internal/pkg/env"
)

type fakePutter struct {
	inputs []*s3.PutObjectInput
	bodies []string
	err    error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.inputs = append(f.inputs, in)
	b, _ := io.ReadAll(in.Body)
	f.bodies = append(f.bodies, string(b))
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestObjectKey(t *testing.T) {
	at := time.Date(2026, 2, 3, 23, 30, 0, 0, time.FixedZone("CET", 3600))

	cfg := &Config{Prefix: "webhooks"}
	assert.Equal(t, "webhooks/stripe/2026/02/03/evt_123.json", cfg.ObjectKey("stripe", "evt_123", at))

	bare := &Config{}
	assert.Equal(t, "stripe/2026/02/03/hash_ab_.json", bare.ObjectKey("stripe", "hash:ab/", at))
}

func TestLoadConfig(t *testing.T) {
	env.Env = map[string]string{"WEBHOOK_ARCHIVE_ENABLED": "true", "S3_ACCESS_KEY_ID": "id"}
	t.Cleanup(func() { env.Env = nil })

	_, err := LoadConfig()
	assert.Error(t, err)

	env.Env["S3_SECRET_ACCESS_KEY"] = "secret"
	env.Env["S3_BUCKET_NAME"] = "rentfox-archive"
	env.Env["S3_ARCHIVE_PREFIX"] = "/events/"
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.IsEnabled())
	assert.Equal(t, "events", cfg.Prefix)
}

func TestArchiveEvent(t *testing.T) {
	api := &fakePutter{}
	c := newClient(api, &Config{BucketName: "rentfox-archive", Prefix: "webhooks"})
	c.now = func() time.Time { return time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC) }

	err := c.ArchiveEvent(context.Background(), "stripe", "evt_1", "invoice.paid", []byte(`{"id":"evt_1"}`))
	require.NoError(t, err)

	require.Len(t, api.inputs, 1)
	in := api.inputs[0]
	assert.Equal(t, "rentfox-archive", aws.ToString(in.Bucket))
	assert.Equal(t, "webhooks/stripe/2026/01/15/evt_1.json", aws.ToString(in.Key))
	assert.Equal(t, "invoice.paid", in.Metadata["event-type"])
	assert.Equal(t, `{"id":"evt_1"}`, api.bodies[0])

	api.err = errors.New("access denied")
	assert.Error(t, c.ArchiveEvent(context.Background(), "stripe", "evt_2", "invoice.paid", []byte(`{}`)))
}

func TestNewClientDisabled(t *testing.T) {
	_, err := NewClient(context.Background(), &Config{})
	assert.Error(t, err)
}
