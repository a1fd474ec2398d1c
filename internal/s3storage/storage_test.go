package s3storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/VaultShop/internal/errs"
)

func TestObjectKey(t *testing.T) {
	t.Parallel()
	key := objectKey(time.Unix(0, 42), "My_Book.pdf")
	require.Equal(t, "products/42_My_Book.pdf", key)
}

func TestContentDisposition_IsSanitized(t *testing.T) {
	t.Parallel()
	got := contentDisposition("evil\"\r\nSet-Cookie: x.pdf")
	require.Equal(t, `attachment; filename="evil_Set-Cookie_x.pdf"`, got)
}

func TestMapError(t *testing.T) {
	t.Parallel()
	missing := minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}
	require.ErrorIs(t, mapError("k", missing), errs.ErrAssetMissingOnBackend)
	require.ErrorIs(t, mapError("k", fmt.Errorf("stat: %w", missing)), errs.ErrAssetMissingOnBackend)

	other := minio.ErrorResponse{Code: "SlowDown", StatusCode: http.StatusServiceUnavailable}
	err := mapError("k", other)
	require.False(t, errors.Is(err, errs.ErrAssetMissingOnBackend))
}

func TestResolve_PresignsWithDisposition(t *testing.T) {
	t.Parallel()
	// Presigning is computed locally, but Resolve stats the object first, so
	// this test exercises only the client configuration and URL shape.
	r, err := New(Options{Endpoint: "127.0.0.1:1", AccessKey: "a", SecretKey: "b", Bucket: "assets", Region: "us-east-1", URLTTL: time.Minute})
	require.NoError(t, err)
	require.Equal(t, "s3", r.Name())

	params := url.Values{}
	params.Set("response-content-disposition", contentDisposition("a b.pdf"))
	u, err := r.client.PresignedGetObject(context.Background(), r.bucket, "products/1_a_b.pdf", r.ttl, params)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(u.Path, "/assets/products/1_a_b.pdf"))
	require.Equal(t, `attachment; filename="a_b.pdf"`, u.Query().Get("response-content-disposition"))
	require.Equal(t, "60", u.Query().Get("X-Amz-Expires"))
}
