package artifact

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectGetter is the subset of the S3 client used to download bundles.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ParseS3URL splits s3://bucket/key into its parts.
func ParseS3URL(raw string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(raw, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 url: %s", raw)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("missing bucket in %s", raw)
	}
	return bucket, key, nil
}

// Fetch downloads a zipped artifacts bundle from S3 and extracts it into dest.
func Fetch(ctx context.Context, client ObjectGetter, bucket, key, dest string) error {
	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return fmt.Errorf("failed to download s3://%s/%s: %w", bucket, key, err)
	}
	defer result.Body.Close()

	bundle, err := os.CreateTemp("", "artifacts-*.zip")
	if err != nil {
		return err
	}
	defer os.Remove(bundle.Name())
	defer bundle.Close()
	if _, err := io.Copy(bundle, result.Body); err != nil {
		return err
	}
	if err := bundle.Close(); err != nil {
		return err
	}
	return unzip(bundle.Name(), dest)
}

// unzip extracts the contents of the archive to the destination directory.
func unzip(archivePath, destDir string) error {
	archive, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer archive.Close()
	root := filepath.Clean(destDir) + string(os.PathSeparator)
	for _, item := range archive.File {
		if item.Mode().IsDir() {
			continue
		}
		name := filepath.Join(destDir, item.Name)
		if !strings.HasPrefix(name, root) {
			return fmt.Errorf("illegal path in bundle: %s", item.Name)
		}
		if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
			return err
		}
		if err := extractFile(item, name); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(item *zip.File, name string) error {
	reader, err := item.Open()
	if err != nil {
		return err
	}
	defer reader.Close()
	writer, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer writer.Close()
	if _, err := io.Copy(writer, reader); err != nil {
		return err
	}
	return writer.Close()
}
