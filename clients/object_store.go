package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/badespider/videoeditor-sub000/config"
	"github.com/badespider/videoeditor-sub000/log"
)

// ObjectStore wraps the S3-compatible store holding source videos, user
// scripts and rendered outputs.
type ObjectStore struct {
	client         *minio.Client
	endpoint       string
	publicEndpoint string
	secure         bool

	BucketVideos string
	BucketAudio  string
	BucketOutput string
}

func NewObjectStore(cli *config.Cli) (*ObjectStore, error) {
	// AWS-style endpoints need the region parsed out of the hostname
	var region string
	if strings.Contains(cli.StoreEndpoint, "amazonaws.com") {
		parts := strings.Split(cli.StoreEndpoint, ".")
		if len(parts) >= 3 && parts[0] == "s3" {
			region = parts[1]
		}
	}

	client, err := minio.New(cli.StoreEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cli.StoreAccessKey, cli.StoreSecretKey, ""),
		Secure: cli.StoreSecure,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	return &ObjectStore{
		client:         client,
		endpoint:       cli.StoreEndpoint,
		publicEndpoint: cli.StorePublicEndpoint,
		secure:         cli.StoreSecure,
		BucketVideos:   cli.BucketVideos,
		BucketAudio:    cli.BucketAudio,
		BucketOutput:   cli.BucketOutput,
	}, nil
}

// EnsureBuckets creates missing buckets and marks the output bucket publicly
// readable so rendered recaps can be played directly.
func (o *ObjectStore) EnsureBuckets(ctx context.Context) error {
	seen := map[string]bool{}
	for _, bucket := range []string{o.BucketVideos, o.BucketAudio, o.BucketOutput} {
		if seen[bucket] {
			continue
		}
		seen[bucket] = true
		exists, err := o.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("failed to check bucket %q: %w", bucket, err)
		}
		if !exists {
			if err := o.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
				return fmt.Errorf("failed to create bucket %q: %w", bucket, err)
			}
			log.LogNoJobID("created bucket", "bucket", bucket)
		}
	}

	policy := map[string]any{
		"Version": "2012-10-17",
		"Statement": []map[string]any{{
			"Effect":    "Allow",
			"Principal": map[string]any{"AWS": []string{"*"}},
			"Action":    []string{"s3:GetObject"},
			"Resource":  []string{fmt.Sprintf("arn:aws:s3:::%s/*", o.BucketOutput)},
		}},
	}
	policyJSON, err := json.Marshal(policy)
	if err != nil {
		return err
	}
	if err := o.client.SetBucketPolicy(ctx, o.BucketOutput, string(policyJSON)); err != nil {
		// policy may already be set by the operator; storage still works
		log.LogNoJobID("could not set output bucket policy", "bucket", o.BucketOutput, "err", err)
	}
	return nil
}

func (o *ObjectStore) UploadFile(ctx context.Context, bucket, objectName, filePath string) error {
	contentType := guessContentType(filePath)
	_, err := o.client.FPutObject(ctx, bucket, objectName, filePath, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to upload %q to %s/%s: %w", filePath, bucket, objectName, err)
	}
	return nil
}

func (o *ObjectStore) DownloadFile(ctx context.Context, bucket, objectName, filePath string) error {
	if err := o.client.FGetObject(ctx, bucket, objectName, filePath, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("failed to download %s/%s: %w", bucket, objectName, err)
	}
	return nil
}

// PresignedURL issues a time-limited GET URL, rewriting the internal
// endpoint to the public one so links work from a browser.
func (o *ObjectStore) PresignedURL(ctx context.Context, bucket, objectName string, expires time.Duration) (string, error) {
	u, err := o.client.PresignedGetObject(ctx, bucket, objectName, expires, nil)
	if err != nil {
		return "", fmt.Errorf("failed to presign %s/%s: %w", bucket, objectName, err)
	}
	url := u.String()
	if o.publicEndpoint != "" && o.publicEndpoint != o.endpoint {
		url = strings.Replace(url, "://"+o.endpoint, "://"+o.publicEndpoint, 1)
	}
	return url, nil
}

func (o *ObjectStore) DeleteObject(ctx context.Context, bucket, objectName string) error {
	return o.client.RemoveObject(ctx, bucket, objectName, minio.RemoveObjectOptions{})
}

func (o *ObjectStore) ObjectExists(ctx context.Context, bucket, objectName string) (bool, error) {
	_, err := o.client.StatObject(ctx, bucket, objectName, minio.StatObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NoSuchBucket" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Script helpers. User narration scripts live in the videos bucket next to
// their source video under {job_id}/script.txt.

func ScriptObjectName(jobID string) string {
	return jobID + "/script.txt"
}

func (o *ObjectStore) UploadScript(ctx context.Context, jobID string, content []byte) error {
	_, err := o.client.PutObject(ctx, o.BucketVideos, ScriptObjectName(jobID), bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{ContentType: "text/plain"})
	return err
}

// DownloadScript returns ("", false, nil) when the job has no script object.
func (o *ObjectStore) DownloadScript(ctx context.Context, jobID string) (string, bool, error) {
	obj, err := o.client.GetObject(ctx, o.BucketVideos, ScriptObjectName(jobID), minio.GetObjectOptions{})
	if err != nil {
		return "", false, err
	}
	defer obj.Close()
	content, err := io.ReadAll(obj)
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" {
			return "", false, nil
		}
		return "", false, err
	}
	return string(content), true, nil
}

func (o *ObjectStore) ScriptExists(ctx context.Context, jobID string) (bool, error) {
	return o.ObjectExists(ctx, o.BucketVideos, ScriptObjectName(jobID))
}

func guessContentType(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	case ".avi":
		return "video/x-msvideo"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".m4a":
		return "audio/mp4"
	case ".json":
		return "application/json"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
