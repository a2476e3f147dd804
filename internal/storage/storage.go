// Package storage uploads synthesized audio to S3-compatible object storage.
//
// The text-to-speech HTTP endpoint produces a complete WAV or MP3 file per
// request; the [Uploader] puts it under a per-device key and returns the
// public URL the device fetches it from. Retained objects live under
// text_to_speech/, throwaway ones under text_to_speech_temp/ where a bucket
// lifecycle rule expires them.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	retainPrefix = "text_to_speech"
	tempPrefix   = "text_to_speech_temp"
)

// ObjectPutter is the slice of the S3 client the uploader needs. *s3.Client
// satisfies it; tests substitute a recording fake.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewClient builds an S3 client for the given region and optional custom
// endpoint (MinIO and friends need path-style addressing). Credentials come
// from the standard AWS environment variables; absent ones leave the client
// anonymous, which suffices for IAM-role setups where the SDK default chain
// is configured externally.
func NewClient(region, endpoint string) *s3.Client {
	opts := s3.Options{
		Region:      region,
		Credentials: envCredentials(),
	}
	if endpoint != "" {
		opts.BaseEndpoint = aws.String(endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts)
}

// envCredentials resolves static credentials from AWS_ACCESS_KEY_ID and
// AWS_SECRET_ACCESS_KEY.
func envCredentials() aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		id := os.Getenv("AWS_ACCESS_KEY_ID")
		secret := os.Getenv("AWS_SECRET_ACCESS_KEY")
		if id == "" || secret == "" {
			return aws.Credentials{}, fmt.Errorf("storage: AWS credentials not set in environment")
		}
		return aws.Credentials{
			AccessKeyID:     id,
			SecretAccessKey: secret,
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
			Source:          "voxgate environment",
		}, nil
	})
}

// Option is a functional option for configuring the Uploader.
type Option func(*Uploader)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(u *Uploader) { u.logger = logger }
}

// Uploader puts synthesized audio files into a bucket and derives their
// public URLs.
type Uploader struct {
	client  ObjectPutter
	bucket  string
	baseURL string
	logger  *slog.Logger
}

// NewUploader creates an Uploader. bucket and publicBaseURL must be non-empty.
func NewUploader(client ObjectPutter, bucket, publicBaseURL string, opts ...Option) (*Uploader, error) {
	if client == nil {
		return nil, fmt.Errorf("storage: client must not be nil")
	}
	if bucket == "" || publicBaseURL == "" {
		return nil, fmt.Errorf("storage: bucket and publicBaseURL must not be empty")
	}
	u := &Uploader{
		client:  client,
		bucket:  bucket,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
	}
	for _, o := range opts {
		o(u)
	}
	if u.logger == nil {
		u.logger = slog.Default()
	}
	return u, nil
}

// UploadSpeech puts one audio file for the given device and returns its
// public URL. The object key is {prefix}/{uid}.{ext}; an upload for the same
// uid overwrites the previous one.
func (u *Uploader) UploadSpeech(ctx context.Context, uid string, data []byte, contentType string, retain bool) (string, error) {
	if uid == "" {
		return "", fmt.Errorf("storage: uid must not be empty")
	}
	if len(data) == 0 {
		return "", fmt.Errorf("storage: no audio data for %q", uid)
	}

	key := SpeechKey(uid, contentType, retain)
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("storage: put %s: %w", key, err)
	}

	url := u.baseURL + "/" + key
	u.logger.Info("speech audio uploaded",
		"uid", uid, "key", key, "bytes", len(data), "retain", retain)
	return url, nil
}

// SpeechKey derives the object key for a device's synthesized audio.
func SpeechKey(uid, contentType string, retain bool) string {
	prefix := tempPrefix
	if retain {
		prefix = retainPrefix
	}
	return prefix + "/" + uid + "." + extFor(contentType)
}

// extFor maps an audio MIME type to a file extension. Unknown types keep the
// raw bytes recognisable as binary.
func extFor(contentType string) string {
	switch contentType {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav"
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/ogg":
		return "ogg"
	default:
		return "bin"
	}
}
