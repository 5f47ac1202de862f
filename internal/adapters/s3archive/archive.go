// Package s3archive stores finished games as PGN objects in an S3-compatible
// bucket.
package s3archive

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/randomtoy/chess-arena/internal/domain/match"
	"github.com/randomtoy/chess-arena/internal/ports"
)

const contentType = "application/x-chess-pgn"

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archive writes one object per match under matches/YYYY/MM/DD/<id>.pgn.
type Archive struct {
	client objectPutter
	bucket string
}

var _ ports.Archiver = (*Archive)(nil)

// New loads AWS configuration from the environment. A non-empty endpoint
// selects an S3-compatible service (MinIO, R2) with path-style addressing.
func New(ctx context.Context, bucket, endpoint string) (*Archive, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithClient(client, bucket), nil
}

func NewWithClient(client objectPutter, bucket string) *Archive {
	return &Archive{client: client, bucket: bucket}
}

func (a *Archive) Archive(ctx context.Context, m *match.Match, pgn string) error {
	meta := map[string]string{
		"match-id":        m.ID.String(),
		"engine-strength": strconv.Itoa(m.EngineStrength),
		"moves":           strconv.Itoa(m.MoveCount),
	}
	if m.Winner != nil {
		meta["winner"] = string(*m.Winner)
	}
	if m.Model != "" {
		meta["model"] = m.Model
	}

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(Key(m)),
		Body:        strings.NewReader(pgn),
		ContentType: aws.String(contentType),
		Metadata:    meta,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", Key(m), err)
	}
	return nil
}

// Key is the object key for m, partitioned by completion date.
func Key(m *match.Match) string {
	at := m.CreatedAt
	if m.CompletedAt != nil {
		at = *m.CompletedAt
	}
	return fmt.Sprintf("matches/%s/%s.pgn", at.UTC().Format("2006/01/02"), m.ID)
}
