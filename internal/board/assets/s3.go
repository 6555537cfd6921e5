package assets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/gorilla/schema"
	log "github.com/sirupsen/logrus"
)

// S3Args are parsed from the query arguments of an s3:// asset store URL.
type S3Args struct {
	// AWS Profile to extract credentials from the shared credentials file.
	// If empty, the default credential chain is used.
	Profile string
	// Endpoint to connect to S3. If empty, the default S3 service is used.
	Endpoint string
	// Region is the region of the bucket.
	Region string
	// CacheControl applied to stored icons.
	CacheControl string
}

// S3 is an asset Store backed by an S3 bucket.
type S3 struct {
	bucket string
	prefix string
	args   S3Args
	client *s3.S3
}

// NewS3 creates an S3 store from an s3://bucket/prefix/?args URL.
func NewS3(ep *url.URL) (*S3, error) {
	var args S3Args
	if err := parseS3Args(ep, &args); err != nil {
		return nil, err
	}
	if ep.Host == "" {
		return nil, fmt.Errorf("s3 asset store url %q has no bucket", ep.String())
	}

	var awsConfig = aws.NewConfig()
	awsConfig.WithCredentialsChainVerboseErrors(true)

	if args.Region != "" {
		awsConfig.WithRegion(args.Region)
	}
	if args.Endpoint != "" {
		awsConfig.WithEndpoint(args.Endpoint)
		// Bucket-named virtual hosts don't work with explicit endpoints.
		awsConfig.WithS3ForcePathStyle(true)
	} else {
		awsConfig.WithHTTPClient(&http.Client{
			Transport: &http.Transport{DisableCompression: true},
		})
	}

	awsSession, err := session.NewSessionWithOptions(session.Options{
		Profile:           args.Profile,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("constructing S3 session: %s", err)
	}
	if args.Region == "" && (awsSession.Config.Region == nil || *awsSession.Config.Region == "") {
		return nil, fmt.Errorf("missing AWS region configuration for profile %q", args.Profile)
	}

	log.WithFields(log.Fields{
		"bucket":   ep.Host,
		"endpoint": args.Endpoint,
		"profile":  args.Profile,
		"region":   aws.StringValue(awsSession.Config.Region),
	}).Info("constructed S3 asset store")

	return newS3(s3.New(awsSession, awsConfig), ep.Host, strings.TrimPrefix(ep.Path, "/"), args), nil
}

func newS3(client *s3.S3, bucket, prefix string, args S3Args) *S3 {
	if args.CacheControl == "" {
		args.CacheControl = "max-age=31536000"
	}
	return &S3{bucket: bucket, prefix: prefix, args: args, client: client}
}

func (s *S3) key(key string) string {
	return s.prefix + key
}

// Put implements Store.Put.
func (s *S3) Put(ctx context.Context, key string, body io.ReadSeeker, contentType string) error {
	var putObj = s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(s.key(key)),
		Body:         body,
		ContentType:  aws.String(contentType),
		CacheControl: aws.String(s.args.CacheControl),
	}
	if _, err := s.client.PutObjectWithContext(ctx, &putObj); err != nil {
		return fmt.Errorf("putting s3://%s/%s: %w", s.bucket, s.key(key), err)
	}
	return nil
}

// SignGet implements Store.SignGet.
func (s *S3) SignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	var getObj = s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	}
	var req, _ = s.client.GetObjectRequest(&getObj)
	return req.Presign(ttl)
}

func parseS3Args(ep *url.URL, args interface{}) error {
	var decoder = schema.NewDecoder()
	decoder.IgnoreUnknownKeys(false)

	if q, err := url.ParseQuery(ep.RawQuery); err != nil {
		return err
	} else if err = decoder.Decode(args, q); err != nil {
		return fmt.Errorf("parsing asset store URL arguments: %s", err)
	}
	return nil
}
