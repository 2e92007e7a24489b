package tasks

import (
	"context"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"

	"github.com/whacked/ktest/errors"
	"github.com/whacked/ktest/scenario"
)

// Publish packages the built kernel and uploads the archive to an S3 bucket, under Prefix.
type Publish struct {
	Ctx    *scenario.Context
	Bucket string
	Prefix string
	Region string

	// Uploader overrides the uploader built from the default AWS credential chain.
	Uploader s3manageriface.UploaderAPI
}

func (p *Publish) Execute(ctx context.Context) error {
	if p.Bucket == "" {
		return errors.New("publish: bucket is not set")
	}

	pkg, err := packageKernel(ctx, p.Ctx)
	if err != nil {
		return err
	}

	uploader, err := p.uploader()
	if err != nil {
		return err
	}

	file, err := os.Open(pkg)
	if err != nil {
		return errors.WithStackTrace(err)
	}
	defer file.Close()

	key := path.Join(p.Prefix, filepath.Base(pkg))

	out, err := uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(p.Bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	if err != nil {
		return errors.WithStackTraceAndPrefix(err, "uploading %s to s3://%s/%s", pkg, p.Bucket, key)
	}

	p.Ctx.Logger().Infof("Published %s", out.Location)

	return nil
}

func (p *Publish) uploader() (s3manageriface.UploaderAPI, error) {
	if p.Uploader != nil {
		return p.Uploader, nil
	}

	cfg := aws.NewConfig()
	if p.Region != "" {
		cfg = cfg.WithRegion(p.Region)
	}

	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            *cfg,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, errors.WithStackTrace(err)
	}

	return s3manager.NewUploader(sess), nil
}
