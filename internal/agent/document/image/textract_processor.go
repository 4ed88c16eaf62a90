package image

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/feichai0017/receipt-processor/config"
	"github.com/feichai0017/receipt-processor/internal/agent/document"
	"github.com/feichai0017/receipt-processor/pkg/logger"
)

// textractAPI is the slice of the Textract client we call.
type textractAPI interface {
	DetectDocumentText(ctx context.Context, in *textract.DetectDocumentTextInput, optFns ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error)
}

type TextractDetector struct {
	client textractAPI
	logger logger.Logger
}

func NewTextractDetector(ctx context.Context, cfg config.TextractConfig, log logger.Logger) (*TextractDetector, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	client := textract.NewFromConfig(awsCfg, func(o *textract.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newTextractDetector(client, log), nil
}

func newTextractDetector(client textractAPI, log logger.Logger) *TextractDetector {
	return &TextractDetector{client: client, logger: log.Named("textract")}
}

func (d *TextractDetector) Name() string { return "textract" }

// DetectText reads S3 objects in place and uploads bytes for everything else.
func (d *TextractDetector) DetectText(ctx context.Context, src document.Source) ([]document.Block, error) {
	input := &textract.DetectDocumentTextInput{Document: &types.Document{}}
	if src.Bucket != "" {
		input.Document.S3Object = &types.S3Object{
			Bucket: aws.String(src.Bucket),
			Name:   aws.String(src.Key),
		}
	} else {
		data, err := src.ReadAll(ctx)
		if err != nil {
			return nil, err
		}
		input.Document.Bytes = data
	}

	result, err := d.client.DetectDocumentText(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to detect document text: %w", err)
	}

	d.logger.Debug("Textract finished",
		logger.String("key", src.Key),
		logger.Int("blocks", len(result.Blocks)),
	)
	return convertBlocks(result.Blocks), nil
}

func convertBlocks(blocks []types.Block) []document.Block {
	out := make([]document.Block, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, document.Block{
			Type: document.BlockType(b.BlockType),
			Text: aws.ToString(b.Text),
		})
	}
	return out
}
