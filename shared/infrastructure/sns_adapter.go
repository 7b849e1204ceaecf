package infrastructure

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// NewSNSClient creates an SNS client, honoring the endpoint override
func NewSNSClient(cfg aws.Config, settings AWSSettings) *sns.Client {
	return sns.NewFromConfig(cfg, func(o *sns.Options) {
		if settings.Endpoint != "" {
			o.BaseEndpoint = aws.String(settings.Endpoint)
		}
	})
}
