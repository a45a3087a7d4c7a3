package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// SESNotifier delivers alerts as plain emails through AWS SES, for
// deployments where the operator inbox is the escalation channel rather
// than a chat webhook.
type SESNotifier struct {
	client *sesv2.Client
	from   string
	to     string
}

// NewSESNotifier builds an SES-backed Notifier, loading credentials
// from the default AWS chain.
func NewSESNotifier(ctx context.Context, region, from, to string) (*SESNotifier, error) {
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("notifier: load aws config: %w", err)
	}
	return &SESNotifier{client: sesv2.NewFromConfig(awsCfg), from: from, to: to}, nil
}

func (n *SESNotifier) Send(ctx context.Context, channel string, payload map[string]any) error {
	body, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("[salesloop] %s", channel)

	_, err = n.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(n.from),
		Destination:      &types.Destination{ToAddresses: []string{n.to}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(string(body))},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("notifier: ses send: %w", err)
	}
	return nil
}
