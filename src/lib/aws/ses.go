package aws

import (
	"context"
	"log"
	"thruster/src/lib"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

func GetSESClient() *ses.Client {
	cfg, err := lib.AWSConfig()
	if err != nil {
		return nil
	}
	return ses.NewFromConfig(*cfg)
}

func SESSendMessage(ctx context.Context, c SESAPI, from string, to []string, subject, html string) error {
	input := &ses.SendEmailInput{
		Destination: &types.Destination{ToAddresses: to},
		Source:      aws.String(from),
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(html)},
			},
		},
	}
	out, err := c.SendEmail(ctx, input)
	if err != nil {
		log.Printf("Error sending email: %s\n", err.Error())
		return err
	}
	log.Printf("Sent email with id: %s\n", *out.MessageId)
	return nil
}
