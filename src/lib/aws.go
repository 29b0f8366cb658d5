package lib

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

var (
	awsConfig     *aws.Config
	awsConfigOnce sync.Once
	awsConfigErr  error
)

// AWSConfig loads the default credential chain once per process.
func AWSConfig() (*aws.Config, error) {
	awsConfigOnce.Do(func() {
		cfg, err := config.LoadDefaultConfig(context.TODO())
		if err != nil {
			log.Printf("Error loading default config: %s\n", err.Error())
			awsConfigErr = err
			return
		}
		awsConfig = &cfg
	})
	return awsConfig, awsConfigErr
}

func GetTopicArn(name string) string {
	return fmt.Sprintf("arn:aws:sns:%s:%s:%s", os.Getenv("AWS_REGION"), os.Getenv("AWS_ACCOUNT_ID"), name)
}

