package awsinteg

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/postfern/smtpd/inet"
	"github.com/postfern/smtpd/mlog"
)

// SQSClient sends notification messages, such as mail arrival notifications, to an SQS queue.
type SQSClient struct {
	logger     mlog.Logger
	apiSession *session.Session
	client     *sqs.SQS
}

// NewSQSClient initialises an SQS client using the AWS region of the program environment.
func NewSQSClient() (*SQSClient, error) {
	logger := mlog.Logger{ComponentName: "sqs"}
	regionName := inet.GetAWSRegion()
	if regionName == "" {
		return nil, fmt.Errorf("NewSQSClient: unable to determine AWS region, is it set in environment variable AWS_REGION?")
	}
	logger.Info("", nil, "initialising using AWS region name \"%s\"", regionName)
	apiSession, err := session.NewSession(&aws.Config{Region: aws.String(regionName)})
	if err != nil {
		return nil, err
	}
	sqsInst := sqs.New(apiSession)
	xray.AWS(sqsInst.Client)
	return &SQSClient{
		apiSession: apiSession,
		client:     sqsInst,
		logger:     logger,
	}, nil
}

// SendMessage delivers a message to the queue, making it immediately visible to consumers.
func (sqsClient *SQSClient) SendMessage(ctx context.Context, queueURL, text string) error {
	startTimeNano := time.Now().UnixNano()
	sqsClient.logger.Info(queueURL, nil, "sending a %d bytes long message", len(text))
	_, err := sqsClient.client.SendMessageWithContext(ctx, &sqs.SendMessageInput{
		DelaySeconds: aws.Int64(0),
		MessageBody:  aws.String(text),
		QueueUrl:     aws.String(queueURL),
	})
	durationMilli := (time.Now().UnixNano() - startTimeNano) / 1000000
	sqsClient.logger.Info(queueURL, nil, "SendMessageWithContext completed in %d milliseconds for a %d bytes long message (err? %v)",
		durationMilli, len(text), err)
	return err
}
