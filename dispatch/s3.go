package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/postfern/smtpd/awsinteg"
	"github.com/postfern/smtpd/mlog"
	"github.com/postfern/smtpd/smtp"
)

/*
S3Dispatch stores accepted messages as S3 objects, one object per message, and optionally
announces each stored message on an SQS queue or an SNS topic. The body is buffered in memory
while DATA is in progress; nothing reaches S3 until the sink commits.
*/
type S3Dispatch struct {
	Uploader  *awsinteg.S3Client
	Bucket    string
	KeyPrefix string

	// Notify is optional; a nil client disables SQS notifications.
	Notify   *awsinteg.SQSClient
	QueueURL string
	// Publish is optional; a nil client disables SNS notifications.
	Publish  *awsinteg.SNSClient
	TopicARN string

	Logger *mlog.Logger
}

// NewS3Dispatch returns a dispatcher storing messages in the bucket under the key prefix.
func NewS3Dispatch(uploader *awsinteg.S3Client, bucket, keyPrefix string, logger *mlog.Logger) *S3Dispatch {
	if logger == nil {
		logger = mlog.DefaultLogger
	}
	return &S3Dispatch{Uploader: uploader, Bucket: bucket, KeyPrefix: keyPrefix, Logger: logger}
}

// mailNotice is the notification message announcing a stored mail message.
type mailNotice struct {
	Bucket      string   `json:"Bucket"`
	ObjectKey   string   `json:"ObjectKey"`
	ReversePath string   `json:"ReversePath"`
	Recipients  []string `json:"Recipients"`
	BodyBytes   int      `json:"BodyBytes"`
}

// OpenMailBody opens an in-memory sink for the transaction body.
func (dispatch *S3Dispatch) OpenMailBody(ctx context.Context, sess *smtp.Session, tx *smtp.Transaction) (smtp.BodySink, error) {
	if dispatch.Uploader == nil || dispatch.Bucket == "" {
		return nil, &smtp.DispatchError{Reason: "S3 mail storage is not configured"}
	}
	notice := mailNotice{Bucket: dispatch.Bucket}
	if tx.ReversePath != nil {
		notice.ReversePath = tx.ReversePath.String()
	}
	for _, rcpt := range tx.Recipients {
		notice.Recipients = append(notice.Recipients, rcpt.Path.String())
	}
	sink := &s3Sink{
		dispatch: dispatch,
		key:      fmt.Sprintf("%s%s-%d", dispatch.KeyPrefix, tx.ID, time.Now().Unix()),
		notice:   notice,
	}
	sink.buf.WriteString(tx.ExtraHeaders)
	return sink, nil
}

type s3Sink struct {
	dispatch *S3Dispatch
	key      string
	notice   mailNotice
	buf      bytes.Buffer
}

func (sink *s3Sink) Write(p []byte) (int, error) {
	return sink.buf.Write(p)
}

// Close uploads the buffered message and announces it, returning the object key as the queue id.
func (sink *s3Sink) Close(ctx context.Context) (string, error) {
	dispatch := sink.dispatch
	if err := dispatch.Uploader.Upload(ctx, dispatch.Bucket, sink.key, bytes.NewReader(sink.buf.Bytes())); err != nil {
		return "", &smtp.DispatchError{Temporary: true, Reason: "failed to store the message"}
	}
	sink.notice.ObjectKey = sink.key
	sink.notice.BodyBytes = sink.buf.Len()
	// Notification failures do not fail the transaction, the message itself is safely stored.
	if noticeText, err := json.Marshal(sink.notice); err == nil {
		if dispatch.Notify != nil && dispatch.QueueURL != "" {
			if err := dispatch.Notify.SendMessage(ctx, dispatch.QueueURL, string(noticeText)); err != nil {
				dispatch.Logger.Warning(sink.key, err, "failed to announce the message on SQS")
			}
		}
		if dispatch.Publish != nil && dispatch.TopicARN != "" {
			if err := dispatch.Publish.Publish(ctx, dispatch.TopicARN, string(noticeText)); err != nil {
				dispatch.Logger.Warning(sink.key, err, "failed to announce the message on SNS")
			}
		}
	}
	return sink.key, nil
}

// Abort discards the buffered message without uploading anything.
func (sink *s3Sink) Abort() {
	sink.buf.Reset()
}
