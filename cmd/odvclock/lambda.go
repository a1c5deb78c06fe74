package main

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"

	"github.com/asmbly/odvclock/internal/event"
	"github.com/asmbly/odvclock/internal/onduty"
)

type webhookHandler interface {
	Handle(ctx context.Context, raw []byte) (onduty.Response, error)
	HandleBody(ctx context.Context, body []byte) (onduty.Response, error)
}

// lambdaHandler accepts function URL and API Gateway v2 records. Base64
// bodies are decoded first; anything else goes through Handle, which
// reads the "body" field itself.
func lambdaHandler(h webhookHandler) func(context.Context, json.RawMessage) (onduty.Response, error) {
	return func(ctx context.Context, raw json.RawMessage) (onduty.Response, error) {
		var req events.LambdaFunctionURLRequest
		if err := json.Unmarshal(raw, &req); err == nil && req.IsBase64Encoded {
			body, err := base64.StdEncoding.DecodeString(req.Body)
			if err != nil {
				return onduty.Response{}, &event.MalformedEventError{Reason: "body is not valid base64", Err: err}
			}
			return h.HandleBody(ctx, body)
		}
		return h.Handle(ctx, raw)
	}
}

func runLambda(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Built once per cold start and reused across invocations.
	p, err := newPipeline(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	lambda.Start(lambdaHandler(p.handler))
	return nil
}
