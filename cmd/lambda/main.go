// Command lambda runs one shotlocker function on AWS Lambda. SHOTLOCKER_HANDLER
// selects it: "upload" handles bucket notifications for new edit documents,
// any pipeline stage name (validate, convert, conform, tag, find-processed,
// remove-bucket-access, disable-edits, remove-object-tags) runs that stage
// on the workflow event.
package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/tendant/shotlocker/pkg/shotlocker"
	"github.com/tendant/shotlocker/pkg/shotlocker/config"
	"github.com/tendant/shotlocker/pkg/shotlocker/pipeline"
)

// App holds the wired runtime shared by every invocation
type App struct {
	rt *config.Runtime
}

func main() {
	name := os.Getenv("SHOTLOCKER_HANDLER")
	if name == "" {
		log.Fatal("SHOTLOCKER_HANDLER is required")
	}

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	rt, err := cfg.BuildService(context.Background())
	if err != nil {
		log.Fatalf("Failed to build service: %v", err)
	}
	app := &App{rt: rt}

	if name == "upload" {
		lambda.Start(app.upload)
		return
	}
	stage, ok := rt.Pipeline.Stage(name)
	if !ok {
		log.Fatalf("unknown handler: %s", name)
	}
	lambda.Start(app.stage(stage))
}

// UploadResult reports the executions started for a notification
type UploadResult struct {
	Executions []string `json:"executions"`
}

// upload starts edit processing for every record of a bucket notification.
func (a *App) upload(ctx context.Context, ev events.S3Event) (UploadResult, error) {
	var res UploadResult
	for _, rec := range ev.Records {
		bucket, key := rec.S3.Bucket.Name, rec.S3.Object.Key
		arn, err := a.rt.Pipeline.UploadTrigger(ctx, a.rt.Workflow, bucket, key)
		if err != nil {
			return res, err
		}
		if arn != "" {
			res.Executions = append(res.Executions, arn)
		}
	}
	return res, nil
}

func (a *App) stage(st pipeline.Stage) func(context.Context, shotlocker.Event) (shotlocker.Event, error) {
	return func(ctx context.Context, ev shotlocker.Event) (shotlocker.Event, error) {
		return st(ctx, ev)
	}
}
