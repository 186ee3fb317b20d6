// Materializes ENTITY_MUTUAL_TO_CREATE and ENTITY_MUTUAL_TO_UPDATE field lists into mutuals.
package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/monorist/monorise/infrastructure/di"
)

func main() {
	container, err := di.Bootstrap(context.Background())
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
	defer container.Close()

	runner := container.SQSRunner("mutual-processor", container.MutualProcessor.Handle)
	lambda.Start(runner.Run)
}
