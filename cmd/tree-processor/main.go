// Rebuilds prejoins after ENTITY_MUTUAL_PROCESSED and PREJOIN_RELATIONSHIP_SYNC.
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

	runner := container.SQSRunner("tree-processor", container.PrejoinProcessor.Handle)
	lambda.Start(runner.Run)
}
