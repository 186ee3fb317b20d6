// Consumes the table stream: refreshes the copies of changed entities and mutuals
// and forwards every record to the configured replication sink.
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

	lambda.Start(container.ReplicationProcessor.HandleStream)
}
