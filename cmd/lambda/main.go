package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	chiadapter "github.com/awslabs/aws-lambda-go-api-proxy/chi"
	"github.com/go-chi/chi/v5"

	"storefront-backend/internal/config"
	"storefront-backend/internal/di"
)

var chiLambda *chiadapter.ChiLambdaV2

// init runs once per cold start. The container lives for the whole execution
// environment, so L1 survives across invocations.
func init() {
	cfg, err := config.LoadWithLoader()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	container, _, err := di.InitializeContainer(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
	container.Start(context.Background())

	r := chi.NewRouter()
	r.Mount("/", container.Handler)
	chiLambda = chiadapter.NewV2(r)
}

// Handler is the API Gateway HTTP API entrypoint.
func Handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	return chiLambda.ProxyWithContextV2(ctx, req)
}

func main() {
	lambda.Start(Handler)
}
