package api

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/microsoft/vsts-extension-retrospectives-sub000/api/controllers"
	"github.com/microsoft/vsts-extension-retrospectives-sub000/api/transport"
	"github.com/microsoft/vsts-extension-retrospectives-sub000/auth"
	"github.com/microsoft/vsts-extension-retrospectives-sub000/grouping"
	"github.com/microsoft/vsts-extension-retrospectives-sub000/logging"
	"github.com/microsoft/vsts-extension-retrospectives-sub000/realtime"
	"github.com/microsoft/vsts-extension-retrospectives-sub000/storage"
	"github.com/microsoft/vsts-extension-retrospectives-sub000/voting"
)

type Server struct {
	config *Config
}

func NewServer(config *Config) *Server {
	return &Server{
		config: config,
	}
}

func (s *Server) Start() {
	r := transport.NewRouter(gin.DebugMode)

	// Create storage
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		logging.Log.Errorf("failed to load AWS config: %v", err)
		panic("failed to load AWS config")
	}

	dynamoClient := dynamodb.NewFromConfig(cfg)

	boardsStorage := &storage.DynamoFeedbackBoardStorage{
		Client:    dynamoClient,
		TableName: s.config.TableNameBoards,
	}
	itemsStorage := &storage.DynamoFeedbackItemStorage{
		Client:    dynamoClient,
		TableName: s.config.TableNameItems,
	}

	// Single long-lived sync bus connection for this process, authenticated
	// with a service token re-minted lazily as it expires.
	secret := []byte(s.config.TokenSecret)
	ttl := time.Duration(s.config.TokenTTLSecs) * time.Second
	tokens := &auth.CachedTokenSource{
		Secret: secret,
		Source: auth.TokenSourceFunc(func(ctx context.Context) (string, error) {
			return auth.IssueToken(secret, auth.Claims{
				Sub: "service-" + gonanoid.MustGenerate("0123456789abcdef", 8),
				Exp: time.Now().Add(ttl).Unix(),
			})
		}),
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     s.config.RedisAddr,
		Password: s.config.RedisPassword,
		DB:       s.config.RedisDB,
	})
	bus := realtime.NewBus(rdb, tokens)
	if err := bus.Start(context.Background()); err != nil {
		logging.Log.Errorf("realtime hub unavailable, broadcasts will be dropped: %v", err)
	}

	engine := grouping.NewEngine(itemsStorage)
	ledger := voting.NewLedger(itemsStorage, boardsStorage)
	userAuth := transport.UserAuthMiddleware(secret)

	//Register controllers
	boardsController := controllers.NewBoardsController(boardsStorage, itemsStorage, bus)
	boardsController.RegisterRoutes(r, userAuth)
	itemsController := controllers.NewItemsController(boardsStorage, itemsStorage, engine, bus)
	itemsController.RegisterRoutes(r, userAuth)
	votingController := controllers.NewVotingController(boardsStorage, ledger, bus)
	votingController.RegisterRoutes(r, userAuth)

	//Do not run lambda helper locally
	if os.Getenv("APP_ENV") == "local" {
		startLocal(r, s.config.Port)
	} else {
		startLambda(r)
	}
}

// startLambda sets up for AWS Lambda
func startLambda(engine *gin.Engine) {
	ginLambda := ginadapter.NewV2(engine)

	handler := func(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		logging.Log.Infof("Lambda handler triggered on path: %s", req.RawPath)
		return ginLambda.ProxyWithContext(ctx, req)
	}

	logging.Log.Info("Starting lambda")
	lambda.Start(handler)
}

// startLocal starts a normal HTTP server
func startLocal(engine *gin.Engine, port int) {
	logging.Log.Info(fmt.Sprintf("Starting server on http://localhost:%d", port))

	if err := engine.Run(fmt.Sprintf(":%d", port)); err != nil {
		logging.Log.Fatalf("Failed to run server: %v", err)
	}
}
