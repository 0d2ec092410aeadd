package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"feynman-go/backend/internal/builder"
	"feynman-go/backend/internal/extract"
	"feynman-go/backend/internal/schema"
	"feynman-go/backend/internal/service"
	"feynman-go/backend/internal/storage"
	"feynman-go/backend/pkg/config"
	"feynman-go/backend/pkg/logger"
)

func main() {
	// Initialize logger
	if err := logger.Init(os.Getenv("ENV")); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting knowledge graph server...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx := context.Background()

	// Initialize storage backend
	backend, cleanup, err := newBackend(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to initialize storage backend",
			zap.String("backend", string(cfg.Backend)),
			zap.Error(err),
		)
	}
	defer cleanup()

	// Initialize dependencies
	extractor := extract.New(
		extract.WithLLM(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel),
		extract.WithTimeout(time.Duration(cfg.LLMTimeout)*time.Second),
	)
	graphBuilder := builder.New(backend, cfg.SimilarityThreshold)
	svc := service.New(extractor, graphBuilder, backend)

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "backend": string(cfg.Backend)})
	})

	registerRoutes(router, svc)

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started",
		zap.String("port", cfg.Port),
		zap.String("backend", string(cfg.Backend)),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}

// newBackend constructs the configured storage backend. Backend selection is
// explicit: a misconfigured or unreachable neo4j server is a startup failure,
// never a silent fallback to local storage.
func newBackend(ctx context.Context, cfg *config.Config) (storage.Backend, func(), error) {
	switch cfg.Backend {
	case config.BackendMemory:
		backend, err := storage.NewMemoryBackend(cfg.StoragePath)
		if err != nil {
			return nil, nil, err
		}
		return backend, func() { backend.Close(context.Background()) }, nil

	case config.BackendNeo4j:
		driver, err := neo4j.NewDriverWithContext(
			cfg.Neo4jURI,
			neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""),
		)
		if err != nil {
			return nil, nil, err
		}
		backend, err := storage.NewNeo4jBackend(ctx, driver, cfg.Neo4jDatabase)
		if err != nil {
			driver.Close(context.Background())
			return nil, nil, err
		}
		return backend, func() {
			backend.Close(context.Background())
			driver.Close(context.Background())
		}, nil

	default:
		return nil, nil, fmt.Errorf("unsupported backend kind: %s", cfg.Backend)
	}
}

func registerRoutes(router *gin.Engine, svc *service.Service) {
	api := router.Group("/api/kg")
	{
		// Build graph from raw text or a file path
		api.POST("/build", func(c *gin.Context) {
			var req schema.BuildRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			respond(c, svc.Build(c.Request.Context(), req))
		})

		// Build graph from pre-extracted triples
		api.POST("/build/triples", func(c *gin.Context) {
			var req struct {
				Triples []schema.Triple `json:"triples" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			respond(c, svc.BuildFromTriples(c.Request.Context(), req.Triples))
		})

		// Build graph from a conversation transcript
		api.POST("/build/conversation", func(c *gin.Context) {
			var req struct {
				History []service.ConversationMessage `json:"history" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			respond(c, svc.BuildFromConversation(c.Request.Context(), req.History))
		})

		// Full graph, optionally filtered
		api.GET("/graph", func(c *gin.Context) {
			respond(c, svc.Query(c.Request.Context(), schema.Query{
				QueryType:   schema.QueryFull,
				TopicFilter: c.Query("topic"),
				Limit:       queryInt(c, "limit", 100),
			}))
		})

		// Subgraph around a center node
		api.GET("/subgraph", func(c *gin.Context) {
			respond(c, svc.Query(c.Request.Context(), schema.Query{
				QueryType:  schema.QuerySubgraph,
				CenterNode: c.Query("center"),
				Radius:     queryInt(c, "radius", 1),
			}))
		})

		// Direct neighborhood of a node
		api.GET("/neighbors", func(c *gin.Context) {
			respond(c, svc.Query(c.Request.Context(), schema.Query{
				QueryType:  schema.QueryNeighbors,
				CenterNode: c.Query("center"),
			}))
		})

		// Basic counts plus structural analysis and top entities
		api.GET("/stats", func(c *gin.Context) {
			respond(c, svc.GetStats(c.Request.Context()))
		})

		// Fuzzy entity search
		api.GET("/search", func(c *gin.Context) {
			respond(c, svc.SearchEntities(c.Request.Context(),
				c.Query("q"), queryInt(c, "limit", 10)))
		})

		// Neighborhood context for a single entity
		api.GET("/entity/:id/context", func(c *gin.Context) {
			respond(c, svc.EntityContext(c.Request.Context(),
				c.Param("id"), queryInt(c, "radius", 1)))
		})

		// Full graph export
		api.GET("/export", func(c *gin.Context) {
			respond(c, svc.Export(c.Request.Context(), c.DefaultQuery("format", "json")))
		})

		// Destructive: wipes the whole graph
		api.POST("/clear", func(c *gin.Context) {
			respond(c, svc.Clear(c.Request.Context()))
		})
	}
}

// respond writes a service result. The uniform result shape carries the
// outcome in its success flag, so every well-formed request gets a 200;
// only malformed JSON is rejected earlier with a 400.
func respond(c *gin.Context, result service.Result) {
	c.JSON(http.StatusOK, result)
}

func queryInt(c *gin.Context, key string, defaultValue int) int {
	if raw := c.Query(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return defaultValue
}

// ginLogger is a custom logger middleware for Gin
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
