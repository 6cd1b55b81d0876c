package server

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"net/http"
	"path"
	"sync"
	"time"

	jwt "github.com/appleboy/gin-jwt/v2"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/contrib/cors"
	"github.com/gin-gonic/contrib/static"
	"github.com/gin-gonic/gin"
	"github.com/mattn/go-colorable"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wlan-tools/bulkops-backend/internal/domain"
	"github.com/wlan-tools/bulkops-backend/internal/rcloud"
	"github.com/wlan-tools/bulkops-backend/internal/server/auth"
	"github.com/wlan-tools/bulkops-backend/internal/server/bulkops"
	"github.com/wlan-tools/bulkops-backend/internal/server/handlers"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var jwtIdentityKey = "identityKey"

type serverImpl struct {
	logger        *zap.Logger
	sugaredLogger *zap.SugaredLogger
	atom          *zap.AtomicLevel
	opts          *domain.Configuration
	engine        *gin.Engine

	// Handler returned by promhttp.Handler to serve Prometheus metrics.
	prometheusHandler http.Handler

	// tracker is the single source of truth for bulk session/operation state.
	tracker domain.SessionTracker

	// orchestrator accepts batch requests and drives their execution in the background.
	orchestrator *bulkops.BatchOrchestrator

	// remoteClient talks to the remote network-management API.
	remoteClient *rcloud.Client

	// sessionWebsocketHandler serves the sessions WebSocket and pushes state updates
	// to subscribed frontends.
	sessionWebsocketHandler *bulkops.WebsocketHandler

	// The base prefix. Useful when deployed behind a reverse proxy, as the server then
	// needs to listen on something other than "/".
	baseListenPrefix string

	// Endpoint to serve prometheus metrics scraping requests.
	// Defined separately from the base-listen-prefix.
	prometheusEndpoint string

	adminUsername           string
	adminPassword           string
	jwtTokenValidDuration   time.Duration
	jwtTokenRefreshInterval time.Duration
}

func NewServer(opts *domain.Configuration) domain.Server {
	atom := zap.NewAtomicLevelAt(zapcore.DebugLevel)
	if !opts.Debug && !opts.Verbose {
		atom.SetLevel(zapcore.InfoLevel)
	}

	tracker := bulkops.NewSessionTracker(&atom)

	s := &serverImpl{
		opts:                    opts,
		atom:                    &atom,
		engine:                  gin.New(),
		tracker:                 tracker,
		orchestrator:            bulkops.NewBatchOrchestrator(tracker, opts, &atom),
		remoteClient:            rcloud.NewClient(opts, &atom),
		prometheusHandler:       promhttp.Handler(),
		adminUsername:           opts.AdminUser,
		adminPassword:           opts.AdminPassword,
		jwtTokenValidDuration:   time.Second * time.Duration(opts.TokenValidDurationSec),
		jwtTokenRefreshInterval: time.Second * time.Duration(opts.TokenRefreshIntervalSec),
		baseListenPrefix:        opts.BaseListenPrefix,
		prometheusEndpoint:      opts.PrometheusEndpoint,
	}

	// Default to "/"
	if s.baseListenPrefix == "" {
		s.baseListenPrefix = "/"
	}

	// Default value
	if s.prometheusEndpoint == "" {
		s.prometheusEndpoint = domain.PrometheusEndpoint
	}

	zapConfig := zap.NewDevelopmentEncoderConfig()
	zapConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(zapConfig), zapcore.AddSync(colorable.NewColorableStdout()), atom)
	logger := zap.New(core, zap.Development())
	if logger == nil {
		panic("failed to create logger for backend server")
	}

	s.logger = logger
	s.sugaredLogger = logger.Sugar()

	s.sessionWebsocketHandler = bulkops.NewWebsocketHandler(opts, tracker, &atom)

	if err := s.setupRoutes(); err != nil {
		panic(err)
	}

	return s
}

// ErrorHandlerMiddleware is gin middleware to handle errors that occur while the request handlers
// are processing/handling a request.
func (s *serverImpl) ErrorHandlerMiddleware(c *gin.Context) {
	c.Next() // Execute all the handlers.

	s.logger.Debug("Serving request.", zap.String("origin", c.Request.Header.Get("Origin")),
		zap.String("url", c.Request.URL.String()))

	errorsEncountered := make([]error, 0)
	for _, err := range c.Errors {
		errorsEncountered = append(errorsEncountered, err.Err)
		s.logger.Error("Error encountered.", zap.Error(err))
	}

	if len(errorsEncountered) > 0 {
		c.JSON(-1, gin.H{
			"message": errors.Join(errorsEncountered...).Error(),
		})
	}
}

func (s *serverImpl) jwtPayloadFunc() func(data interface{}) jwt.MapClaims {
	return func(data interface{}) jwt.MapClaims {
		if v, ok := data.(*auth.AuthorizedUser); ok {
			return jwt.MapClaims{
				jwtIdentityKey: v.Username,
			}
		}
		return jwt.MapClaims{}
	}
}

func (s *serverImpl) jwtIdentityHandler() func(c *gin.Context) interface{} {
	return func(c *gin.Context) interface{} {
		claims := jwt.ExtractClaims(c)
		identity, ok := claims[jwtIdentityKey].(string)
		if ok {
			return &auth.AuthorizedUser{
				Username: identity,
			}
		} else {
			return nil
		}
	}
}

func (s *serverImpl) jwtAuthenticator() func(c *gin.Context) (interface{}, error) {
	return func(c *gin.Context) (interface{}, error) {
		var login *auth.LoginRequest
		if err := c.ShouldBind(&login); err != nil {
			s.logger.Warn("Received login request with missing login values.")
			return "", jwt.ErrMissingLoginValues
		}
		userID := login.Username
		password := login.Password

		s.logger.Debug("Received authentication request.", zap.String("username", userID))

		if userID == s.adminUsername && password == s.adminPassword {
			return &auth.AuthorizedUser{Username: userID}, nil
		}
		return nil, jwt.ErrFailedAuthentication
	}
}

func (s *serverImpl) jwtAuthorizer() func(data interface{}, c *gin.Context) bool {
	return func(data interface{}, c *gin.Context) bool {
		var (
			user *auth.AuthorizedUser
			ok   bool
		)
		user, ok = data.(*auth.AuthorizedUser)

		if ok {
			if user.Username == s.adminUsername {
				return true
			} else {
				log.Fatalf("Found non-admin authorized user with username=\"%s\"\n", user.Username)
			}
		} else {
			s.logger.Debug("Rejecting unauthorized request.", zap.Any("data", data))
		}

		return false
	}
}

func (s *serverImpl) jwtHandleUnauthorized() func(c *gin.Context, code int, message string) {
	return func(c *gin.Context, code int, message string) {
		s.logger.Debug("JWT unauthorized request handler called.",
			zap.Int("code", code), zap.String("message", message),
			zap.String("remote_address", c.Request.RemoteAddr),
			zap.String("client_ip", c.ClientIP()))

		c.JSON(code, gin.H{
			"code":    code,
			"message": message,
		})
	}
}

func (s *serverImpl) initJWTParams() *jwt.GinJWTMiddleware {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic(err)
	}

	return &jwt.GinJWTMiddleware{
		Realm:             "Bulk Operations Dashboard",
		Key:               key,
		Timeout:           s.jwtTokenValidDuration,
		MaxRefresh:        s.jwtTokenRefreshInterval,
		IdentityKey:       jwtIdentityKey,
		PayloadFunc:       s.jwtPayloadFunc(),
		IdentityHandler:   s.jwtIdentityHandler(),
		Authenticator:     s.jwtAuthenticator(),
		Authorizator:      s.jwtAuthorizer(),
		Unauthorized:      s.jwtHandleUnauthorized(),
		SendAuthorization: true,
		TokenLookup:       "header: Authorization, query: token, cookie: jwt",
		TokenHeadName:     "Bearer",
		TimeFunc:          time.Now,
	}
}

func (s *serverImpl) jwtHandlerMiddleWare(authMiddleware *jwt.GinJWTMiddleware) gin.HandlerFunc {
	return func(context *gin.Context) {
		errInit := authMiddleware.MiddlewareInit()
		if errInit != nil {
			log.Fatal("authMiddleware.MiddlewareInit() Error:" + errInit.Error())
		}
	}
}

func lastChar(target string) uint8 {
	if target == "" {
		panic("Cannot find last character of an empty string!")
	}

	return target[len(target)-1]
}

func (s *serverImpl) getPath(relativePath string) string {
	if relativePath == "" {
		return s.baseListenPrefix
	}

	finalPath := path.Join(s.baseListenPrefix, relativePath)
	if lastChar(relativePath) == '/' && lastChar(finalPath) != '/' {
		return finalPath + "/"
	}
	return finalPath
}

func (s *serverImpl) setupRoutes() error {
	s.engine.ForwardedByClientIP = true
	if err := s.engine.SetTrustedProxies([]string{"127.0.0.1"}); err != nil {
		panic(err)
	}

	// The jwt middleware.
	authMiddleware, err := jwt.New(s.initJWTParams())
	if err != nil {
		log.Fatal("JWT Error:" + err.Error())
	}

	// Serve frontend static files
	s.engine.Use(static.Serve(s.baseListenPrefix, static.LocalFile("./dist", true)))
	s.engine.Use(s.jwtHandlerMiddleWare(authMiddleware))
	s.engine.Use(gin.Logger())
	s.engine.Use(cors.Default())
	s.engine.Use(s.ErrorHandlerMiddleware)

	////////////////////////
	// Prometheus metrics //
	////////////////////////
	s.engine.GET(s.prometheusEndpoint, s.HandlePrometheusRequest)

	////////////////////////
	// Websocket Handlers //
	////////////////////////
	s.engine.GET(s.getPath(domain.SessionsWebsocketEndpoint), s.sessionWebsocketHandler.GetHandlerFunc())

	pprof.Register(s.engine, s.getPath("dev/pprof"))

	s.engine.NoRoute(authMiddleware.MiddlewareFunc(), func(c *gin.Context) {
		c.JSON(404, gin.H{"code": "PAGE_NOT_FOUND", "message": "Page not found"})
	})

	// Used by frontend to authenticate and get access to the dashboard.
	s.engine.POST(s.getPath(domain.AuthenticateRequest), func(c *gin.Context) {
		s.sugaredLogger.Debugf("JWT login handler called: \"%s\"", s.getPath(domain.AuthenticateRequest))
		authMiddleware.LoginHandler(c)
	})

	s.engine.POST(s.getPath(domain.RefreshToken), func(c *gin.Context) {
		s.sugaredLogger.Debugf("JWT token refresh handler called: \"%s\"", s.getPath(domain.RefreshToken))
		authMiddleware.RefreshHandler(c)
	})

	sessionHandler := handlers.NewBulkSessionHttpHandler(s.opts, s.tracker, s.orchestrator, s.atom)

	///////////////////////////////
	// Standard/Primary Handlers //
	///////////////////////////////
	apiGroup := s.engine.Group(s.getPath(domain.BaseApiGroupEndpoint), authMiddleware.MiddlewareFunc())
	{
		// Used by the frontend to start bulk batches for each target kind.
		apiGroup.POST(domain.BulkVenuesEndpoint,
			handlers.NewBatchStartHttpHandler(s.opts, domain.KindVenue, s.orchestrator, s.remoteClient, s.atom).HandleRequest)
		apiGroup.POST(domain.BulkNetworksEndpoint,
			handlers.NewBatchStartHttpHandler(s.opts, domain.KindNetwork, s.orchestrator, s.remoteClient, s.atom).HandleRequest)
		apiGroup.POST(domain.BulkDevicesEndpoint,
			handlers.NewBatchStartHttpHandler(s.opts, domain.KindDevice, s.orchestrator, s.remoteClient, s.atom).HandleRequest)

		// Read accessors for bulk sessions.
		apiGroup.GET(domain.BulkSessionsEndpoint, sessionHandler.HandleRequest)
		apiGroup.GET(path.Join(domain.BulkSessionsEndpoint, ":session_id"), sessionHandler.HandleGetSessionRequest)
		apiGroup.GET(path.Join(domain.BulkSessionsEndpoint, ":session_id", "progress"), sessionHandler.HandleGetProgressRequest)
		apiGroup.GET(path.Join(domain.BulkSessionsEndpoint, ":session_id", "operations"), sessionHandler.HandleGetOperationsRequest)

		// Lifecycle controls for bulk sessions.
		apiGroup.POST(path.Join(domain.BulkSessionsEndpoint, ":session_id", "pause"), sessionHandler.HandlePauseRequest)
		apiGroup.POST(path.Join(domain.BulkSessionsEndpoint, ":session_id", "resume"), sessionHandler.HandleResumeRequest)
		apiGroup.POST(path.Join(domain.BulkSessionsEndpoint, ":session_id", "cancel"), sessionHandler.HandleCancelRequest)

		// Explicit reclamation of finished sessions.
		apiGroup.DELETE(path.Join(domain.BulkSessionsEndpoint, ":session_id"), sessionHandler.HandleDeleteRequest)
		apiGroup.DELETE(domain.BulkSessionsEndpoint, sessionHandler.HandleClearAllRequest)

		// Used internally (by the frontend) to get the system config from the backend.
		apiGroup.GET(domain.SystemConfigEndpoint, handlers.NewConfigHttpHandler(s.opts, s.atom).HandleRequest)
	}

	gin.SetMode(gin.DebugMode)

	return nil
}

// HandlePrometheusRequest passes the request directly to the http.Handler returned by promhttp.Handler.
func (s *serverImpl) HandlePrometheusRequest(c *gin.Context) {
	s.prometheusHandler.ServeHTTP(c.Writer, c.Request)
}

// Serve is a blocking call that launches a goroutine to serve the HTTP server.
func (s *serverImpl) Serve() error {
	var wg sync.WaitGroup
	wg.Add(1)

	s.serveHttp(&wg)

	wg.Wait()
	return nil
}

func (s *serverImpl) serveHttp(wg *sync.WaitGroup) {
	s.logger.Debug("Listening for HTTP requests.", zap.String("address", fmt.Sprintf(":%d", s.opts.ServerPort)))
	go func() {
		addr := fmt.Sprintf(":%d", s.opts.ServerPort)
		if err := http.ListenAndServe(addr, s.engine); err != nil {
			s.sugaredLogger.Errorf("HTTP Server failed to listen on '%s'. Error: %v", addr, err)
			panic(err)
		}

		wg.Done()
	}()
}
