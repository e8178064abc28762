package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"EscrowSettle/internal/auth"
	"EscrowSettle/internal/engine"
	"EscrowSettle/internal/observability"
	"EscrowSettle/internal/trade"
)

// Server exposes the settlement engine over HTTP.
type Server struct {
	engine  *engine.Engine
	tokens  *auth.TokenService
	health  *observability.HealthChecker
	metrics *observability.Metrics
	logger  zerolog.Logger
}

type Config struct {
	Engine  *engine.Engine
	Tokens  *auth.TokenService
	Health  *observability.HealthChecker
	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

func New(cfg Config) *Server {
	return &Server{
		engine:  cfg.Engine,
		tokens:  cfg.Tokens,
		health:  cfg.Health,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
}

// Router builds the gin engine with all routes and middleware attached.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.observe())

	if s.health != nil {
		router.GET("/healthz", gin.WrapF(s.health.LivenessHandler))
		router.GET("/readyz", gin.WrapF(s.health.ReadinessHandler))
	}

	v1 := router.Group("/api/v1")
	{
		v1.POST("/auth/token", RateLimit(), s.generateToken)

		// JWTAuth runs before the limiter so throttling keys on the
		// account claim, not the client address.
		authed := v1.Group("")
		authed.Use(JWTAuth(s.tokens), RateLimit())
		{
			authed.POST("/escrow/deposit", s.deposit)
			authed.POST("/escrow/withdraw", s.withdraw)
			authed.GET("/escrow/balance/:asset", s.balance)
			authed.GET("/settlements/:order_id", s.settlementStatus)
			authed.GET("/nonce/:asset", s.nonce)

			operator := authed.Group("")
			operator.Use(RequireOperator())
			{
				operator.POST("/settlements/cross", s.settleCrossChain)
				operator.POST("/settlements/same", s.settleSameChain)
				operator.POST("/operator/transfer", s.transferOperator)
			}
		}
	}

	return router
}

// observe records request counts and latencies per route.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.metrics == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		s.metrics.HTTPRequests.WithLabelValues(endpoint, strconv.Itoa(c.Writer.Status())).Inc()
		s.metrics.HTTPDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

func (s *Server) generateToken(c *gin.Context) {
	var creds auth.Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		BadRequest(c, err.Error())
		return
	}

	resp, err := s.tokens.GenerateToken(creds)
	if err != nil {
		Unauthorized(c, "Invalid API credentials")
		return
	}
	Success(c, resp)
}

// balanceRequest moves escrow for an account. Account defaults to the
// caller; balance operations are strictly self-service, so the engine
// rejects any other account.
type balanceRequest struct {
	Account string `json:"account"`
	Asset   string `json:"asset" binding:"required"`
	Amount  int64  `json:"amount" binding:"required"`
}

func (r *balanceRequest) accountOrDefault(caller uuid.UUID) (uuid.UUID, error) {
	if r.Account == "" {
		return caller, nil
	}
	return uuid.Parse(r.Account)
}

func (s *Server) deposit(c *gin.Context) {
	caller, ok := callerAccount(c)
	if !ok {
		Unauthorized(c, "Missing authentication claims")
		return
	}

	var req balanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	account, err := req.accountOrDefault(caller)
	if err != nil {
		BadRequest(c, "Invalid account ID")
		return
	}

	err = s.engine.Deposit(c.Request.Context(), caller, account, req.Asset, req.Amount)
	Handle(c, gin.H{"account": account, "asset": req.Asset, "amount": req.Amount}, err)
}

func (s *Server) withdraw(c *gin.Context) {
	caller, ok := callerAccount(c)
	if !ok {
		Unauthorized(c, "Missing authentication claims")
		return
	}

	var req balanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	account, err := req.accountOrDefault(caller)
	if err != nil {
		BadRequest(c, "Invalid account ID")
		return
	}

	err = s.engine.Withdraw(c.Request.Context(), caller, account, req.Asset, req.Amount)
	Handle(c, gin.H{"account": account, "asset": req.Asset, "amount": req.Amount}, err)
}

func (s *Server) balance(c *gin.Context) {
	caller, ok := callerAccount(c)
	if !ok {
		Unauthorized(c, "Missing authentication claims")
		return
	}

	asset := c.Param("asset")
	total, available, locked := s.engine.Balance(caller, asset)
	Success(c, gin.H{
		"asset":     asset,
		"total":     total,
		"available": available,
		"locked":    locked,
	})
}

func (s *Server) nonce(c *gin.Context) {
	caller, ok := callerAccount(c)
	if !ok {
		Unauthorized(c, "Missing authentication claims")
		return
	}

	asset := c.Param("asset")
	Success(c, gin.H{
		"asset": asset,
		"nonce": s.engine.Nonce(caller, asset),
	})
}

func (s *Server) settlementStatus(c *gin.Context) {
	orderID := c.Param("order_id")
	if orderID == "" {
		BadRequest(c, "Order ID is required")
		return
	}
	Success(c, s.engine.SettlementStatus(orderID))
}

type crossChainRequest struct {
	Trade     trade.Trade `json:"trade" binding:"required"`
	SourceLeg bool        `json:"is_source_leg"`
}

func (s *Server) settleCrossChain(c *gin.Context) {
	caller, ok := callerAccount(c)
	if !ok {
		Unauthorized(c, "Missing authentication claims")
		return
	}

	var req crossChainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	rec, err := s.engine.SettleCrossChainTrade(c.Request.Context(), caller, &req.Trade, req.SourceLeg)
	Handle(c, rec, err)
}

type sameChainRequest struct {
	Trade trade.Trade `json:"trade" binding:"required"`
}

func (s *Server) settleSameChain(c *gin.Context) {
	caller, ok := callerAccount(c)
	if !ok {
		Unauthorized(c, "Missing authentication claims")
		return
	}

	var req sameChainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	rec, err := s.engine.SettleSameChainTrade(c.Request.Context(), caller, &req.Trade)
	Handle(c, rec, err)
}

type operatorTransferRequest struct {
	NewOperator string `json:"new_operator" binding:"required"`
}

func (s *Server) transferOperator(c *gin.Context) {
	caller, ok := callerAccount(c)
	if !ok {
		Unauthorized(c, "Missing authentication claims")
		return
	}

	var req operatorTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	newOperator, err := uuid.Parse(req.NewOperator)
	if err != nil {
		BadRequest(c, "Invalid operator ID")
		return
	}

	err = s.engine.TransferOperator(caller, newOperator)
	Handle(c, gin.H{"operator": newOperator}, err)
}
