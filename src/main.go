package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path"
	"regexp"
	"strconv"
	"syscall"
	"thruster/src/bookings"
	"thruster/src/boot"
	"thruster/src/common"
	"thruster/src/config"
	"thruster/src/lib"
	"thruster/src/lib/amadeus"
	awslib "thruster/src/lib/aws"
	"thruster/src/lib/mailer"
	"thruster/src/lib/nowpayments"
	"thruster/src/lib/ton"
	"thruster/src/middlewares"
	"thruster/src/mint"
	"thruster/src/payments"
	"thruster/src/repository"
	"thruster/src/utils"
	"time"

	"github.com/covalenthq/lumberjack"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	apiPrefix string = "/api/v1"
)

var tonAddressValidatorFunc validator.Func = func(fl validator.FieldLevel) bool {
	addr, ok := fl.Field().Interface().(string)
	return ok && ton.ValidateAddress(addr)
}

var gtdate validator.Func = func(fl validator.FieldLevel) bool {
	date, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	datetime, err := time.Parse(config.DATE_FORMAT, date)
	if err != nil {
		return false
	}
	field := fl.Parent().FieldByName(fl.Param())
	fieldValue, ok := field.Interface().(string)
	if !ok {
		return false
	}
	fielddatetime, err := time.Parse(config.DATE_FORMAT, fieldValue)
	if err != nil {
		return false
	}
	return datetime.After(fielddatetime)
}

func registerValidations() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("tonaddress", tonAddressValidatorFunc)
		v.RegisterValidation("gtdate", gtdate)
	}
}

func setupRouter(s *Server) *gin.Engine {
	router := gin.Default()
	router.Use(middlewares.SecureHeaders)
	router.GET("/", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, "ok")
	})
	router.GET("/healthz", s.healthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}

func maintenanceModeMiddleware(g *gin.Engine) *gin.Engine {
	g.Use(func(ctx *gin.Context) {
		mm := os.Getenv("MAINTENANCE_MODE")
		if mm == "" {
			return
		}
		on, err := strconv.ParseBool(mm)
		if err != nil || on {
			err := errors.New("server is under maintenance")
			log.Println(err.Error())
			ctx.AbortWithStatusJSON(http.StatusServiceUnavailable, err.Error())
			return
		}
	})
	return g
}

func apiv1Group(g *gin.Engine) *gin.RouterGroup {
	apiv1 := g.Group(apiPrefix)
	return apiv1
}

func (s *Server) routes(router *gin.Engine) {
	s.webhookHandlers(apiv1Group(router))

	authorized := apiv1Group(router)
	authorized.Use(middlewares.AuthMiddleware)
	{
		s.orderHandlers(authorized)
		s.paymentHandlers(authorized)
		s.bookingHandlers(authorized)
		s.adminHandlers(authorized)
	}
}

func corsConfig(cfg *config.App) gin.HandlerFunc {
	if cfg.IsLocal() {
		return cors.Default()
	}
	cc := cors.DefaultConfig()
	cc.AllowMethods = append(cc.AllowMethods, "GET", "POST", "PATCH", "PUT", "DELETE", "HEAD")
	cc.AllowHeaders = append(cc.AllowHeaders, "Origin", "Authorization")
	appHost := regexp.QuoteMeta(cfg.AppHost)
	cc.AllowOriginFunc = func(origin string) bool {
		match, _ := regexp.MatchString("^"+appHost+"$", origin)
		return match
	}
	cc.AllowCredentials = true
	cc.AllowAllOrigins = false
	return cors.New(cc)
}

func initLogger(cfg *config.App) {
	if cfg.IsLocal() {
		return
	}
	cwd, _ := os.Getwd()
	logDir := path.Join(cwd, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		log.Printf("Could not create %s: %s\n", logDir, err.Error())
		return
	}
	f, err := os.OpenFile(path.Join(logDir, "api.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err == nil {
		gin.DefaultWriter = io.MultiWriter(f, os.Stdout)
	}
	log.SetOutput(&lumberjack.Logger{
		Filename:   path.Join(logDir, "server.log"),
		MaxSize:    500,
		MaxBackups: 3,
		MaxAge:     30,
		Compress:   true,
	})
}

func main() {
	if os.Getenv("API_ENV") == "local" {
		cwd, _ := os.Getwd()
		if err := godotenv.Load(path.Join(cwd, ".env")); err != nil {
			log.Printf("No .env loaded: %s\n", err.Error())
		}
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %s", err)
	}
	initLogger(cfg)
	if cfg.IsLocal() {
		gin.ForceConsoleColor()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := boot.LoadSecrets(ctx, cfg); err != nil {
		log.Fatalf("Failed to load secrets: %s", err)
	}

	gdb := boot.InitDb()
	rdb := lib.GetRedisClient()
	if rdb == nil {
		log.Fatalf("Invalid REDIS_HOST: %s", cfg.RedisURL)
	}

	orders := repository.NewOrders(gdb)
	attempts := repository.NewMintAttempts(gdb)
	nfts := repository.NewNFTRecords(gdb)
	ledger := repository.NewPaymentLedger(gdb)
	bookingStore := repository.NewBookings(gdb)

	chain := ton.NewClient(cfg.TonRPCURL, cfg.TonMintRelayURL, cfg.TonAPIKey)
	events, closeEvents := boot.InitBroker(cfg)
	defer closeEvents()

	coordinator := mint.NewCoordinator(orders, nfts, attempts, chain, boot.InitMetadata(cfg), events, mint.Options{
		Retry: mint.RetryPolicy{
			MaxRetries: cfg.MintMaxRetries,
			Base:       cfg.MintBackoffBase,
			Cap:        cfg.MintBackoffCap,
		},
		SubmitTimeout:   cfg.MintSubmitTimeout,
		LookupTimeout:   cfg.MintLookupTimeout,
		MetadataTimeout: cfg.MintMetadataTimeout,
		EventsTopic:     cfg.EventsTopic,
	})
	pool := mint.NewPool(coordinator, orders, mint.PoolOptions{
		Workers:      cfg.MintWorkers,
		QueueSize:    cfg.MintQueueSize,
		SweepBatch:   cfg.MintSweepBatch,
		LeaseTimeout: cfg.MintLeaseTimeout,
	})

	reservations := amadeus.NewClient(ctx, cfg.AmadeusURL, cfg.AmadeusClientID, cfg.AmadeusClientSecret)
	bookingService := bookings.NewService(rdb, bookingStore, ledger, reservations, mailer.New(cfg))
	paymentService := payments.NewService(rdb, ledger, orders, bookingService, pool)

	pool.Start(ctx)
	defer pool.Stop()

	boot.InitScheduler(
		boot.Sweep{Name: "mint-sweep", Task: pool.SweepTask, Interval: cfg.MintSweepInterval},
		boot.Sweep{Name: "booking-sweep", Task: bookingService.SweepTask, Interval: cfg.BookingSweepPeriod},
	)
	defer boot.StopScheduler()

	if cfg.PaymentEventsQueue != "" {
		if client := awslib.GetSQSClient(); client != nil {
			common.SQSConsumers(ctx, client, utils.WithSuffix(cfg.PaymentEventsQueue), paymentService)
		}
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		log.Fatalf("Error establishing connection to database: %s", err)
	}

	s := &Server{
		cfg:          cfg,
		orders:       orders,
		nfts:         nfts,
		ledger:       ledger,
		attempts:     attempts,
		bookingStore: bookingStore,
		bookings:     bookingService,
		payments:     paymentService,
		mints:        pool,
		invoices:     nowpayments.NewClient(cfg.NowPaymentsURL, cfg.NowPaymentsAPIKey),
		checkout:     lib.CreateCheckoutSession,
		ton:          chain,
		health: map[string]Pinger{
			"database": sqlDB.PingContext,
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
		now: func() time.Time { return time.Now().UTC() },
	}

	registerValidations()
	router := setupRouter(s)
	router.Use(corsConfig(cfg))
	router = maintenanceModeMiddleware(router)
	s.routes(router)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}
	go func() {
		log.Printf("Listening on %s\n", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %s", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown: %s\n", err.Error())
	}
}
