package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"surveyapp/backend/internal/audit"
	auditrepo "surveyapp/backend/internal/audit/repository"
	"surveyapp/backend/internal/config"
	"surveyapp/backend/internal/db"
	"surveyapp/backend/internal/db/migrate"
	"surveyapp/backend/internal/devotp"
	devotphandler "surveyapp/backend/internal/devotp/handler"
	"surveyapp/backend/internal/health"
	healthhandler "surveyapp/backend/internal/health/handler"
	identityhandler "surveyapp/backend/internal/identity/handler"
	identityservice "surveyapp/backend/internal/identity/service"
	"surveyapp/backend/internal/mfa"
	mfarepo "surveyapp/backend/internal/mfa/repository"
	"surveyapp/backend/internal/mfa/sms"
	policyengine "surveyapp/backend/internal/policy/engine"
	"surveyapp/backend/internal/security"
	"surveyapp/backend/internal/server"
	"surveyapp/backend/internal/server/middleware"
	"surveyapp/backend/internal/session"
	sessionrepo "surveyapp/backend/internal/session/repository"
	"surveyapp/backend/internal/telemetry"
	telemetryotel "surveyapp/backend/internal/telemetry/otel"
	"surveyapp/backend/internal/telemetry/producer"
	"surveyapp/backend/internal/user"
	userrepo "surveyapp/backend/internal/user/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx := context.Background()

	if err := migrate.Run(cfg.DBDriver, cfg.DatabaseURL, "up"); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("migrate: %v", err)
	}
	conn, err := db.Open(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Environment: cfg.Env,
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()
	metrics, err := telemetry.NewAuthMetrics(providers.MeterProvider)
	if err != nil {
		log.Fatalf("telemetry: metrics: %v", err)
	}
	emitters := []telemetry.EventEmitter{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	kafkaProducer := producer.NewKafkaProducer(cfg.TelemetryKafkaBrokersList(), cfg.TelemetryKafkaTopic)
	if kafkaProducer != nil {
		log.Printf("telemetry: kafka producer enabled (topic %s)", kafkaProducer.Topic())
		emitters = append(emitters, kafkaProducer)
	}
	events := telemetry.Multi(emitters...)

	policy, err := newPolicy(ctx, cfg.OTPPolicyFile)
	if err != nil {
		log.Fatalf("policy: %v", err)
	}

	users := user.NewDirectory(userrepo.NewSQLRepository(conn), nil)
	otpStore := mfa.NewStore(mfarepo.NewSQLRepository(conn), security.NewHasher(cfg.BcryptCost), mfa.Options{
		TTL:          cfg.OTPExpiry(),
		ResendWindow: cfg.ResendWindow(),
		MaxAttempts:  cfg.OTPMaxAttempts,
	})
	sessions := session.NewStore(sessionrepo.NewSQLRepository(conn), users, cfg.SessionExpiry(), nil)
	auditLogger := audit.NewLogger(auditrepo.NewSQLRepository(conn), middleware.ClientIPFromContext)

	var devStore devotp.Store
	if cfg.DevOTPEnabled() {
		devStore, err = newDevOTPStore(ctx, cfg)
		if err != nil {
			log.Fatalf("dev otp: %v", err)
		}
		log.Printf("dev OTP mode: codes are served at GET /dev/otp and not sent by SMS")
	}

	authSvc := identityservice.NewAuthService(identityservice.Deps{
		OTP:      otpStore,
		Sessions: sessions,
		Users:    users,
		Sender:   newSender(cfg, devStore),
		Policy:   policy,
		Audit:    auditLogger,
		Events:   events,
		Metrics:  metrics,
	})

	checker := &health.Checker{DB: conn, Policy: policy}
	deps := server.Deps{
		Auth:              identityhandler.NewHandler(authSvc),
		Health:            healthhandler.NewHandler(checker),
		Events:            events,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
	}
	if devStore != nil {
		deps.DevOTP = devotphandler.NewHandler(devStore)
	}

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve http: %v", err)
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatalf("listen: %v", err)
		}
		grpcSrv = server.NewGRPCServer(healthhandler.NewGRPCServer(ctx, checker))
		go func() {
			log.Printf("gRPC health server listening on %s", cfg.GRPCAddr)
			if err := grpcSrv.Serve(lis); err != nil {
				log.Fatalf("serve grpc: %v", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	// Let in-flight async telemetry emits finish before the exporters close.
	time.Sleep(telemetry.ShutdownDrainDuration)
	if err := kafkaProducer.Close(); err != nil {
		log.Printf("telemetry: kafka close: %v", err)
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("telemetry: shutdown: %v", err)
	}
	log.Println("server stopped")
}

func newPolicy(ctx context.Context, file string) (*policyengine.OPAEvaluator, error) {
	if file != "" {
		log.Printf("policy: loading %s", file)
		return policyengine.NewOPAEvaluatorFromFile(ctx, file)
	}
	return policyengine.NewOPAEvaluator(ctx, policyengine.DefaultRegoPolicy)
}

// newDevOTPStore returns a Redis-backed store when REDIS_ADDR is set, else process memory.
func newDevOTPStore(ctx context.Context, cfg *config.Config) (devotp.Store, error) {
	if cfg.RedisAddr == "" {
		return devotp.NewMemoryStore(), nil
	}
	store := devotp.NewRedisStore(cfg.RedisAddr, cfg.RedisDB)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func newSender(cfg *config.Config, devStore devotp.Store) sms.Sender {
	switch {
	case devStore != nil:
		return sms.NewDevStoreSender(devStore, cfg.OTPExpiry())
	case cfg.SMSProvider == config.SMSProviderSMSLocal:
		return sms.NewSMSLocalClient(cfg.SMSLocalAPIKey, cfg.SMSLocalBaseURL, cfg.SMSLocalSender)
	default:
		return sms.LogSender{}
	}
}
