package config

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type App struct {
	Env             string `envconfig:"API_ENV" default:"local"`
	Port            string `envconfig:"PORT" default:"9090"`
	AppHost         string `envconfig:"APP_HOST" default:"http://localhost:3000"`
	MaintenanceMode bool   `envconfig:"MAINTENANCE_MODE" default:"false"`
	JWTSecret       string `envconfig:"JWT_SECRET"`
	RedisURL        string `envconfig:"REDIS_HOST" default:"redis://localhost:6379/0"`

	MintWorkers         int           `envconfig:"MINT_WORKERS" default:"4"`
	MintQueueSize       int           `envconfig:"MINT_QUEUE_SIZE" default:"256"`
	MintMaxRetries      int           `envconfig:"MINT_MAX_RETRIES" default:"5"`
	MintBackoffBase     time.Duration `envconfig:"MINT_BACKOFF_BASE" default:"30s"`
	MintBackoffCap      time.Duration `envconfig:"MINT_BACKOFF_CAP" default:"30m"`
	MintSubmitTimeout   time.Duration `envconfig:"MINT_SUBMIT_TIMEOUT" default:"45s"`
	MintLookupTimeout   time.Duration `envconfig:"MINT_LOOKUP_TIMEOUT" default:"20s"`
	MintMetadataTimeout time.Duration `envconfig:"MINT_METADATA_TIMEOUT" default:"30s"`
	MintLeaseTimeout    time.Duration `envconfig:"MINT_LEASE_TIMEOUT" default:"10m"`
	MintSweepInterval   time.Duration `envconfig:"MINT_SWEEP_INTERVAL" default:"1m"`
	MintSweepBatch      int           `envconfig:"MINT_SWEEP_BATCH" default:"100"`
	BookingSweepPeriod  time.Duration `envconfig:"BOOKING_SWEEP_INTERVAL" default:"2m"`

	TonRPCURL         string `envconfig:"TON_RPC_URL" default:"https://toncenter.com/api/v2/jsonRPC"`
	TonMintRelayURL   string `envconfig:"TON_MINT_RELAY_URL"`
	TonAPIKey         string `envconfig:"TON_API_KEY"`
	TonReceiverWallet string `envconfig:"TON_RECEIVER_WALLET"`

	NFTCollection   string `envconfig:"NFT_COLLECTION_NAME" default:"Thruster Receipts"`
	NFTImageURL     string `envconfig:"NFT_IMAGE_URL"`
	MetadataBucket  string `envconfig:"S3_METADATA_BUCKET"`
	MetadataBaseURL string `envconfig:"METADATA_BASE_URL"`

	NowPaymentsURL       string `envconfig:"NOWPAYMENTS_API_URL" default:"https://api.nowpayments.io/v1"`
	NowPaymentsAPIKey    string `envconfig:"NOWPAYMENTS_API_KEY"`
	NowPaymentsIPNSecret string `envconfig:"NOWPAYMENTS_IPN_SECRET"`
	StripeSecretKey      string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret  string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	BaseURL              string `envconfig:"BASE_URL" default:"http://localhost:9090"`
	FrontendURL          string `envconfig:"FRONTEND_URL" default:"http://localhost:3000"`

	AmadeusURL          string `envconfig:"AMADEUS_API_URL" default:"https://test.api.amadeus.com"`
	AmadeusClientID     string `envconfig:"AMADEUS_CLIENT_ID"`
	AmadeusClientSecret string `envconfig:"AMADEUS_CLIENT_SECRET"`
	ProviderSecret      string `envconfig:"PROVIDER_CALLBACK_SECRET"`

	EventsBackend      string `envconfig:"EVENTS_BACKEND" default:"log"`
	EventsTopic        string `envconfig:"EVENTS_TOPIC" default:"order-events"`
	KafkaBroker        string `envconfig:"KAFKA_BROKER" default:"localhost:9092"`
	PaymentEventsQueue string `envconfig:"PAYMENT_EVENTS_QUEUE"`
	AWSSecretsID       string `envconfig:"AWS_SECRETS_ID"`

	MailBackend  string `envconfig:"MAIL_BACKEND" default:"smtp"`
	MailFrom     string `envconfig:"MAIL_FROM" default:"no-reply@thruster.app"`
	MailFromName string `envconfig:"MAIL_FROM_NAME" default:"Thruster"`
	SMTPHost     string `envconfig:"SMTP_HOST"`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername string `envconfig:"SMTP_USERNAME"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`
}

var (
	mu  sync.RWMutex
	app *App
)

// Load reads the environment into a new App and stores it as the process config.
func Load() (*App, error) {
	var c App
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	Set(&c)
	return &c, nil
}

func Get() *App {
	mu.RLock()
	defer mu.RUnlock()
	return app
}

// Set Replace config instance, used by tests
func Set(c *App) {
	mu.Lock()
	app = c
	mu.Unlock()
}

func (c *App) Validate() error {
	if c.MintWorkers < 1 {
		return errors.New("MINT_WORKERS must be at least 1")
	}
	if c.MintMaxRetries < 0 {
		return errors.New("MINT_MAX_RETRIES must not be negative")
	}
	if c.MintBackoffCap < c.MintBackoffBase {
		return errors.New("MINT_BACKOFF_CAP must not be below MINT_BACKOFF_BASE")
	}
	// the lease is stamped at claim and renewed before submit; each stretch must time out inside it
	if c.MintLeaseTimeout <= c.MintSubmitTimeout+c.MintLookupTimeout {
		return fmt.Errorf("MINT_LEASE_TIMEOUT (%s) must exceed submit+lookup timeouts (%s)", c.MintLeaseTimeout, c.MintSubmitTimeout+c.MintLookupTimeout)
	}
	if c.MintLeaseTimeout <= c.MintLookupTimeout+c.MintMetadataTimeout {
		return fmt.Errorf("MINT_LEASE_TIMEOUT (%s) must exceed lookup+metadata timeouts (%s)", c.MintLeaseTimeout, c.MintLookupTimeout+c.MintMetadataTimeout)
	}
	return nil
}

func (c *App) IsLocal() bool {
	return c.Env == "local"
}

// ApplySecrets overrides credentials with values read from the secrets store.
func (c *App) ApplySecrets(secrets map[string]string) {
	set := func(dst *string, key string) {
		if v, ok := secrets[key]; ok && v != "" {
			*dst = v
		}
	}
	set(&c.TonAPIKey, "TON_API_KEY")
	set(&c.NowPaymentsAPIKey, "NOWPAYMENTS_API_KEY")
	set(&c.NowPaymentsIPNSecret, "NOWPAYMENTS_IPN_SECRET")
	set(&c.StripeSecretKey, "STRIPE_SECRET_KEY")
	set(&c.StripeWebhookSecret, "STRIPE_WEBHOOK_SECRET")
	set(&c.JWTSecret, "JWT_SECRET")
	set(&c.AmadeusClientSecret, "AMADEUS_CLIENT_SECRET")
	set(&c.SMTPPassword, "SMTP_PASSWORD")
	set(&c.ProviderSecret, "PROVIDER_CALLBACK_SECRET")
}

func GetDSN() string {
	DATABASE_HOST := os.Getenv("DATABASE_HOST")
	DATABASE_PORT := os.Getenv("DATABASE_PORT")
	DATABASE_SSLMODE := os.Getenv("DATABASE_SSLMODE")
	DATABASE_TIMEZONE := os.Getenv("DATABASE_TIMEZONE")
	DATABASE_USER := os.Getenv("DATABASE_USER")
	DATABASE_PASSWORD := os.Getenv("DATABASE_PASSWORD")
	DATABASE_NAME := os.Getenv("DATABASE_NAME")
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s", DATABASE_HOST, DATABASE_USER, DATABASE_PASSWORD, DATABASE_NAME, DATABASE_PORT, DATABASE_SSLMODE, DATABASE_TIMEZONE)
	return dsn
}

const DATE_FORMAT = "2006-01-02"
