package boot

import (
	"context"
	"log"
	"thruster/src/config"
	"thruster/src/db"
	"thruster/src/lib"
	awslib "thruster/src/lib/aws"
	"thruster/src/mint"
	"thruster/src/models"
	"time"

	"gorm.io/gorm"
)

func InitDb() *gorm.DB {
	db := db.GetDb()

	err := db.AutoMigrate(
		&models.Order{},
		&models.NFTRecord{},
		&models.PaymentLog{},
		&models.Booking{},
		&models.MintAttempt{},
	)
	if err != nil {
		log.Fatalf("error migration: %s", err.Error())
	}

	return db
}

// LoadSecrets overrides credentials in cfg from Secrets Manager when AWS_SECRETS_ID is set.
func LoadSecrets(ctx context.Context, cfg *config.App) error {
	if cfg.AWSSecretsID == "" {
		return nil
	}
	client, err := awslib.GetSecretsClient()
	if err != nil {
		return err
	}
	secrets, err := awslib.LoadSecrets(ctx, client, cfg.AWSSecretsID)
	if err != nil {
		return err
	}
	cfg.ApplySecrets(secrets)
	log.Printf("[Secrets] Loaded %d values from %s\n", len(secrets), cfg.AWSSecretsID)
	return nil
}

// InitBroker returns the order event publisher selected by EVENTS_BACKEND and
// a function that flushes it on shutdown.
func InitBroker(cfg *config.App) (mint.EventPublisher, func()) {
	noop := func() {}
	switch cfg.EventsBackend {
	case "kafka":
		go func() {
			if _, err := lib.KafkaCreateTopics(cfg.KafkaBroker, cfg.EventsTopic); err != nil {
				log.Printf("[Kafka] Could not create %s: %s\n", cfg.EventsTopic, err.Error())
			}
		}()
		p, err := lib.NewKafkaPublisher(cfg.KafkaBroker, "thruster-api")
		if err != nil {
			log.Printf("[Kafka] Falling back to log events: %s\n", err.Error())
			return mint.LogPublisher{}, noop
		}
		return p, p.Close
	case "sns":
		p, err := awslib.NewSNSPublisher()
		if err != nil {
			log.Printf("[SNS] Falling back to log events: %s\n", err.Error())
			return mint.LogPublisher{}, noop
		}
		return p, noop
	}
	return mint.LogPublisher{}, noop
}

// InitMetadata returns the S3 publisher, or nil when no bucket is configured.
// A nil publisher means orders must already carry a metadata URL to be minted.
func InitMetadata(cfg *config.App) mint.MetadataPublisher {
	if cfg.MetadataBucket == "" {
		log.Println("[Mint] S3_METADATA_BUCKET is not set, metadata upload disabled")
		return nil
	}
	client := awslib.GetS3Client()
	if client == nil {
		return nil
	}
	return &mint.S3MetadataPublisher{
		Client:     client,
		Bucket:     cfg.MetadataBucket,
		BaseURL:    cfg.MetadataBaseURL,
		Collection: cfg.NFTCollection,
		ImageURL:   cfg.NFTImageURL,
	}
}

type Sweep struct {
	Name     string
	Task     func()
	Interval time.Duration
}

func InitScheduler(sweeps ...Sweep) {
	sched, err := lib.GetScheduler()
	if err != nil {
		log.Println("An error has occurred. Check logs for info")
		return
	}
	for _, s := range sweeps {
		if _, err := lib.CreateCronJob(s.Name, s.Task, s.Interval); err != nil {
			log.Printf("Error scheduling %s: %s\n", s.Name, err.Error())
		}
	}
	log.Println("Jobs in queue:", len(sched.Jobs()))
	sched.Start()
}

func StopScheduler() {
	sched, err := lib.GetScheduler()
	if err != nil {
		log.Println("Error retrieving Scheduler. Check logs for info")
		return
	}
	err = sched.Shutdown()
	if err != nil {
		log.Println("An error has occurred while shutting stopping Scheduler. Check logs for info")
		return
	}
}
