// seed inserts development tenant settings and prints a device token for local testing.
// Idempotent: the settings row is upserted on every run.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"trailwatch/backend/internal/config"
	"trailwatch/backend/internal/db"
	"trailwatch/backend/internal/errs"
	"trailwatch/backend/internal/logging"
	"trailwatch/backend/internal/security"
	settingsdomain "trailwatch/backend/internal/tenantsettings/domain"
	settingsrepo "trailwatch/backend/internal/tenantsettings/repository"
)

const (
	devOwnerID  = "dev-owner-001"
	devDeviceID = "dev-device-001"
)

type options struct {
	ownerID      string
	deviceID     string
	smsTo        string
	smsAPIKey    string
	channelID    string
	writeKey     string
	labelerToken string
}

func main() {
	var opts options
	flag.StringVar(&opts.ownerID, "owner", devOwnerID, "Owner (tenant) id to seed")
	flag.StringVar(&opts.deviceID, "device", devDeviceID, "Device id embedded in the printed token")
	flag.StringVar(&opts.smsTo, "sms-to", "", "SMS destination; empty leaves SMS unconfigured")
	flag.StringVar(&opts.smsAPIKey, "sms-api-key", "", "SMS Local API key")
	flag.StringVar(&opts.channelID, "channel", "", "ThingSpeak channel id; empty leaves the mirror unconfigured")
	flag.StringVar(&opts.writeKey, "write-key", "", "ThingSpeak write key")
	flag.StringVar(&opts.labelerToken, "labeler-token", "", "If set, print the bcrypt hash to use as LABELER_TOKEN_HASH")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", slog.Any("err", err))
		os.Exit(1)
	}
	logging.SetDefault(logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat))
	ctx := context.Background()

	if err := seed(ctx, cfg, opts); err != nil {
		logging.Error(ctx, "seed failed", slog.Any("err", errs.Loggable(err)))
		os.Exit(1)
	}
}

func seed(ctx context.Context, cfg *config.Config, opts options) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return errs.Wrap(err, "open database")
	}
	defer conn.Close()

	settings := &settingsdomain.TenantSettings{
		OwnerID: opts.ownerID,
		Mirror: settingsdomain.MirrorSettings{
			ChannelID: opts.channelID,
			WriteKey:  opts.writeKey,
			Transport: settingsdomain.TransportHTTP,
		},
		Alerts:    settingsdomain.AlertPolicy{MinConfidence: 0.5},
		UpdatedAt: time.Now().UTC(),
	}
	if opts.smsTo != "" {
		settings.SMS = settingsdomain.SMSSettings{
			Provider:    settingsdomain.ProviderSMSLocal,
			Destination: opts.smsTo,
			APIKey:      opts.smsAPIKey,
			Sender:      "TRLWCH",
		}
	}
	if err := settingsrepo.NewPostgresRepository(conn).Upsert(ctx, settings); err != nil {
		return errs.Wrap(err, "upsert tenant settings")
	}
	logging.Info(ctx, "seed: tenant settings upserted", slog.String("owner_id", opts.ownerID))

	if cfg.JWTPrivateKey != "" {
		key, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
		if err != nil {
			return errs.Wrap(err, "JWT_PRIVATE_KEY")
		}
		tokens := security.NewTokenProvider(key, nil, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())
		tok, exp, err := tokens.IssueAccess(opts.ownerID, opts.deviceID)
		if err != nil {
			return errs.Wrap(err, "issue device token")
		}
		fmt.Printf("Device token (expires %s):\n%s\n", exp.Format(time.RFC3339), tok)
	} else {
		logging.Warn(ctx, "seed: JWT_PRIVATE_KEY not set, no device token printed")
	}

	if opts.labelerToken != "" {
		hash, err := security.NewHasher(cfg.BcryptCost).Hash([]byte(opts.labelerToken))
		if err != nil {
			return errs.Wrap(err, "hash labeler token")
		}
		fmt.Printf("LABELER_TOKEN_HASH=%s\n", hash)
	}
	return nil
}
