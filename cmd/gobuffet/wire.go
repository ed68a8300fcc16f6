package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightninglabs/lndclient"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/sebdeveloper6952/gobuffet"
	"github.com/sebdeveloper6952/gobuffet/config"
	"github.com/sebdeveloper6952/gobuffet/guard"
	redislock "github.com/sebdeveloper6952/gobuffet/guard/redis"
	"github.com/sebdeveloper6952/gobuffet/lightning"
	"github.com/sebdeveloper6952/gobuffet/lightning/lnbits"
	"github.com/sebdeveloper6952/gobuffet/lightning/lnd"
	"github.com/sebdeveloper6952/gobuffet/lightning/lnurl"
	"github.com/sebdeveloper6952/gobuffet/nostr"
	"github.com/sebdeveloper6952/gobuffet/services/upstream"
	"github.com/sebdeveloper6952/gobuffet/store"
	"github.com/sebdeveloper6952/gobuffet/store/memory"
	"github.com/sebdeveloper6952/gobuffet/store/postgres"
	"github.com/sebdeveloper6952/gobuffet/store/sqlite"
)

// closers collects shutdown funcs run in reverse order.
type closers []func()

func (c *closers) add(f func()) { *c = append(*c, f) }

func (c closers) close() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func newLogger(cfg *config.Config) (*logrus.Logger, error) {
	logger := logrus.New()
	switch cfg.LogFormat {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{
			DisableColors: false,
			FullTimestamp: true,
		})
	default:
		return nil, fmt.Errorf("unknown log_format %q", cfg.LogFormat)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)
	return logger, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.StoreMemory:
		return memory.New(), nil
	case config.StoreSQLite:
		return sqlite.Open(ctx, cfg.DSN, sqlite.WithTable(cfg.Table))
	case config.StorePostgres:
		return postgres.Open(ctx, cfg.DSN, postgres.WithTable(cfg.Table))
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

func networkParams(network string) (*chaincfg.Params, error) {
	switch strings.ToLower(network) {
	case "", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	}
	return nil, fmt.Errorf("unknown network %q", network)
}

func newGateway(cfg config.LightningConfig, client *http.Client, cl *closers) (lightning.Gateway, error) {
	switch cfg.Backend {
	case config.LightningLND:
		var tlsData string
		if cfg.LND.TLSPath != "" {
			b, err := os.ReadFile(cfg.LND.TLSPath)
			if err != nil {
				return nil, fmt.Errorf("read lnd tls cert: %w", err)
			}
			tlsData = string(b)
		}
		gw, err := lnd.New(lnd.Config{
			Address:     cfg.LND.Host,
			GrpcPort:    cfg.LND.GrpcPort,
			MacaroonHex: cfg.LND.MacaroonHex,
			TLSData:     tlsData,
			Network:     lndclient.Network(strings.ToLower(cfg.Network)),
			Memo:        cfg.Memo,
			Expiry:      cfg.InvoiceExpiry,
		})
		if err != nil {
			return nil, err
		}
		cl.add(gw.Close)
		return gw, nil
	case config.LightningLNbits:
		return lnbits.New(cfg.LNbits.URL, cfg.LNbits.APIKey, cfg.Memo, client)
	case config.LightningAddress:
		params, err := networkParams(cfg.Network)
		if err != nil {
			return nil, err
		}
		return lnurl.New(
			cfg.Address,
			params,
			lnurl.WithHTTPClient(client),
			lnurl.WithExpiry(cfg.InvoiceExpiry),
		)
	}
	return nil, fmt.Errorf("unknown lightning backend %q", cfg.Backend)
}

func newLocker(ctx context.Context, cfg config.LeaseConfig, cl *closers) (guard.Locker, error) {
	switch cfg.Backend {
	case config.LeaseLocal:
		return guard.NewLocal(), nil
	case config.LeaseRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		cl.add(func() { _ = client.Close() })
		return redislock.New(client, cfg.TTL), nil
	}
	return nil, fmt.Errorf("unknown lease backend %q", cfg.Backend)
}

func newRegistry(services []config.ServiceConfig, client *http.Client) (*gobuffet.Registry, error) {
	reg := gobuffet.NewRegistry()
	for _, sc := range services {
		svc, err := upstream.New(sc.Config, client)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(svc); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func newAnnouncer(cfg *config.Config, reg *gobuffet.Registry, log logrus.FieldLogger, cl *closers) (*nostr.Announcer, error) {
	pool, err := nostr.NewRelayPool(cfg.Nostr.Relays, log)
	if err != nil {
		return nil, err
	}
	cl.add(pool.Close)

	var profile *nostr.ProfileMetadata
	if cfg.Nostr.Name != "" {
		profile = &nostr.ProfileMetadata{
			Name:    cfg.Nostr.Name,
			About:   cfg.Nostr.About,
			Picture: cfg.Nostr.Picture,
		}
	}

	return nostr.NewAnnouncer(nostr.Config{
		SecretKey: cfg.Nostr.SecretKey,
		Endpoint:  cfg.Server.PublicURL,
		Profile:   profile,
		Debug:     cfg.Nostr.Debug,
		Interval:  cfg.Nostr.Interval,
	}, reg, pool, log)
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 2 * time.Minute}
}
