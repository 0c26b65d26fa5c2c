package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/auctoritas/auctoritas"
	"github.com/auctoritas/auctoritas/events"
	"github.com/auctoritas/auctoritas/secret"
	"github.com/auctoritas/auctoritas/store/postgres"
	"github.com/auctoritas/auctoritas/tenant"
)

// stack is an engine with the connections it owns.
type stack struct {
	engine  *auctoritas.Engine
	store   *postgres.Store
	closers []func()
}

func (r *stack) Close() {
	if r.engine != nil {
		r.engine.Close()
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func openStore(ctx context.Context, cfg processConfig, logger *zap.Logger) (*postgres.Store, error) {
	if err := cfg.requireDatabase(); err != nil {
		return nil, err
	}
	pc := postgres.DefaultConfig()
	pc.DSN = cfg.DatabaseURL
	pc.MaxConns = cfg.DBMaxConns
	pc.LockTimeout = cfg.DBLockTimeout
	return postgres.Open(ctx, pc, logger)
}

// buildStack wires the Postgres store, tenant file, optional Redis
// throttle and optional AMQP publisher into an engine.
func buildStack(ctx context.Context, cfg processConfig, logger *zap.Logger) (*stack, error) {
	rt := &stack{}
	fail := func(err error) (*stack, error) {
		rt.Close()
		return nil, err
	}

	if cfg.PrivateKeyFile == "" {
		return nil, errors.New("AUCTORITAS_JWT_PRIVATE_KEY_FILE is required")
	}
	keyPEM, err := os.ReadFile(cfg.PrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	cipher, err := secret.NewFromBase64(cfg.SecretActiveKey, cfg.SecretKeys)
	if err != nil {
		return nil, err
	}
	tenants, err := tenant.LoadFile(cfg.TenantsFile)
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	rt.store = st
	rt.closers = append(rt.closers, st.Close)

	engineCfg := auctoritas.DefaultConfig()
	engineCfg.JWT.PrivateKey = keyPEM
	engineCfg.JWT.KeyID = cfg.KeyID
	engineCfg.JWT.Issuer = cfg.Issuer

	b := auctoritas.New().
		WithConfig(engineCfg).
		WithStore(st).
		WithTenantDirectory(tenants).
		WithSecretCipher(cipher).
		WithLogger(logger)

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fail(fmt.Errorf("redis ping: %w", err))
		}
		rt.closers = append(rt.closers, func() { _ = client.Close() })
		b.WithRedis(client)
	}

	publisher := events.Publisher(events.NewLogPublisher(logger))
	if cfg.AMQPURL != "" {
		ac := events.DefaultAMQPConfig()
		ac.URL = cfg.AMQPURL
		ac.Exchange = cfg.AMQPExchange
		amqpPub, err := events.DialAMQP(ac, logger)
		if err != nil {
			return fail(err)
		}
		rt.closers = append(rt.closers, func() { _ = amqpPub.Close() })
		publisher = events.Multi{amqpPub, publisher}
	}
	b.WithEventPublisher(publisher)

	engine, err := b.Build()
	if err != nil {
		return fail(err)
	}
	rt.engine = engine
	logger.Info("engine ready",
		zap.Int("tenants", tenants.Len()),
		zap.Bool("throttle", cfg.RedisAddr != ""),
		zap.Bool("amqp", cfg.AMQPURL != ""),
	)
	return rt, nil
}
