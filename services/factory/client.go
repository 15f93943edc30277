// Package factory talks to the account factory that creates and funds new
// accounts for new-account redemptions.
package factory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"linkdrop/pkg/config"
	"linkdrop/pkg/logger"
	"linkdrop/services/linkdrop"

	"github.com/go-resty/resty/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("factory",
	fx.Provide(provideFactory),
)

// provideFactory falls back to the in-memory factory in development when no
// factory url is configured.
func provideFactory(cfg *config.Config) (linkdrop.AccountFactory, error) {
	if cfg.Factory.URL == "" && cfg.AppEnv == "development" {
		zap.L().Warn("factory.url not set, using in-memory account factory")
		return NewFake(), nil
	}
	return NewClient(cfg)
}

const createAccountPath = "/create_account"

var ErrFactoryUnavailable = errors.New("account factory unavailable")

type createAccountResponse struct {
	Created bool   `json:"created"`
	Reason  string `json:"reason,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Client struct {
	http *resty.Client
}

var _ linkdrop.AccountFactory = (*Client)(nil)

func NewClient(cfg *config.Config) (*Client, error) {
	if cfg.Factory.URL == "" {
		return nil, fmt.Errorf("factory.url is required")
	}

	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.Factory.URL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", cfg.AppName+"/"+cfg.AppVersion)
	if cfg.Factory.Timeout > 0 {
		c.SetTimeout(cfg.Factory.Timeout)
	}

	return &Client{http: c}, nil
}

// CreateAccount asks the factory to create and fund the account. A 4xx or a
// response with created=false is a rejection; transport failures and 5xx are
// returned as errors because the outcome is unknown.
func (c *Client) CreateAccount(ctx context.Context, req linkdrop.CreateAccountRequest) (linkdrop.FactoryResult, error) {
	log := logger.FromContext(ctx).With(
		zap.String("factory_account", req.FactoryAccount),
		zap.String("new_account_id", req.NewAccountID),
	)

	var (
		out    createAccountResponse
		failed errorResponse
	)

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&failed).
		Post(createAccountPath)
	if err != nil {
		log.Error("factory request failed", zap.Error(err))
		return linkdrop.FactoryResult{}, fmt.Errorf("%w: %v", ErrFactoryUnavailable, err)
	}

	switch {
	case resp.StatusCode() >= 500:
		log.Error("factory server error", zap.Int("status", resp.StatusCode()), zap.String("error", failed.Error))
		return linkdrop.FactoryResult{}, fmt.Errorf("%w: status %d", ErrFactoryUnavailable, resp.StatusCode())
	case resp.IsError():
		reason := failed.Error
		if reason == "" {
			reason = resp.Status()
		}
		log.Warn("factory rejected account", zap.Int("status", resp.StatusCode()), zap.String("reason", reason))
		return linkdrop.FactoryResult{Succeeded: false, Reason: reason}, nil
	case !out.Created:
		log.Warn("factory did not create account", zap.String("reason", out.Reason))
		return linkdrop.FactoryResult{Succeeded: false, Reason: out.Reason}, nil
	}

	log.Info("account created")
	return linkdrop.FactoryResult{Succeeded: true}, nil
}
