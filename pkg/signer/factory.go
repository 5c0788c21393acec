package signer

import (
	"context"
	"fmt"

	"github.com/speedrun-hq/tokenrunner/pkg/config"
	"github.com/speedrun-hq/tokenrunner/pkg/logger"
)

// New creates the signing backend selected by the configuration
func New(ctx context.Context, cfg config.SignerConfig, log logger.Logger) (Signer, error) {
	switch cfg.Kind {
	case config.SignerSeed:
		return OpenLocalSeed(cfg.SeedFile, cfg.SeedPassword, cfg.SeedPIN, NewHTTPCodec(cfg.CodecURL), log)
	case config.SignerHardware:
		return NewHardwareDevice(ctx, NewBridgeDevice(cfg.HardwareURL), NewHTTPCodec(cfg.CodecURL), log)
	case config.SignerMobile:
		return NewMobileWallet(MobileOptions{
			APIURL:    cfg.MobileAPIURL,
			APIKey:    cfg.MobileAPIKey,
			APISecret: cfg.MobileAPISecret,
			UserToken: cfg.MobileUserToken,
			Account:   cfg.MobileAccount,
		}, log), nil
	}
	return nil, fmt.Errorf("unknown signer %q", cfg.Kind)
}
