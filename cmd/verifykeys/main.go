// Command verifykeys checks that the configured OpenRouter and Stripe
// credentials work before the service is deployed.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/smallbiznis/tokenrelay/internal/billing/stripe"
	"github.com/smallbiznis/tokenrelay/internal/config"
	gatewaydomain "github.com/smallbiznis/tokenrelay/internal/gateway/domain"
	gatewayservice "github.com/smallbiznis/tokenrelay/internal/gateway/service"
	"go.uber.org/zap"
)

const probePrompt = `Say strictly "Hello"`

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	ok := checkOpenRouter(ctx, cfg)
	ok = checkStripe(ctx, cfg) && ok
	if !ok {
		return 1
	}
	return 0
}

func checkOpenRouter(ctx context.Context, cfg config.Config) bool {
	catalog, err := config.NewModelCatalogHolder()
	if err != nil {
		fail("model catalog", err)
		return false
	}
	gw := gatewayservice.NewService(gatewayservice.ServiceParam{
		Config:  cfg,
		Catalog: catalog,
		Log:     zap.NewNop(),
	})

	resp, err := gw.Prompt(ctx, gatewaydomain.PromptRequest{Message: probePrompt})
	if err != nil {
		fail("OpenRouter", err)
		return false
	}
	pass("OpenRouter", fmt.Sprintf("model %s replied %q (%d tokens)", resp.Model, strings.TrimSpace(resp.Content), resp.Usage.TotalTokens))
	return true
}

var errStripeKeyMissing = errors.New("STRIPE_API_KEY is not set")

// checkStripeKey rejects keys that cannot call the Stripe API.
func checkStripeKey(key string) error {
	switch {
	case key == "":
		return errStripeKeyMissing
	case strings.HasPrefix(key, "pk_"):
		return config.ErrPublishableStripeKey
	}
	return nil
}

func checkStripe(ctx context.Context, cfg config.Config) bool {
	key := strings.TrimSpace(cfg.Stripe.SecretKey)
	if err := checkStripeKey(key); err != nil {
		fail("Stripe", err)
		return false
	}

	client := stripe.NewClient(key, cfg.Stripe.BaseURL)
	if _, err := client.ListCustomers(ctx, 1); err != nil {
		fail("Stripe", err)
		return false
	}
	pass("Stripe", "listed customers")
	return true
}

func pass(name, detail string) {
	fmt.Printf("✅ %s: %s\n", name, detail)
}

func fail(name string, err error) {
	fmt.Printf("❌ %s: %v\n", name, err)
}
