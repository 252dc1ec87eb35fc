package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"

	"github.com/hthome/hiot/pkg/hiot"
	"github.com/hthome/hiot/pkg/log"
)

// hiot-households logs in and prints the households of the account along
// with the homepage summary so the site flags of the bridge can be filled in.
func main() {
	client, account := hiot.Configured(nil)
	lflag.Configure()

	level, err := log.LevelFromLLog(llog.GetLevel())
	if err != nil {
		panic(err)
	}
	log.SetDefaultLogLevel(level)

	ctx := context.Background()
	defer client.Close()

	if err := client.Login(ctx, account.Username, account.Password); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to login", slog.Any("error", err))
		os.Exit(1)
	}

	households, err := client.Households(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list households", slog.Any("error", err))
		os.Exit(1)
	}

	homepage, err := client.Homepage(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to get homepage", slog.Any("error", err))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(struct {
		Households []hiot.Household `json:"households"`
		Homepage   map[string]any   `json:"homepage,omitempty"`
	}{households, homepage}); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to write households", slog.Any("error", err))
		os.Exit(1)
	}
}
