package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
)

type Config struct {
	CockroachURL      string        `ff:"long: cockroach-url, default: postgresql://root@127.0.0.1:26257/defaultdb?sslmode=disable, usage: URL for the CockroachDB database"`
	Port              uint32        `ff:"long: port, short: p, default: 4000, usage: Port for the HTTP server"`
	NATSURL           string        `ff:"long: nats-url, usage: NATS server URL for cross-node fan-out; empty runs an in-process bus"`
	TokenKey          string        `ff:"long: token-key, default: supersecretkeyyoushouldnotcommit, usage: 32 byte key to sign auth tokens"`
	PresenceGrace     time.Duration `ff:"long: presence-grace, default: 3s, usage: Grace period before a user with no connections is reported offline"`
	RingTimeout       time.Duration `ff:"long: ring-timeout, default: 45s, usage: Window before an unanswered call transitions to missed"`
	BackgroundTimeout time.Duration `ff:"long: background-timeout, default: 15s, usage: Timeout for background work such as web push delivery"`
	VAPIDPublicKey    string        `ff:"long: vapid-public-key, usage: VAPID public key for web push; empty disables push notifications"`
	VAPIDPrivateKey   string        `ff:"long: vapid-private-key, usage: VAPID private key for web push"`
	PushContact       string        `ff:"long: push-contact, default: mailto:ops@dyad.chat, usage: Contact address reported to push services"`
}

func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	fs := ff.NewFlagSetFrom("dyad", &cfg)
	err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("DYAD"))
	if errors.Is(err, ff.ErrHelp) {
		fmt.Println(ffhelp.Flags(fs))
		os.Exit(0)
	}

	return cfg, err
}
