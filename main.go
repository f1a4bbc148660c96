package main

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/csrf"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	webauthnservice "github.com/attendkey/attendkey/auth/webauthn"
	"github.com/attendkey/attendkey/auth/webauthn/session"
	sessionmemory "github.com/attendkey/attendkey/auth/webauthn/session/memory"
	sessionredis "github.com/attendkey/attendkey/auth/webauthn/session/redis"
	"github.com/attendkey/attendkey/database"
	"github.com/attendkey/attendkey/database/user"
	"github.com/attendkey/attendkey/database/user/jsonfile"
	"github.com/attendkey/attendkey/database/user/sqlite"
	"github.com/attendkey/attendkey/handler"
	"github.com/attendkey/attendkey/jwt"
	"github.com/attendkey/attendkey/presence"
	presencememory "github.com/attendkey/attendkey/presence/memory"
	presencestore "github.com/attendkey/attendkey/presence/store"
	"github.com/attendkey/attendkey/utils"
)

var (
	version = "dev"

	listenAddress   string
	configPath      string
	rpID            string
	rpName          string
	rpOrigin        string
	counterPolicy   string
	dbBackend       string
	dbPath          string
	sessionBackend  string
	redisAddress    string
	presenceBackend string
	jwtSecret       string
	csrfKey         []byte
)

var app = &cli.App{
	Name:    "attendkey",
	Version: version,
	Usage:   "Track attendance with passkey check-ins.",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:        "listen.address",
			Usage:       "Address to listen on.",
			Destination: &listenAddress,
			Value:       ":3001",
			EnvVars:     []string{"LISTEN_ADDRESS"},
		},
		&cli.StringFlag{
			Name:        "config",
			Usage:       "Path to a yaml relying-party configuration, overrides the rp.* flags.",
			Destination: &configPath,
			EnvVars:     []string{"CONFIG_PATH"},
		},
		&cli.StringFlag{
			Name:        "rp.id",
			Usage:       "Relying party ID (the domain of the front end).",
			Destination: &rpID,
			Value:       "localhost",
			EnvVars:     []string{"RP_ID"},
		},
		&cli.StringFlag{
			Name:        "rp.name",
			Usage:       "Relying party display name.",
			Destination: &rpName,
			Value:       "AttendKey",
			EnvVars:     []string{"RP_NAME"},
		},
		&cli.StringFlag{
			Name:        "rp.origin",
			Usage:       "Trusted front-end origin.",
			Destination: &rpOrigin,
			Value:       "http://localhost:3000",
			EnvVars:     []string{"RP_ORIGIN"},
		},
		&cli.StringFlag{
			Name:        "counter.policy",
			Usage:       "What to do when an assertion's signature counter does not advance: strict or lenient.",
			Destination: &counterPolicy,
			Value:       string(webauthnservice.CounterPolicyStrict),
			EnvVars:     []string{"COUNTER_POLICY"},
		},
		&cli.StringFlag{
			Name:        "db.backend",
			Usage:       "User store backend: jsonfile or sqlite.",
			Destination: &dbBackend,
			Value:       "jsonfile",
			EnvVars:     []string{"DB_BACKEND"},
		},
		&cli.StringFlag{
			Name:        "db.path",
			Usage:       "Path to the user store file.",
			Destination: &dbPath,
			Value:       "users.json",
			EnvVars:     []string{"DB_PATH"},
		},
		&cli.StringFlag{
			Name:        "session.backend",
			Usage:       "Ceremony session store backend: memory or redis.",
			Destination: &sessionBackend,
			Value:       "memory",
			EnvVars:     []string{"SESSION_BACKEND"},
		},
		&cli.StringFlag{
			Name:        "redis.address",
			Usage:       "Address of the redis server for the session store.",
			Destination: &redisAddress,
			Value:       "localhost:6379",
			EnvVars:     []string{"REDIS_ADDRESS"},
		},
		&cli.StringFlag{
			Name:        "presence.backend",
			Usage:       "Presence tracker backend: memory (signed-in set) or store (persisted check-ins).",
			Destination: &presenceBackend,
			Value:       "memory",
			EnvVars:     []string{"PRESENCE_BACKEND"},
		},
		&cli.StringFlag{
			Name:        "jwt.secret",
			Usage:       "A unique string secret for session tokens. Empty disables the token cookie.",
			Destination: &jwtSecret,
			EnvVars:     []string{"JWT_SECRET"},
		},
		&cli.StringFlag{
			Name:  "csrf.secret",
			Usage: "A 32 bytes hex secret. Empty disables CSRF protection.",
			Action: func(ctx *cli.Context, s string) error {
				csrfKey = utils.Must(hex.DecodeString(s))
				return nil
			},
			EnvVars: []string{"CSRF_SECRET"},
		},
	},
	Suggest: true,
	Action: func(cCtx *cli.Context) error {
		log.Logger = log.Level(zerolog.DebugLevel)

		config := webauthnservice.Config{
			RPID:          rpID,
			RPDisplayName: rpName,
			RPOrigins:     []string{rpOrigin},
			CounterPolicy: webauthnservice.CounterPolicy(counterPolicy),
		}
		if configPath != "" {
			var err error
			if config, err = webauthnservice.ParseConfigFile(configPath); err != nil {
				return err
			}
		}
		webAuthn, err := config.WebAuthn()
		if err != nil {
			return err
		}

		var users user.Repository
		switch dbBackend {
		case "sqlite":
			db, err := database.Open(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := database.InitialMigration(db); err != nil {
				return err
			}
			users = sqlite.NewRepository(db)
		case "jsonfile":
			if users, err = jsonfile.NewStore(dbPath); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown db backend: %s", dbBackend)
		}

		var sessions session.Store
		switch sessionBackend {
		case "redis":
			sessions = sessionredis.NewStore(redis.NewClient(&redis.Options{
				Addr: redisAddress,
			}))
		case "memory":
			sessions = sessionmemory.NewStore()
		default:
			return fmt.Errorf("unknown session backend: %s", sessionBackend)
		}

		var tracker presence.Tracker
		switch presenceBackend {
		case "store":
			tracker = presencestore.NewTracker(users)
		case "memory":
			tracker = presencememory.NewTracker()
		default:
			return fmt.Errorf("unknown presence backend: %s", presenceBackend)
		}

		webauthnS := webauthnservice.New(
			webAuthn,
			users,
			sessions,
			tracker,
			jwt.Secret(jwtSecret),
			config.CounterPolicy,
		)
		attendance := handler.AttendanceService{
			Users:    users,
			Presence: tracker,
		}

		r := chi.NewRouter()
		r.Use(hlog.NewHandler(log.Logger))
		r.Use(handler.CORS(config.RPOrigins[0]))

		r.Post("/register-request", webauthnS.RegisterRequest())
		r.Post("/register", webauthnS.Register())
		r.Post("/login-request", webauthnS.LoginRequest())
		r.Post("/login", webauthnS.Login())
		r.Post("/attendance", attendance.Attendance())
		r.Post("/logout", attendance.Logout())
		r.Get("/current-users", attendance.CurrentUsers())
		r.Handle("/metrics", promhttp.Handler())

		var h http.Handler = r
		if len(csrfKey) > 0 {
			origin := utils.Must(url.Parse(config.RPOrigins[0]))
			h = csrf.Protect(
				csrfKey,
				csrf.TrustedOrigins([]string{origin.Host}),
				csrf.Secure(strings.HasPrefix(config.RPOrigins[0], "https://")),
			)(r)
		}

		log.Info().Str("address", listenAddress).Msg("listening")
		return http.ListenAndServe(listenAddress, h)
	},
}

func main() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")
	if err := app.Run(os.Args); err != nil {
		log.Fatal().AnErr("err", err).Msg("app crashed")
	}
}
